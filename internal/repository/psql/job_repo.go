package psql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"lingopipe/internal/domain/entity"
	"lingopipe/internal/domain/usecase"
)

type JobRepo struct {
	db *gorm.DB
}

func NewJobRepo(db *gorm.DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Create(ctx context.Context, job *entity.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *JobRepo) Get(ctx context.Context, jobID string) (*entity.Job, error) {
	var job entity.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, usecase.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// GetForUser scopes the read to the owner; a foreign job id looks exactly
// like a missing one.
func (r *JobRepo) GetForUser(ctx context.Context, jobID, userID string) (*entity.Job, error) {
	var job entity.Job
	err := r.db.WithContext(ctx).First(&job, "id = ? AND user_id = ?", jobID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, usecase.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *JobRepo) ListForUser(ctx context.Context, userID string, limit int) ([]entity.Job, error) {
	var jobs []entity.Job
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// MarkProcessing is the dispatch compare-and-swap: the update only applies
// while the job is still pending or failed, so exactly one of two racing
// dispatchers wins and the other gets ErrConflictingState.
func (r *JobRepo) MarkProcessing(ctx context.Context, jobID string, creditCost int64, taskID string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status IN ?", jobID, []entity.JobStatus{entity.JobPending, entity.JobFailed}).
		Updates(map[string]any{
			"status":              entity.JobProcessing,
			"phase":               entity.PhasePending,
			"progress_percentage": 0.0,
			"current_step":        "Queued for processing",
			"credit_cost":         creditCost,
			"task_id":             taskID,
			"error_message":       "",
			"output_key":          "",
			"started_at":          now,
			"completed_at":        nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, jobID); err != nil {
			return err
		}
		return usecase.ErrConflictingState
	}
	return nil
}

// UpdateProgress persists a phase milestone. The progress guard keeps the
// externally observable percentage monotonic, and the status guard makes the
// write a no-op once the job left processing (completed, failed or swept).
func (r *JobRepo) UpdateProgress(ctx context.Context, jobID string, phase entity.JobPhase, step string, progress float64) error {
	return r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ? AND progress_percentage <= ?", jobID, entity.JobProcessing, progress).
		Updates(map[string]any{
			"phase":               phase,
			"current_step":        step,
			"progress_percentage": progress,
		}).Error
}

func (r *JobRepo) Complete(ctx context.Context, jobID, outputKey string, result entity.JobResult) (*entity.Job, error) {
	// Map-style updates bypass gorm's field serializer, so the result
	// column gets its JSON form by hand.
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ?", jobID, entity.JobProcessing).
		Updates(map[string]any{
			"status":              entity.JobCompleted,
			"phase":               entity.PhaseCompleted,
			"progress_percentage": 100.0,
			"current_step":        "Completed",
			"output_key":          outputKey,
			"result":              string(resultJSON),
			"completed_at":        now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Swept or re-dispatched underneath us.
		if _, err := r.Get(ctx, jobID); err != nil {
			return nil, err
		}
		return nil, usecase.ErrConflictingState
	}
	return r.Get(ctx, jobID)
}

func (r *JobRepo) Fail(ctx context.Context, jobID, message string) error {
	return r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ? AND status = ?", jobID, entity.JobProcessing).
		Updates(map[string]any{
			"status":              entity.JobFailed,
			"phase":               entity.PhaseFailed,
			"progress_percentage": 0.0,
			"current_step":        "Failed",
			"error_message":       message,
		}).Error
}

// FailStale force-fails every job that has been processing since before the
// cutoff. Uses started_at, not created_at, so re-dispatched jobs get a full
// window each attempt.
func (r *JobRepo) FailStale(ctx context.Context, startedBefore time.Time, message string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("status = ? AND started_at < ?", entity.JobProcessing, startedBefore).
		Updates(map[string]any{
			"status":              entity.JobFailed,
			"phase":               entity.PhaseFailed,
			"progress_percentage": 0.0,
			"current_step":        "Timed out",
			"error_message":       message,
		})
	return res.RowsAffected, res.Error
}

func (r *JobRepo) ListCompletedBefore(ctx context.Context, completedBefore time.Time, limit int) ([]entity.Job, error) {
	var jobs []entity.Job
	err := r.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", entity.JobCompleted, completedBefore).
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *JobRepo) Delete(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Delete(&entity.Job{}, "id = ?", jobID).Error
}
