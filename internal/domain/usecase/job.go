package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lingopipe/internal/domain/entity"
)

type JobRepo interface {
	Create(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, jobID string) (*entity.Job, error)
	GetForUser(ctx context.Context, jobID, userID string) (*entity.Job, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]entity.Job, error)
	// MarkProcessing transitions the job to processing only if it is still
	// pending or failed, persisting the computed cost and task handle in the
	// same conditional update.
	MarkProcessing(ctx context.Context, jobID string, creditCost int64, taskID string) error
	// UpdateProgress persists phase/step/progress; it never lets progress
	// regress and is a no-op once the job has left processing.
	UpdateProgress(ctx context.Context, jobID string, phase entity.JobPhase, step string, progress float64) error
	Complete(ctx context.Context, jobID, outputKey string, result entity.JobResult) (*entity.Job, error)
	Fail(ctx context.Context, jobID, message string) error
	FailStale(ctx context.Context, startedBefore time.Time, message string) (int64, error)
	ListCompletedBefore(ctx context.Context, completedBefore time.Time, limit int) ([]entity.Job, error)
	Delete(ctx context.Context, jobID string) error
}

type UserRepo interface {
	GetUser(ctx context.Context, userID string) (*entity.User, error)
}

type MediaStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Reader(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}

// ProgressFeed fans live snapshots out to streaming clients.
type ProgressFeed interface {
	PublishSnapshot(ctx context.Context, snap entity.JobSnapshot) error
	Subscribe(ctx context.Context, jobID string) (<-chan entity.JobSnapshot, func(), error)
	// LatestSnapshot returns the most recently published snapshot for the
	// job, or nil when none is cached.
	LatestSnapshot(ctx context.Context, jobID string) (*entity.JobSnapshot, error)
}

// JobUseCase covers creation and owner-scoped reads of jobs.
type JobUseCase struct {
	Jobs  JobRepo
	Media MediaStore
	Feed  ProgressFeed
	log   *logrus.Logger
}

func NewJobUseCase(jobs JobRepo, media MediaStore, feed ProgressFeed, log *logrus.Logger) *JobUseCase {
	return &JobUseCase{Jobs: jobs, Media: media, Feed: feed, log: log}
}

// CreateJob validates the typed params and the canonical input key, then
// records a pending job. No credits are touched here.
func (u *JobUseCase) CreateJob(ctx context.Context, userID string, jobType entity.JobType, inputKey string, rawParams json.RawMessage) (*entity.Job, error) {
	params, err := entity.DecodeJobParams(jobType, rawParams)
	if err != nil {
		return nil, err
	}

	ok, err := u.Media.Exists(ctx, inputKey)
	if err != nil {
		return nil, fmt.Errorf("check input: %w", err)
	}
	if !ok {
		return nil, ErrInputNotFound
	}

	job := &entity.Job{
		ID:       uuid.New().String(),
		UserID:   userID,
		JobType:  jobType,
		InputKey: inputKey,
		Status:   entity.JobPending,
		Phase:    entity.PhasePending,
		Params:   params,
	}

	if err := u.Jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	u.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"user_id":  userID,
		"job_type": jobType,
	}).Info("job created")

	return job, nil
}

func (u *JobUseCase) GetJob(ctx context.Context, jobID, userID string) (*entity.Job, error) {
	return u.Jobs.GetForUser(ctx, jobID, userID)
}

func (u *JobUseCase) ListJobs(ctx context.Context, userID string, limit int) ([]entity.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return u.Jobs.ListForUser(ctx, userID, limit)
}

// DownloadURL returns a presigned URL for a completed job's output.
func (u *JobUseCase) DownloadURL(ctx context.Context, jobID, userID string) (string, error) {
	job, err := u.Jobs.GetForUser(ctx, jobID, userID)
	if err != nil {
		return "", err
	}
	if job.Status != entity.JobCompleted || job.OutputKey == "" {
		return "", ErrConflictingState
	}
	return u.Media.PresignedURL(ctx, job.OutputKey, 24*time.Hour)
}

// WatchJob subscribes to live snapshots for a job the caller owns. The last
// cached snapshot, if any, is delivered ahead of the live feed so a client
// that connects between two publishes does not start from a stale view.
func (u *JobUseCase) WatchJob(ctx context.Context, jobID, userID string) (<-chan entity.JobSnapshot, func(), error) {
	if _, err := u.Jobs.GetForUser(ctx, jobID, userID); err != nil {
		return nil, nil, err
	}

	live, stop, err := u.Feed.Subscribe(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	cached, err := u.Feed.LatestSnapshot(ctx, jobID)
	if err != nil {
		u.log.WithError(err).WithField("job_id", jobID).Warn("failed to read cached snapshot")
	}
	if cached == nil {
		return live, stop, nil
	}

	out := make(chan entity.JobSnapshot, 1)
	out <- *cached
	go func() {
		defer close(out)
		for snap := range live {
			out <- snap
		}
	}()
	return out, stop, nil
}
