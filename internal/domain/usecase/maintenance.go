package usecase

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"lingopipe/internal/metrics"
)

const staleJobMessage = "Job processing timed out after 30 minutes"

// MaintenanceUseCase owns the two background sweeps: force-failing stuck
// jobs and deleting expired completed jobs with their output artifacts.
type MaintenanceUseCase struct {
	Jobs       JobRepo
	Media      MediaStore
	StaleAfter time.Duration
	RetainFor  time.Duration
	log        *logrus.Logger
}

func NewMaintenanceUseCase(jobs JobRepo, media MediaStore, log *logrus.Logger) *MaintenanceUseCase {
	return &MaintenanceUseCase{
		Jobs:       jobs,
		Media:      media,
		StaleAfter: 30 * time.Minute,
		RetainFor:  7 * 24 * time.Hour,
		log:        log,
	}
}

// SweepStale force-fails jobs stuck in processing past the ceiling. A swept
// job is a normal failed job afterwards and can be re-dispatched.
func (u *MaintenanceUseCase) SweepStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-u.StaleAfter)
	n, err := u.Jobs.FailStale(ctx, cutoff, staleJobMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		u.log.WithField("count", n).Warn("swept stale jobs")
		metrics.StaleJobsSwept.Add(float64(n))
	}
	return n, nil
}

// CleanupExpired deletes completed jobs past the retention window. Output
// deletion is best-effort: a storage failure is logged and the record is
// removed anyway.
func (u *MaintenanceUseCase) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-u.RetainFor)
	jobs, err := u.Jobs.ListCompletedBefore(ctx, cutoff, 500)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, job := range jobs {
		if job.OutputKey != "" {
			if err := u.Media.Remove(ctx, job.OutputKey); err != nil {
				u.log.WithError(err).WithField("job_id", job.ID).Warn("failed to delete output artifact")
			}
		}
		if err := u.Jobs.Delete(ctx, job.ID); err != nil {
			u.log.WithError(err).WithField("job_id", job.ID).Error("failed to delete job record")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		u.log.WithField("count", deleted).Info("cleaned up expired jobs")
	}
	return deleted, nil
}

// Run drives both sweeps until the context is cancelled.
func (u *MaintenanceUseCase) Run(ctx context.Context, sweepEvery, cleanupEvery time.Duration) {
	sweep := time.NewTicker(sweepEvery)
	cleanup := time.NewTicker(cleanupEvery)
	defer sweep.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if _, err := u.SweepStale(ctx); err != nil {
				u.log.WithError(err).Error("stale sweep failed")
			}
		case <-cleanup.C:
			if _, err := u.CleanupExpired(ctx); err != nil {
				u.log.WithError(err).Error("retention cleanup failed")
			}
		}
	}
}
