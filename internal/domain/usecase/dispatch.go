package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lingopipe/internal/domain/entity"
	"lingopipe/internal/metrics"
)

type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	// DebitForJob appends at most one deduction per job id; a replay returns
	// ErrAlreadyCharged without touching the balance.
	DebitForJob(ctx context.Context, userID, jobID string, amount int64, reason string) (int64, error)
	Credit(ctx context.Context, userID string, amount int64, txType entity.TransactionType, reason string) (int64, error)
	History(ctx context.Context, userID string, limit int) ([]entity.CreditTransaction, error)
}

type TaskPublisher interface {
	PublishTask(ctx context.Context, msg entity.JobTaskMessage, priority uint8) error
}

// MediaProber yields the duration of a media object; used at dispatch time to
// price per-minute job types.
type MediaProber interface {
	Probe(ctx context.Context, source string) (MediaInfo, error)
}

type MediaInfo struct {
	DurationSeconds float64
	HasAudio        bool
	Format          string
}

// DispatchUseCase validates preconditions, prices the job, transitions it to
// processing and enqueues it. Steps 4-6 of the flow are guarded by the job
// repo's conditional update, so concurrent dispatches of the same job cannot
// both pass.
type DispatchUseCase struct {
	Jobs      JobRepo
	Users     UserRepo
	Ledger    Ledger
	Media     MediaStore
	Queue     TaskPublisher
	Prober    MediaProber
	Estimator *Estimator
	log       *logrus.Logger
}

func NewDispatchUseCase(jobs JobRepo, users UserRepo, ledger Ledger, media MediaStore, queue TaskPublisher, prober MediaProber, est *Estimator, log *logrus.Logger) *DispatchUseCase {
	return &DispatchUseCase{
		Jobs:      jobs,
		Users:     users,
		Ledger:    ledger,
		Media:     media,
		Queue:     queue,
		Prober:    prober,
		Estimator: est,
		log:       log,
	}
}

// Dispatch accepts a pending or failed job for asynchronous execution and
// returns once it is queued. The caller polls or streams for progress.
func (u *DispatchUseCase) Dispatch(ctx context.Context, jobID, userID string) (*entity.Job, error) {
	job, err := u.Jobs.GetForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if !job.Dispatchable() {
		return nil, ErrConflictingState
	}

	ok, err := u.Media.Exists(ctx, job.InputKey)
	if err != nil {
		return nil, fmt.Errorf("resolve input: %w", err)
	}
	if !ok {
		return nil, ErrInputNotFound
	}

	cost := u.estimateCost(ctx, job)

	balance, err := u.Ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		u.log.WithFields(logrus.Fields{
			"job_id":  jobID,
			"user_id": userID,
			"cost":    cost,
			"balance": balance,
		}).Warn("dispatch rejected: insufficient credits")
		return nil, ErrInsufficientCredits
	}

	taskID := uuid.New().String()

	// Conditional update: only one dispatcher can move the job out of
	// pending/failed. The loser sees ErrConflictingState.
	if err := u.Jobs.MarkProcessing(ctx, jobID, cost, taskID); err != nil {
		return nil, err
	}

	user, err := u.Users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	msg := entity.JobTaskMessage{
		TaskID:   taskID,
		JobID:    job.ID,
		UserID:   userID,
		JobType:  job.JobType,
		InputKey: job.InputKey,
	}
	if err := u.Queue.PublishTask(ctx, msg, entity.PriorityForRole(user.Role)); err != nil {
		// The job is already marked processing; the stale sweep will
		// reclaim it if the broker stays unreachable.
		u.log.WithError(err).WithField("job_id", jobID).Error("enqueue failed")
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	u.log.WithFields(logrus.Fields{
		"job_id":   jobID,
		"user_id":  userID,
		"job_type": job.JobType,
		"cost":     cost,
		"priority": entity.PriorityForRole(user.Role),
	}).Info("job dispatched")
	metrics.JobsDispatched.WithLabelValues(string(job.JobType)).Inc()

	job, err = u.Jobs.GetForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// estimateCost resolves the media duration for per-minute job types. A
// metadata-declared duration wins; otherwise the input is probed through a
// short-lived presigned URL. Unknown durations fall back to the estimator's
// default rather than failing the dispatch.
func (u *DispatchUseCase) estimateCost(ctx context.Context, job *entity.Job) int64 {
	if job.JobType == entity.JobTranslate {
		return u.Estimator.Estimate(job.JobType, 0)
	}

	var duration float64
	if vp := job.Params.VideoTranslate; vp != nil && vp.DurationSeconds > 0 {
		duration = vp.DurationSeconds
	} else {
		url, err := u.Media.PresignedURL(ctx, job.InputKey, 5*time.Minute)
		if err == nil {
			if info, err := u.Prober.Probe(ctx, url); err == nil {
				duration = info.DurationSeconds
			} else {
				u.log.WithError(err).WithField("job_id", job.ID).Warn("probe failed, using default duration")
			}
		}
	}

	return u.Estimator.Estimate(job.JobType, duration)
}
