package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"lingopipe/internal/domain/entity"
)

const snapshotTTL = time.Hour

// ProgressRepo mirrors job snapshots into redis and fans them out over
// pub/sub for the SSE streaming surface. The relational store stays the
// source of truth; this is a live view.
type ProgressRepo struct {
	client *redis.Client
}

func NewProgressRepo(client *redis.Client) *ProgressRepo {
	return &ProgressRepo{client: client}
}

func snapshotKey(jobID string) string { return "job_snapshot:" + jobID }
func channelKey(jobID string) string  { return "job_events:" + jobID }

func (r *ProgressRepo) PublishSnapshot(ctx context.Context, snap entity.JobSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, snapshotKey(snap.JobID), data, snapshotTTL).Err(); err != nil {
		return err
	}
	return r.client.Publish(ctx, channelKey(snap.JobID), data).Err()
}

// Subscribe yields snapshots published for the job until the context is
// cancelled or the returned stop function is called.
func (r *ProgressRepo) Subscribe(ctx context.Context, jobID string) (<-chan entity.JobSnapshot, func(), error) {
	sub := r.client.Subscribe(ctx, channelKey(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan entity.JobSnapshot, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var snap entity.JobSnapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				continue
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() { _ = sub.Close() }
	return out, stop, nil
}

// LatestSnapshot returns the cached snapshot, if any.
func (r *ProgressRepo) LatestSnapshot(ctx context.Context, jobID string) (*entity.JobSnapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var snap entity.JobSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
