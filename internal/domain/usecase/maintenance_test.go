package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingopipe/internal/domain/entity"
)

func newMaintenanceEnv() (*fakeJobRepo, *fakeMedia, *MaintenanceUseCase) {
	jobs := newFakeJobRepo()
	media := newFakeMedia()
	return jobs, media, NewMaintenanceUseCase(jobs, media, testLogger())
}

func TestSweepStaleFailsOnlyOldProcessingJobs(t *testing.T) {
	jobs, _, uc := newMaintenanceEnv()

	old := time.Now().Add(-45 * time.Minute)
	recent := time.Now().Add(-5 * time.Minute)

	stuck := pendingJob("stuck", "u1", entity.JobTranscribe)
	stuck.Status = entity.JobProcessing
	stuck.StartedAt = &old
	jobs.put(stuck)

	healthy := pendingJob("healthy", "u1", entity.JobTranscribe)
	healthy.Status = entity.JobProcessing
	healthy.StartedAt = &recent
	jobs.put(healthy)

	waiting := pendingJob("waiting", "u1", entity.JobTranscribe)
	jobs.put(waiting)

	n, err := uc.SweepStale(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	swept, _ := jobs.Get(context.Background(), "stuck")
	assert.Equal(t, entity.JobFailed, swept.Status)
	assert.Contains(t, swept.ErrorMessage, "timed out")

	// A swept job is an ordinary failed job and can be dispatched again.
	assert.True(t, swept.Dispatchable())

	untouched, _ := jobs.Get(context.Background(), "healthy")
	assert.Equal(t, entity.JobProcessing, untouched.Status)
	stillWaiting, _ := jobs.Get(context.Background(), "waiting")
	assert.Equal(t, entity.JobPending, stillWaiting.Status)
}

func TestCleanupExpiredDeletesJobAndArtifact(t *testing.T) {
	jobs, media, uc := newMaintenanceEnv()

	past := time.Now().Add(-8 * 24 * time.Hour)
	expired := pendingJob("old", "u1", entity.JobTranscribe)
	expired.Status = entity.JobCompleted
	expired.CompletedAt = &past
	expired.OutputKey = "users/u1/outputs/old/transcript.json"
	jobs.put(expired)
	media.objects[expired.OutputKey] = []byte("{}")

	fresh := pendingJob("fresh", "u1", entity.JobTranscribe)
	now := time.Now()
	fresh.Status = entity.JobCompleted
	fresh.CompletedAt = &now
	jobs.put(fresh)

	deleted, err := uc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = jobs.Get(context.Background(), "old")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotContains(t, media.objects, expired.OutputKey)

	_, err = jobs.Get(context.Background(), "fresh")
	assert.NoError(t, err)
}

func TestCleanupExpiredSurvivesStorageFailure(t *testing.T) {
	jobs, media, uc := newMaintenanceEnv()

	past := time.Now().Add(-8 * 24 * time.Hour)
	expired := pendingJob("old", "u1", entity.JobTranscribe)
	expired.Status = entity.JobCompleted
	expired.CompletedAt = &past
	expired.OutputKey = "users/u1/outputs/old/audio.wav"
	jobs.put(expired)
	media.removeErr = errors.New("storage is on fire")

	deleted, err := uc.CleanupExpired(context.Background())
	require.NoError(t, err)

	// The record still goes; the artifact is an orphan to reconcile later.
	assert.Equal(t, 1, deleted)
	_, err = jobs.Get(context.Background(), "old")
	assert.ErrorIs(t, err, ErrNotFound)
}
