package psql

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingopipe/internal/domain/entity"
	"lingopipe/internal/domain/usecase"
)

func TestMarkProcessingWinsOnce(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepo(db)
	user := seedUser(t, db, 100)
	job := seedJob(t, db, user.ID, entity.JobPending)
	ctx := context.Background()

	require.NoError(t, repo.MarkProcessing(ctx, job.ID, 10, "task-1"))

	// A second dispatcher racing on the same job loses.
	err := repo.MarkProcessing(ctx, job.ID, 10, "task-2")
	assert.ErrorIs(t, err, usecase.ErrConflictingState)

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobProcessing, got.Status)
	assert.Equal(t, "task-1", got.TaskID)
	require.NotNil(t, got.CreditCost)
	assert.EqualValues(t, 10, *got.CreditCost)
	assert.NotNil(t, got.StartedAt)
}

func TestMarkProcessingUnknownJob(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepo(db)

	err := repo.MarkProcessing(context.Background(), "11111111-1111-1111-1111-111111111111", 10, "task-1")
	assert.ErrorIs(t, err, usecase.ErrNotFound)
}

func TestMarkProcessingResetsFailedJob(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepo(db)
	user := seedUser(t, db, 100)
	job := seedJob(t, db, user.ID, entity.JobPending)
	ctx := context.Background()

	require.NoError(t, repo.MarkProcessing(ctx, job.ID, 10, "task-1"))
	require.NoError(t, repo.UpdateProgress(ctx, job.ID, entity.PhaseTranscribing, "Transcribing audio", 40))
	require.NoError(t, repo.Fail(ctx, job.ID, "model server down"))

	require.NoError(t, repo.MarkProcessing(ctx, job.ID, 12, "task-2"))

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobProcessing, got.Status)
	assert.Equal(t, entity.PhasePending, got.Phase)
	assert.Zero(t, got.Progress)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, "task-2", got.TaskID)
	require.NotNil(t, got.CreditCost)
	assert.EqualValues(t, 12, *got.CreditCost)
}

func TestUpdateProgressNeverRegresses(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepo(db)
	user := seedUser(t, db, 100)
	job := seedJob(t, db, user.ID, entity.JobPending)
	ctx := context.Background()

	require.NoError(t, repo.MarkProcessing(ctx, job.ID, 10, "task-1"))
	require.NoError(t, repo.UpdateProgress(ctx, job.ID, entity.PhaseTranslating, "Translating", 60))

	// A late out-of-order update must not pull the percentage back.
	require.NoError(t, repo.UpdateProgress(ctx, job.ID, entity.PhaseTranscribing, "Transcribing audio", 20))

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 60, got.Progress)
	assert.Equal(t, entity.PhaseTranslating, got.Phase)
}

func TestUpdateProgressNoopAfterTerminalState(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepo(db)
	user := seedUser(t, db, 100)
	job := seedJob(t, db, user.ID, entity.JobPending)
	ctx := context.Background()

	require.NoError(t, repo.MarkProcessing(ctx, job.ID, 10, "task-1"))
	_, err := repo.Complete(ctx, job.ID, "users/u/outputs/j/out.json", entity.JobResult{})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProgress(ctx, job.ID, entity.PhaseTranscribing, "late write", 101))

	got, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, got.Status)
	assert.EqualValues(t, 100, got.Progress)
	assert.Equal(t, "Completed", got.CurrentStep)
}

func TestCompleteRecordsResult(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepo(db)
	user := seedUser(t, db, 100)
	job := seedJob(t, db, user.ID, entity.JobPending)
	ctx := context.Background()

	require.NoError(t, repo.MarkProcessing(ctx, job.ID, 10, "task-1"))

	done, err := repo.Complete(ctx, job.ID, "users/u/outputs/j/transcript.json", entity.JobResult{
		DetectedLanguage: "en",
		SegmentsCount:    7,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.JobCompleted, done.Status)
	assert.Equal(t, entity.PhaseCompleted, done.Phase)
	assert.Equal(t, "en", done.Result.DetectedLanguage)
	assert.Equal(t, 7, done.Result.SegmentsCount)
	assert.NotNil(t, done.CompletedAt)

	// Completing twice means someone else moved the job underneath us.
	_, err = repo.Complete(ctx, job.ID, "users/u/outputs/j/transcript.json", entity.JobResult{})
	assert.ErrorIs(t, err, usecase.ErrConflictingState)
}

func TestFailStaleSweepsOnlyExpiredProcessing(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepo(db)
	user := seedUser(t, db, 100)
	ctx := context.Background()

	stuck := seedJob(t, db, user.ID, entity.JobPending)
	require.NoError(t, repo.MarkProcessing(ctx, stuck.ID, 10, "task-1"))
	old := time.Now().UTC().Add(-45 * time.Minute)
	require.NoError(t, db.Model(&entity.Job{}).Where("id = ?", stuck.ID).UpdateColumn("started_at", old).Error)

	fresh := seedJob(t, db, user.ID, entity.JobPending)
	require.NoError(t, repo.MarkProcessing(ctx, fresh.ID, 10, "task-2"))

	n, err := repo.FailStale(ctx, time.Now().UTC().Add(-30*time.Minute), "Job processing timed out after 30 minutes")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	swept, err := repo.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobFailed, swept.Status)
	assert.True(t, swept.Dispatchable())

	untouched, err := repo.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobProcessing, untouched.Status)
}

func TestListCompletedBeforeAndDelete(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepo(db)
	user := seedUser(t, db, 100)
	ctx := context.Background()

	job := seedJob(t, db, user.ID, entity.JobPending)
	require.NoError(t, repo.MarkProcessing(ctx, job.ID, 10, "task-1"))
	_, err := repo.Complete(ctx, job.ID, "users/u/outputs/j/out.json", entity.JobResult{})
	require.NoError(t, err)

	past := time.Now().UTC().Add(-8 * 24 * time.Hour)
	require.NoError(t, db.Model(&entity.Job{}).Where("id = ?", job.ID).UpdateColumn("completed_at", past).Error)

	expired, err := repo.ListCompletedBefore(ctx, time.Now().UTC().Add(-7*24*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	require.NoError(t, repo.Delete(ctx, job.ID))
	_, err = repo.Get(ctx, job.ID)
	assert.ErrorIs(t, err, usecase.ErrNotFound)
}

func TestGetForUserScopesOwnership(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepo(db)
	owner := seedUser(t, db, 100)
	other := seedUser(t, db, 100)
	job := seedJob(t, db, owner.ID, entity.JobPending)

	got, err := repo.GetForUser(context.Background(), job.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = repo.GetForUser(context.Background(), job.ID, other.ID)
	assert.ErrorIs(t, err, usecase.ErrNotFound)
}
