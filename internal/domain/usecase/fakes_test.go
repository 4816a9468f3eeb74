package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"lingopipe/internal/domain/entity"
)

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*entity.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]*entity.Job{}}
}

func cloneJob(j *entity.Job) *entity.Job {
	c := *j
	return &c
}

func (f *fakeJobRepo) put(job *entity.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = cloneJob(job)
}

func (f *fakeJobRepo) Create(_ context.Context, job *entity.Job) error {
	f.put(job)
	return nil
}

func (f *fakeJobRepo) Get(_ context.Context, jobID string) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (f *fakeJobRepo) GetForUser(ctx context.Context, jobID, userID string) (*entity.Job, error) {
	job, err := f.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (f *fakeJobRepo) ListForUser(_ context.Context, userID string, limit int) ([]entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.Job
	for _, job := range f.jobs {
		if job.UserID == userID && len(out) < limit {
			out = append(out, *cloneJob(job))
		}
	}
	return out, nil
}

func (f *fakeJobRepo) MarkProcessing(_ context.Context, jobID string, creditCost int64, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if !job.Dispatchable() {
		return ErrConflictingState
	}
	now := time.Now().UTC()
	job.Status = entity.JobProcessing
	job.Phase = entity.PhasePending
	job.Progress = 0
	job.CurrentStep = "Queued for processing"
	job.CreditCost = &creditCost
	job.TaskID = taskID
	job.ErrorMessage = ""
	job.OutputKey = ""
	job.StartedAt = &now
	job.CompletedAt = nil
	return nil
}

func (f *fakeJobRepo) UpdateProgress(_ context.Context, jobID string, phase entity.JobPhase, step string, progress float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.Status != entity.JobProcessing || job.Progress > progress {
		return nil
	}
	job.Phase = phase
	job.CurrentStep = step
	job.Progress = progress
	return nil
}

func (f *fakeJobRepo) Complete(_ context.Context, jobID, outputKey string, result entity.JobResult) (*entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != entity.JobProcessing {
		return nil, ErrConflictingState
	}
	now := time.Now().UTC()
	job.Status = entity.JobCompleted
	job.Phase = entity.PhaseCompleted
	job.Progress = 100
	job.CurrentStep = "Completed"
	job.OutputKey = outputKey
	job.Result = result
	job.CompletedAt = &now
	return cloneJob(job), nil
}

func (f *fakeJobRepo) Fail(_ context.Context, jobID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.Status != entity.JobProcessing {
		return nil
	}
	job.Status = entity.JobFailed
	job.Phase = entity.PhaseFailed
	job.Progress = 0
	job.CurrentStep = "Failed"
	job.ErrorMessage = message
	return nil
}

func (f *fakeJobRepo) FailStale(_ context.Context, startedBefore time.Time, message string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, job := range f.jobs {
		if job.Status == entity.JobProcessing && job.StartedAt != nil && job.StartedAt.Before(startedBefore) {
			job.Status = entity.JobFailed
			job.Phase = entity.PhaseFailed
			job.ErrorMessage = message
			n++
		}
	}
	return n, nil
}

func (f *fakeJobRepo) ListCompletedBefore(_ context.Context, completedBefore time.Time, limit int) ([]entity.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.Job
	for _, job := range f.jobs {
		if job.Status == entity.JobCompleted && job.CompletedAt != nil && job.CompletedAt.Before(completedBefore) && len(out) < limit {
			out = append(out, *cloneJob(job))
		}
	}
	return out, nil
}

func (f *fakeJobRepo) Delete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, jobID)
	return nil
}

type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	charged  map[string]int64
	history  []entity.CreditTransaction
	debitErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]int64{}, charged: map[string]int64{}}
}

func (f *fakeLedger) Balance(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return balance, nil
}

func (f *fakeLedger) DebitForJob(_ context.Context, userID, jobID string, amount int64, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.debitErr != nil {
		return 0, f.debitErr
	}
	if _, ok := f.charged[jobID]; ok {
		return 0, ErrAlreadyCharged
	}
	if f.balances[userID] < amount {
		return 0, ErrInsufficientCredits
	}
	f.balances[userID] -= amount
	f.charged[jobID] = amount
	return f.balances[userID], nil
}

func (f *fakeLedger) Credit(_ context.Context, userID string, amount int64, txType entity.TransactionType, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[userID] += txType.SignedEffect(amount)
	if f.balances[userID] < 0 {
		f.balances[userID] = 0
	}
	return f.balances[userID], nil
}

func (f *fakeLedger) History(_ context.Context, _ string, _ int) ([]entity.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

type fakeUsers struct {
	users map[string]*entity.User
}

func (f *fakeUsers) GetUser(_ context.Context, userID string) (*entity.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return user, nil
}

type fakeMedia struct {
	mu        sync.Mutex
	objects   map[string][]byte
	removeErr error
	removed   []string
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{objects: map[string][]byte{}}
}

func (f *fakeMedia) Upload(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeMedia) Reader(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeMedia) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeMedia) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.local/" + key + "?signed=1", nil
}

func (f *fakeMedia) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.objects, key)
	f.removed = append(f.removed, key)
	return nil
}

type fakeFeed struct {
	mu        sync.Mutex
	snapshots []entity.JobSnapshot
}

func (f *fakeFeed) PublishSnapshot(_ context.Context, snap entity.JobSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeFeed) Subscribe(_ context.Context, _ string) (<-chan entity.JobSnapshot, func(), error) {
	ch := make(chan entity.JobSnapshot)
	return ch, func() { close(ch) }, nil
}

func (f *fakeFeed) LatestSnapshot(_ context.Context, jobID string) (*entity.JobSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.snapshots) - 1; i >= 0; i-- {
		if f.snapshots[i].JobID == jobID {
			snap := f.snapshots[i]
			return &snap, nil
		}
	}
	return nil, nil
}

func (f *fakeFeed) last() (entity.JobSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snapshots) == 0 {
		return entity.JobSnapshot{}, false
	}
	return f.snapshots[len(f.snapshots)-1], true
}

type fakeQueue struct {
	mu         sync.Mutex
	msgs       []entity.JobTaskMessage
	priorities []uint8
	publishErr error
}

func (f *fakeQueue) PublishTask(_ context.Context, msg entity.JobTaskMessage, priority uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.msgs = append(f.msgs, msg)
	f.priorities = append(f.priorities, priority)
	return nil
}

type fakeProber struct {
	info  MediaInfo
	err   error
	calls int
}

func (f *fakeProber) Probe(_ context.Context, _ string) (MediaInfo, error) {
	f.calls++
	if f.err != nil {
		return MediaInfo{}, f.err
	}
	return f.info, nil
}

// fakeTranscoder stands in for ffmpeg; extracted and merged files carry
// recognizable markers so tests can assert which path produced the output.
type fakeTranscoder struct {
	fakeProber
	extractErr error
	mergeErr   error
}

func (f *fakeTranscoder) ExtractAudio(_ context.Context, _, audioPath string) error {
	if f.extractErr != nil {
		return f.extractErr
	}
	return os.WriteFile(audioPath, []byte("extracted-audio"), 0o644)
}

func (f *fakeTranscoder) Merge(_ context.Context, _, _, outputPath string) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	return os.WriteFile(outputPath, []byte("merged-video"), 0o644)
}

type fakeInference struct {
	mu             sync.Mutex
	transcription  Transcription
	transcribeErr  error
	translateErr   error
	synthesizeErr  error
	translateCalls int
	synthCalls     int
}

func (f *fakeInference) Transcribe(_ context.Context, _, _ string) (Transcription, error) {
	if f.transcribeErr != nil {
		return Transcription{}, f.transcribeErr
	}
	return f.transcription, nil
}

func (f *fakeInference) Translate(_ context.Context, text, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.translateErr != nil {
		return "", f.translateErr
	}
	f.translateCalls++
	return "xl:" + text, nil
}

func (f *fakeInference) Synthesize(_ context.Context, _, _ string, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.synthesizeErr != nil {
		return f.synthesizeErr
	}
	f.synthCalls++
	return os.WriteFile(outputPath, []byte("synth-audio"), 0o644)
}
