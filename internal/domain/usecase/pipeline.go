package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lingopipe/internal/domain/entity"
	"lingopipe/internal/metrics"
)

// translateChunkSize keeps each translate call under the inference engine's
// input-length ceiling.
const translateChunkSize = 500

type Transcoder interface {
	MediaProber
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
	Merge(ctx context.Context, videoPath, audioPath, outputPath string) error
}

type InferenceEngine interface {
	Transcribe(ctx context.Context, audioPath, languageHint string) (Transcription, error)
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	Synthesize(ctx context.Context, text, language, outputPath string) error
}

type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// translationDocument is the JSON artifact produced by translate stages and
// consumed by synthesize stages.
type translationDocument struct {
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// PipelineUseCase executes one job per task inside a worker. All shared state
// goes through the job repo and ledger, both of which are atomic.
type PipelineUseCase struct {
	Jobs       JobRepo
	Ledger     Ledger
	Media      MediaStore
	Transcoder Transcoder
	Inference  InferenceEngine
	Feed       ProgressFeed
	WorkDir    string
	log        *logrus.Logger
}

func NewPipelineUseCase(jobs JobRepo, ledger Ledger, media MediaStore, tc Transcoder, inf InferenceEngine, feed ProgressFeed, workDir string, log *logrus.Logger) *PipelineUseCase {
	return &PipelineUseCase{
		Jobs:       jobs,
		Ledger:     ledger,
		Media:      media,
		Transcoder: tc,
		Inference:  inf,
		Feed:       feed,
		WorkDir:    workDir,
		log:        log,
	}
}

// Execute runs the full pipeline for one queued task. It always returns nil
// for job-level failures: the job is marked failed and a retry requires an
// explicit re-dispatch, never an automatic re-queue.
func (u *PipelineUseCase) Execute(ctx context.Context, msg entity.JobTaskMessage) error {
	log := u.log.WithFields(logrus.Fields{"job_id": msg.JobID, "job_type": msg.JobType})

	job, err := u.Jobs.Get(ctx, msg.JobID)
	if err != nil {
		log.WithError(err).Warn("task references missing job, dropping")
		return nil
	}
	if job.Status != entity.JobProcessing || job.TaskID != msg.TaskID {
		// Re-dispatched or swept while queued; this delivery is stale.
		log.WithField("task_id", msg.TaskID).Warn("stale task delivery, dropping")
		return nil
	}

	started := time.Now()

	workDir, err := os.MkdirTemp(u.WorkDir, "job-"+job.ID+"-")
	if err != nil {
		u.fail(ctx, job, fmt.Sprintf("workspace error: %v", err))
		return nil
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.WithError(err).Warn("failed to clean up workspace")
		}
	}()

	inputPath, err := u.fetchInput(ctx, job, workDir)
	if err != nil {
		u.fail(ctx, job, fmt.Sprintf("input not found: %v", err))
		return nil
	}

	switch job.JobType {
	case entity.JobTranscribe:
		err = u.runTranscribe(ctx, job, inputPath, workDir)
	case entity.JobTranslate:
		err = u.runTranslate(ctx, job, inputPath)
	case entity.JobSynthesize:
		err = u.runSynthesize(ctx, job, inputPath, workDir)
	case entity.JobVideoTranslate:
		err = u.runVideoTranslate(ctx, job, inputPath, workDir)
	default:
		err = fmt.Errorf("unknown job type %q", job.JobType)
	}

	if err != nil {
		log.WithError(err).Error("pipeline failed")
		u.fail(ctx, job, err.Error())
		return nil
	}

	metrics.JobDuration.WithLabelValues(string(job.JobType)).Observe(time.Since(started).Seconds())
	log.WithField("elapsed", time.Since(started).Round(time.Millisecond)).Info("pipeline completed")
	return nil
}

func (u *PipelineUseCase) runTranscribe(ctx context.Context, job *entity.Job, inputPath, workDir string) error {
	hint := ""
	if p := job.Params.Transcribe; p != nil {
		hint = p.Language
	}

	u.advance(ctx, job, entity.PhaseTranscribing, "Transcribing audio", 20)
	tr, err := u.Inference.Transcribe(ctx, inputPath, hint)
	if err != nil {
		return fmt.Errorf("transcription: %w", err)
	}

	u.advance(ctx, job, entity.PhaseUploading, "Saving transcript", 80)
	data, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	outputKey := outputKey(job, "transcript.json")
	if err := u.Media.Upload(ctx, outputKey, data, "application/json"); err != nil {
		return fmt.Errorf("upload transcript: %w", err)
	}

	return u.complete(ctx, job, outputKey, entity.JobResult{
		DetectedLanguage: tr.Language,
		SegmentsCount:    len(tr.Segments),
		NoAudioContent:   strings.TrimSpace(tr.Text) == "",
	})
}

func (u *PipelineUseCase) runTranslate(ctx context.Context, job *entity.Job, inputPath string) error {
	p := job.Params.Translate
	if p == nil {
		return fmt.Errorf("missing translate params")
	}

	u.advance(ctx, job, entity.PhaseTranslating, fmt.Sprintf("Translating %s to %s", p.SourceLang, p.TargetLang), 20)

	var tr Transcription
	if err := decodeJSONFile(inputPath, &tr); err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	doc := translationDocument{
		OriginalText:   tr.Text,
		SourceLanguage: p.SourceLang,
		TargetLanguage: p.TargetLang,
	}

	// A transcript with no text still produces an output artifact so that a
	// downstream synthesis job has something to resolve.
	if strings.TrimSpace(tr.Text) != "" {
		translated, err := u.translateChunks(ctx, job, tr.Text, p.SourceLang, p.TargetLang)
		if err != nil {
			return fmt.Errorf("translation: %w", err)
		}
		doc.TranslatedText = translated
	}

	u.advance(ctx, job, entity.PhaseUploading, "Saving translation", 85)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode translation: %w", err)
	}
	key := outputKey(job, "translation.json")
	if err := u.Media.Upload(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("upload translation: %w", err)
	}

	return u.complete(ctx, job, key, entity.JobResult{
		OriginalLength:   len(doc.OriginalText),
		TranslatedLength: len(doc.TranslatedText),
		NoAudioContent:   doc.OriginalText == "",
	})
}

func (u *PipelineUseCase) runSynthesize(ctx context.Context, job *entity.Job, inputPath, workDir string) error {
	p := job.Params.Synthesize
	if p == nil {
		return fmt.Errorf("missing synthesize params")
	}

	var doc translationDocument
	if err := decodeJSONFile(inputPath, &doc); err != nil {
		return fmt.Errorf("read translation: %w", err)
	}

	text := doc.TranslatedText
	if text == "" {
		text = doc.OriginalText
	}

	if strings.TrimSpace(text) == "" {
		// Nothing to voice: pass the input document through as the output
		// and record the degenerate path instead of failing.
		u.advance(ctx, job, entity.PhaseUploading, "No text to synthesize", 90)
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		key := outputKey(job, "audio.json")
		if err := u.Media.Upload(ctx, key, data, "application/json"); err != nil {
			return fmt.Errorf("upload placeholder: %w", err)
		}
		return u.complete(ctx, job, key, entity.JobResult{NoAudioContent: true})
	}

	u.advance(ctx, job, entity.PhaseSynthesizing, fmt.Sprintf("Synthesizing audio in %s", p.Language), 20)
	audioPath := filepath.Join(workDir, "synthesized.wav")
	if err := u.Inference.Synthesize(ctx, text, p.Language, audioPath); err != nil {
		return fmt.Errorf("synthesis: %w", err)
	}

	u.advance(ctx, job, entity.PhaseUploading, "Saving audio", 80)
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return fmt.Errorf("read synthesized audio: %w", err)
	}
	key := outputKey(job, "audio.wav")
	if err := u.Media.Upload(ctx, key, data, "audio/wav"); err != nil {
		return fmt.Errorf("upload audio: %w", err)
	}

	return u.complete(ctx, job, key, entity.JobResult{
		TranslatedLength: len(text),
		OutputSizeBytes:  int64(len(data)),
	})
}

func (u *PipelineUseCase) runVideoTranslate(ctx context.Context, job *entity.Job, inputPath, workDir string) error {
	p := job.Params.VideoTranslate
	if p == nil {
		return fmt.Errorf("missing video_translate params")
	}

	u.advance(ctx, job, entity.PhaseTranscribing, "Extracting audio from video", 5)
	audioPath := filepath.Join(workDir, "extracted.wav")
	if err := u.Transcoder.ExtractAudio(ctx, inputPath, audioPath); err != nil {
		return fmt.Errorf("audio extraction: %w", err)
	}

	hint := p.SourceLang
	if hint == "auto" {
		hint = ""
	}
	u.advance(ctx, job, entity.PhaseTranscribing, "Transcribing video audio", 15)
	tr, err := u.Inference.Transcribe(ctx, audioPath, hint)
	if err != nil {
		return fmt.Errorf("transcription: %w", err)
	}

	ext := filepath.Ext(job.InputKey)
	if ext == "" {
		ext = ".mp4"
	}

	if strings.TrimSpace(tr.Text) == "" {
		// Silent input: deliver a pass-through copy of the original video
		// rather than failing the job.
		u.advance(ctx, job, entity.PhaseUploading, "No speech detected, copying original video", 90)
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("read original video: %w", err)
		}
		key := outputKey(job, "translated"+ext)
		if err := u.Media.Upload(ctx, key, data, "video/mp4"); err != nil {
			return fmt.Errorf("upload video: %w", err)
		}
		return u.complete(ctx, job, key, entity.JobResult{
			DetectedLanguage: tr.Language,
			NoAudioContent:   true,
			OutputSizeBytes:  int64(len(data)),
		})
	}

	u.advance(ctx, job, entity.PhaseTranslating, fmt.Sprintf("Translating to %s", p.TargetLang), 40)
	sourceLang := p.SourceLang
	if sourceLang == "auto" {
		sourceLang = tr.Language
	}
	translated, err := u.translateChunks(ctx, job, tr.Text, sourceLang, p.TargetLang)
	if err != nil {
		return fmt.Errorf("translation: %w", err)
	}

	u.advance(ctx, job, entity.PhaseSynthesizing, "Synthesizing dubbed audio", 60)
	dubbedPath := filepath.Join(workDir, "dubbed.wav")
	if err := u.Inference.Synthesize(ctx, translated, p.TargetLang, dubbedPath); err != nil {
		return fmt.Errorf("synthesis: %w", err)
	}

	u.advance(ctx, job, entity.PhaseUploading, "Merging dubbed audio into video", 85)
	outputPath := filepath.Join(workDir, "translated"+ext)
	if err := u.Transcoder.Merge(ctx, inputPath, dubbedPath, outputPath); err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return fmt.Errorf("read output video: %w", err)
	}
	key := outputKey(job, "translated"+ext)
	if err := u.Media.Upload(ctx, key, data, "video/mp4"); err != nil {
		return fmt.Errorf("upload video: %w", err)
	}

	return u.complete(ctx, job, key, entity.JobResult{
		DetectedLanguage: tr.Language,
		OriginalLength:   len(tr.Text),
		TranslatedLength: len(translated),
		Dubbed:           true,
		OutputSizeBytes:  int64(len(data)),
	})
}

// translateChunks splits long text before each inference call and reports
// progress per chunk within the translating phase.
func (u *PipelineUseCase) translateChunks(ctx context.Context, job *entity.Job, text, sourceLang, targetLang string) (string, error) {
	var chunks []string
	for i := 0; i < len(text); i += translateChunkSize {
		end := i + translateChunkSize
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[i:end])
	}

	translated := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		out, err := u.Inference.Translate(ctx, chunk, sourceLang, targetLang)
		if err != nil {
			return "", fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		translated = append(translated, out)

		if len(chunks) > 1 {
			progress := job.Progress + (60-job.Progress)*float64(i+1)/float64(len(chunks))
			u.advance(ctx, job, entity.PhaseTranslating, fmt.Sprintf("Translating chunk %d/%d", i+1, len(chunks)), progress)
		}
	}
	return strings.Join(translated, " "), nil
}

func (u *PipelineUseCase) fetchInput(ctx context.Context, job *entity.Job, workDir string) (string, error) {
	r, err := u.Media.Reader(ctx, job.InputKey)
	if err != nil {
		return "", err
	}
	defer r.Close()

	path := filepath.Join(workDir, "input"+filepath.Ext(job.InputKey))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return path, nil
}

// advance persists a phase/progress milestone before the stage runs, then
// publishes a snapshot for streaming clients. Persist failures are logged but
// do not abort the pipeline.
func (u *PipelineUseCase) advance(ctx context.Context, job *entity.Job, phase entity.JobPhase, step string, progress float64) {
	if progress < job.Progress {
		progress = job.Progress
	}
	if err := u.Jobs.UpdateProgress(ctx, job.ID, phase, step, progress); err != nil {
		u.log.WithError(err).WithField("job_id", job.ID).Warn("progress update failed")
		return
	}
	job.Phase = phase
	job.CurrentStep = step
	job.Progress = progress

	if err := u.Feed.PublishSnapshot(ctx, job.Snapshot()); err != nil {
		u.log.WithError(err).WithField("job_id", job.ID).Debug("snapshot publish failed")
	}
}

// complete marks the job done, then debits the ledger as a separate step. If
// the debit fails the job stays completed: the compute was already spent, so
// the discrepancy is logged for reconciliation instead of rolling back.
func (u *PipelineUseCase) complete(ctx context.Context, job *entity.Job, outputKey string, result entity.JobResult) error {
	done, err := u.Jobs.Complete(ctx, job.ID, outputKey, result)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	if err := u.Feed.PublishSnapshot(ctx, done.Snapshot()); err != nil {
		u.log.WithError(err).WithField("job_id", job.ID).Debug("snapshot publish failed")
	}
	metrics.JobsProcessed.WithLabelValues(string(job.JobType), string(entity.JobCompleted)).Inc()

	if done.CreditCost == nil {
		u.log.WithField("job_id", job.ID).Error("completed job has no credit cost, billing reconciliation required")
		return nil
	}

	balance, err := u.Ledger.DebitForJob(ctx, job.UserID, job.ID, *done.CreditCost, string(job.JobType))
	switch {
	case err == nil:
		metrics.CreditsDebited.Add(float64(*done.CreditCost))
		u.log.WithFields(logrus.Fields{
			"job_id":  job.ID,
			"user_id": job.UserID,
			"amount":  *done.CreditCost,
			"balance": balance,
		}).Info("credits debited")
	case errors.Is(err, ErrAlreadyCharged):
		u.log.WithField("job_id", job.ID).Debug("job already charged, skipping debit")
	default:
		// Work was delivered; never roll the job back over a billing error.
		u.log.WithError(err).WithFields(logrus.Fields{
			"job_id":  job.ID,
			"user_id": job.UserID,
			"amount":  *done.CreditCost,
		}).Error("debit failed after delivery, billing reconciliation required")
	}
	return nil
}

func (u *PipelineUseCase) fail(ctx context.Context, job *entity.Job, message string) {
	if err := u.Jobs.Fail(ctx, job.ID, message); err != nil {
		u.log.WithError(err).WithField("job_id", job.ID).Error("failed to mark job failed")
		return
	}
	job.Status = entity.JobFailed
	job.Phase = entity.PhaseFailed
	job.Progress = 0
	job.ErrorMessage = message

	if err := u.Feed.PublishSnapshot(ctx, job.Snapshot()); err != nil {
		u.log.WithError(err).WithField("job_id", job.ID).Debug("snapshot publish failed")
	}
	metrics.JobsProcessed.WithLabelValues(string(job.JobType), string(entity.JobFailed)).Inc()
}

func outputKey(job *entity.Job, name string) string {
	return fmt.Sprintf("users/%s/outputs/%s/%s", job.UserID, job.ID, name)
}

func decodeJSONFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}
