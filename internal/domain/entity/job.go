package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobPhase is the fine-grained stage within a processing job.
type JobPhase string

const (
	PhasePending      JobPhase = "pending"
	PhaseTranscribing JobPhase = "transcribing"
	PhaseTranslating  JobPhase = "translating"
	PhaseSynthesizing JobPhase = "synthesizing"
	PhaseUploading    JobPhase = "uploading"
	PhaseCompleted    JobPhase = "completed"
	PhaseFailed       JobPhase = "failed"
)

type JobType string

const (
	JobTranscribe     JobType = "transcribe"
	JobTranslate      JobType = "translate"
	JobSynthesize     JobType = "synthesize"
	JobVideoTranslate JobType = "video_translate"
)

// Job tracks one unit of media processing work through its lifecycle.
// Status and Phase move together: completed implies phase=completed,
// failed implies phase=failed. Progress never regresses while processing.
type Job struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"job_id"`
	UserID       string         `gorm:"not null;type:uuid;index" json:"user_id"`
	JobType      JobType        `gorm:"not null;type:text" json:"job_type"`
	InputKey     string         `gorm:"not null" json:"input_file"`
	OutputKey    string         `json:"output_file,omitempty"`
	Status       JobStatus      `gorm:"not null;type:text;index" json:"status"`
	Phase        JobPhase       `gorm:"not null;type:text" json:"phase"`
	Progress     float64        `gorm:"column:progress_percentage;not null;default:0" json:"progress_percentage"`
	CurrentStep  string         `json:"current_step,omitempty"`
	TaskID       string         `json:"task_id,omitempty"`
	CreditCost   *int64         `json:"credit_cost,omitempty"`
	Params       JobParams      `gorm:"type:jsonb;serializer:json" json:"params"`
	Result       JobResult      `gorm:"type:jsonb;serializer:json" json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt    time.Time      `json:"-"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// Dispatchable reports whether the job may be (re-)queued for execution.
func (j *Job) Dispatchable() bool {
	return j.Status == JobPending || j.Status == JobFailed
}

// JobParams is a closed union of per-type parameters. Exactly one field is
// populated, selected by Job.JobType, and validated at creation time.
type JobParams struct {
	Transcribe     *TranscribeParams     `json:"transcribe,omitempty"`
	Translate      *TranslateParams      `json:"translate,omitempty"`
	Synthesize     *SynthesizeParams     `json:"synthesize,omitempty"`
	VideoTranslate *VideoTranslateParams `json:"video_translate,omitempty"`
}

type TranscribeParams struct {
	Language  string `json:"language,omitempty"` // empty means auto-detect
	ModelSize string `json:"model_size,omitempty"`
}

type TranslateParams struct {
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type SynthesizeParams struct {
	Language string `json:"language"`
}

type VideoTranslateParams struct {
	SourceLang string `json:"source_lang"` // "auto" allowed
	TargetLang string `json:"target_lang"`
	ModelSize  string `json:"model_size,omitempty"`
	// DurationSeconds, when declared by the client at creation, lets the
	// dispatcher estimate cost without re-probing the video.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// DecodeJobParams parses and validates raw params against the job type.
func DecodeJobParams(jobType JobType, raw json.RawMessage) (JobParams, error) {
	var p JobParams
	switch jobType {
	case JobTranscribe:
		tp := &TranscribeParams{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, tp); err != nil {
				return p, fmt.Errorf("transcribe params: %w", err)
			}
		}
		p.Transcribe = tp
	case JobTranslate:
		tp := &TranslateParams{}
		if err := json.Unmarshal(raw, tp); err != nil {
			return p, fmt.Errorf("translate params: %w", err)
		}
		if tp.SourceLang == "" || tp.TargetLang == "" {
			return p, fmt.Errorf("translate params: source_lang and target_lang are required")
		}
		p.Translate = tp
	case JobSynthesize:
		sp := &SynthesizeParams{}
		if err := json.Unmarshal(raw, sp); err != nil {
			return p, fmt.Errorf("synthesize params: %w", err)
		}
		if sp.Language == "" {
			return p, fmt.Errorf("synthesize params: language is required")
		}
		p.Synthesize = sp
	case JobVideoTranslate:
		vp := &VideoTranslateParams{}
		if err := json.Unmarshal(raw, vp); err != nil {
			return p, fmt.Errorf("video_translate params: %w", err)
		}
		if vp.TargetLang == "" {
			return p, fmt.Errorf("video_translate params: target_lang is required")
		}
		if vp.SourceLang == "" {
			vp.SourceLang = "auto"
		}
		p.VideoTranslate = vp
	default:
		return p, fmt.Errorf("unknown job type %q", jobType)
	}
	return p, nil
}

// JobResult is the summary merged into the job on completion.
type JobResult struct {
	DetectedLanguage string `json:"detected_language,omitempty"`
	SegmentsCount    int    `json:"segments_count,omitempty"`
	OriginalLength   int    `json:"original_length,omitempty"`
	TranslatedLength int    `json:"translated_length,omitempty"`
	OutputSizeBytes  int64  `json:"output_size_bytes,omitempty"`
	Dubbed           bool   `json:"dubbed,omitempty"`
	// NoAudioContent marks the graceful pass-through path taken when the
	// input had no detectable speech.
	NoAudioContent bool `json:"no_audio_content,omitempty"`
}

// JobSnapshot is the status shape exposed to clients via polling and SSE.
type JobSnapshot struct {
	JobID        string     `json:"job_id"`
	JobType      JobType    `json:"job_type"`
	Status       JobStatus  `json:"status"`
	Phase        JobPhase   `json:"phase"`
	Progress     float64    `json:"progress_percentage"`
	CurrentStep  string     `json:"current_step,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	OutputFile   string     `json:"output_file,omitempty"`
	CreditCost   *int64     `json:"credit_cost,omitempty"`
}

// Snapshot projects the job into its client-facing status form.
func (j *Job) Snapshot() JobSnapshot {
	return JobSnapshot{
		JobID:        j.ID,
		JobType:      j.JobType,
		Status:       j.Status,
		Phase:        j.Phase,
		Progress:     j.Progress,
		CurrentStep:  j.CurrentStep,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		ErrorMessage: j.ErrorMessage,
		OutputFile:   j.OutputKey,
		CreditCost:   j.CreditCost,
	}
}

// JobTaskMessage is the payload published to the work queue at dispatch.
type JobTaskMessage struct {
	TaskID   string  `json:"task_id"`
	JobID    string  `json:"job_id"`
	UserID   string  `json:"user_id"`
	JobType  JobType `json:"job_type"`
	InputKey string  `json:"input_key"`
}
