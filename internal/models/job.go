package models

import (
	"time"
)

// JobStatus is a job lifecycle state. Valid transitions:
// queued -> processing -> {completed, failed}, queued -> {cancelled, failed}.
// completed, failed and cancelled are terminal.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions may leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Operation is a supported image transform.
type Operation string

const (
	OpEnhance Operation = "enhance"
	OpUpscale Operation = "upscale"
)

// EnhanceParams tunes the enhance operation.
type EnhanceParams struct {
	Quality       string  `json:"quality" validate:"required,oneof=low medium high ultra"`
	Steps         int     `json:"steps" validate:"omitempty,min=1,max=100"`
	GuidanceScale float64 `json:"guidance_scale" validate:"omitempty,gt=0,max=30"`
	Strength      float64 `json:"strength" validate:"omitempty,gt=0,max=1"`
	Seed          *int64  `json:"seed,omitempty"`
}

// UpscaleParams tunes the upscale operation.
type UpscaleParams struct {
	Factor        int     `json:"factor" validate:"required,oneof=2 4"`
	Steps         int     `json:"steps" validate:"omitempty,min=1,max=100"`
	GuidanceScale float64 `json:"guidance_scale" validate:"omitempty,gt=0,max=30"`
	Seed          *int64  `json:"seed,omitempty"`
}

// JobParams is a tagged variant: exactly one field is set, matching the
// job's operation.
type JobParams struct {
	Enhance *EnhanceParams `json:"enhance,omitempty"`
	Upscale *UpscaleParams `json:"upscale,omitempty"`
}

// Matches reports whether the populated variant corresponds to op.
func (p JobParams) Matches(op Operation) bool {
	switch op {
	case OpEnhance:
		return p.Enhance != nil && p.Upscale == nil
	case OpUpscale:
		return p.Upscale != nil && p.Enhance == nil
	default:
		return false
	}
}

// Job is one unit of billable asynchronous work.
type Job struct {
	ID                string     `json:"job_id" db:"id"`
	AccountID         string     `json:"account_id" db:"account_id"`
	Operation         Operation  `json:"operation" db:"operation"`
	Parameters        JobParams  `json:"parameters" db:"parameters"`
	Status            JobStatus  `json:"status" db:"status"`
	Progress          int        `json:"progress" db:"progress"` // 0-100
	CreditsReserved   int64      `json:"credits_reserved" db:"credits_reserved"`
	InputImages       []string   `json:"input_images,omitempty" db:"input_images"`
	OutputImages      []string   `json:"output_images,omitempty" db:"output_images"`
	ErrorMessage      string     `json:"error_message,omitempty" db:"error_message"`
	CallbackURL       string     `json:"callback_url,omitempty" db:"callback_url"`
	ProcessingSeconds float64    `json:"processing_time,omitempty" db:"processing_seconds"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
