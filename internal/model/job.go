package model

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the scheduler will never touch a job in this
// status again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type JobType string

const (
	TypeStoryGeneration   JobType = "story_generation"
	TypeContentAnalysis   JobType = "content_analysis"
	TypeDatasetProcessing JobType = "dataset_processing"
)

type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Status    Status          `json:"status"`
	Priority  int             `json:"priority"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Eligible mirrors the store-side selection filter.
func (j *Job) Eligible(maxRetries int) bool {
	return j.Status == StatusQueued && j.Attempts < maxRetries
}

// Outcome is the final write for a claimed job.
type Outcome struct {
	Status       Status
	Result       any
	ErrorMessage string
}

func Completed(result any) Outcome {
	return Outcome{Status: StatusCompleted, Result: result}
}

func Failed(msg string) Outcome {
	return Outcome{Status: StatusFailed, ErrorMessage: TruncateError(msg)}
}

// ResultJSON encodes the result for storage. Failed outcomes carry no result.
func (o Outcome) ResultJSON() (json.RawMessage, error) {
	if o.Status != StatusCompleted || o.Result == nil {
		return nil, nil
	}
	return json.Marshal(o.Result)
}

type Dataset struct {
	ID      string          `json:"id"`
	Content json.RawMessage `json:"content"`
}

const maxErrorLength = 500

// TruncateError caps msg at maxErrorLength bytes without splitting a rune.
func TruncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
