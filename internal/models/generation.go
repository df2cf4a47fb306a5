package models

import (
	"time"
)

// Attempt records one fallback candidate invocation
type Attempt struct {
	Model      string `json:"model"`
	Kind       string `json:"kind"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// LLMResult is the uniform outcome of one generation call
type LLMResult struct {
	Success   bool      `json:"success"`
	Content   string    `json:"content,omitempty"`
	ModelUsed string    `json:"modelUsed,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempts  []Attempt `json:"attempts,omitempty"`

	// Err is the typed cause of a failed result.
	Err error `json:"-"`
}

// Failure builds an unsuccessful result from err.
func Failure(err error) LLMResult {
	return LLMResult{Success: false, Error: err.Error(), Err: err}
}

// Probe outcomes
const (
	ProbeSuccess = "success"
	ProbeFail    = "fail"
)

// ProviderStatus is the health probe result for one model
type ProviderStatus struct {
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	Content   string    `json:"content,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int64     `json:"latencyMs"`
	CheckedAt time.Time `json:"checkedAt"`
}

// GenerationLog is the audit row written for every orchestrator invocation
type GenerationLog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	RequestType  string    `gorm:"size:64;index" json:"request_type"`
	PrimaryModel string    `gorm:"size:128" json:"primary_model"`
	ModelUsed    string    `gorm:"size:128;index" json:"model_used"`
	Success      bool      `json:"success"`
	AttemptCount int       `json:"attempt_count"`
	Attempts     string    `gorm:"type:text" json:"-"` // JSON-encoded []Attempt
	Error        string    `gorm:"type:text" json:"error,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

func (GenerationLog) TableName() string {
	return "generation_logs"
}
