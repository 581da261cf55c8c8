package domain

import "time"

// TemplateKind enumerates the supported game templates.
type TemplateKind string

const (
	TemplatePlatformer TemplateKind = "platformer"
	TemplatePuzzle     TemplateKind = "puzzle"
	TemplateShooter    TemplateKind = "shooter"
	TemplateRacing     TemplateKind = "racing"
	TemplateCustom     TemplateKind = "custom"
)

// DefaultTemplate is the fallback kind when a requested template cannot be
// loaded.
const DefaultTemplate = TemplatePlatformer

// KnownTemplate reports whether kind belongs to the closed set of template
// kinds.
func KnownTemplate(kind TemplateKind) bool {
	switch kind {
	case TemplatePlatformer, TemplatePuzzle, TemplateShooter, TemplateRacing, TemplateCustom:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Terminal reports whether the status is final. Terminal jobs never re-enter
// the queue.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// DefaultPriority is assigned when the caller does not request one. Lower
// values are served first.
const DefaultPriority = 5

// Job tracks one generation request through its lifecycle.
type Job struct {
	ID           string
	Prompt       string
	Template     TemplateKind
	UserID       string
	Priority     int
	ConfigJSON   []byte
	Status       JobStatus
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ResultRef    string
	ErrorMessage string
}
