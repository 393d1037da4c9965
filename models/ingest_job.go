package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IngestJobStatus represents the status of a course ingest job
type IngestJobStatus string

const (
	JobStatusPending    IngestJobStatus = "pending"
	JobStatusInProgress IngestJobStatus = "in_progress"
	JobStatusCompleted  IngestJobStatus = "completed"
	JobStatusFailed     IngestJobStatus = "failed"
)

// Step statuses
const (
	StepPending    = "pending"
	StepInProgress = "in_progress"
	StepCompleted  = "completed"
	StepFailed     = "failed"
)

// Step names of the PDF-to-course pipeline, in order.
const (
	StepExtractText = "Extracting text"
	StepChunkText   = "Chunking documents"
	StepCurriculum  = "Generating curriculum"
	StepContent     = "Generating content"
	StepSaveCourse  = "Saving course"
	StepIndexCourse = "Indexing course"
)

// IngestStep represents a step in the ingest pipeline
type IngestStep struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

// IngestSteps represents a list of ingest steps
type IngestSteps []IngestStep

// NewIngestSteps returns every pipeline step in the pending state.
func NewIngestSteps() IngestSteps {
	names := []string{StepExtractText, StepChunkText, StepCurriculum, StepContent, StepSaveCourse, StepIndexCourse}
	steps := make(IngestSteps, 0, len(names))
	for _, n := range names {
		steps = append(steps, IngestStep{Name: n, Status: StepPending})
	}
	return steps
}

// Value implements driver.Valuer for JSONB
func (s IngestSteps) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB
func (s *IngestSteps) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	}
	if len(raw) == 0 {
		*s = make(IngestSteps, 0)
		return nil
	}
	return json.Unmarshal(raw, s)
}

// IngestJob tracks the background conversion of uploaded PDFs into an
// indexed course.
type IngestJob struct {
	ID           uuid.UUID       `json:"id"`
	CourseTitle  string          `json:"course_title,omitempty"`
	Status       IngestJobStatus `json:"status"`
	CurrentStep  *string         `json:"current_step,omitempty"`
	Steps        IngestSteps     `json:"steps"`
	CourseID     *int            `json:"course_id,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}
