package repository

import (
	"context"
	"time"

	"profai-backend/models"

	"github.com/google/uuid"
)

// IngestJobRepository handles database operations for ingest jobs
type IngestJobRepository struct {
	db DB
}

// NewIngestJobRepository creates a new ingest job repository
func NewIngestJobRepository(db DB) *IngestJobRepository {
	return &IngestJobRepository{db: db}
}

// Create inserts job and fills its generated id and timestamps
func (r *IngestJobRepository) Create(ctx context.Context, job *models.IngestJob) error {
	query := `
		INSERT INTO ingest_jobs (
			course_title, status, current_step, steps
		) VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	return r.db.QueryRow(
		ctx, query,
		job.CourseTitle,
		job.Status,
		job.CurrentStep,
		job.Steps,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
}

// GetByID retrieves an ingest job by ID
func (r *IngestJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.IngestJob, error) {
	job := &models.IngestJob{}
	query := `
		SELECT id, course_title, status, current_step, steps, course_id, error_message,
			created_at, updated_at, completed_at
		FROM ingest_jobs
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.CourseTitle,
		&job.Status,
		&job.CurrentStep,
		&job.Steps,
		&job.CourseID,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	if job.Steps == nil {
		job.Steps = make(models.IngestSteps, 0)
	}
	return job, nil
}

// UpdateProgress records the running step and the step list
func (r *IngestJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, currentStep string, steps models.IngestSteps) error {
	query := `
		UPDATE ingest_jobs SET
			status = $2,
			current_step = $3,
			steps = $4,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.JobStatusInProgress, currentStep, steps)
	return err
}

// Complete marks a job completed and links the course it produced
func (r *IngestJobRepository) Complete(ctx context.Context, id uuid.UUID, courseID int) error {
	now := time.Now()
	query := `
		UPDATE ingest_jobs SET
			status = $2,
			course_id = $3,
			completed_at = $4,
			updated_at = $4
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.JobStatusCompleted, courseID, now)
	return err
}

// Fail marks a job failed
func (r *IngestJobRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
		UPDATE ingest_jobs SET
			status = $2,
			error_message = $3,
			updated_at = NOW()
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query, id, models.JobStatusFailed, errorMessage)
	return err
}
