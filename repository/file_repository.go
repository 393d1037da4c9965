package repository

import (
	"context"

	"profai-backend/models"

	"github.com/google/uuid"
)

// FileRepository handles database operations for uploaded files
type FileRepository struct {
	db DB
}

// NewFileRepository creates a new file repository
func NewFileRepository(db DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create creates a new file record
func (r *FileRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO course_files (
			id, job_id, filename, mime_type, size, storage_path
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	return r.db.QueryRow(
		ctx, query,
		file.ID,
		file.JobID,
		file.Filename,
		file.MimeType,
		file.Size,
		file.StoragePath,
	).Scan(&file.CreatedAt)
}

// ListByJobID retrieves the files uploaded for an ingest job
func (r *FileRepository) ListByJobID(ctx context.Context, jobID uuid.UUID) ([]*models.File, error) {
	query := `
		SELECT id, job_id, filename, mime_type, size, storage_path, created_at
		FROM course_files
		WHERE job_id = $1
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		file := &models.File{}
		err := rows.Scan(
			&file.ID,
			&file.JobID,
			&file.Filename,
			&file.MimeType,
			&file.Size,
			&file.StoragePath,
			&file.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	return files, rows.Err()
}
