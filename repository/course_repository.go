package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"profai-backend/models"
)

// CourseRepository stores generated courses as JSONB documents keyed by an
// integer course id.
type CourseRepository struct {
	db DB
}

func NewCourseRepository(db DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Create assigns the next course id and stores course. CourseID is set on
// success.
func (r *CourseRepository) Create(ctx context.Context, course *models.CourseLMS) error {
	data, err := json.Marshal(course)
	if err != nil {
		return fmt.Errorf("failed to encode course: %w", err)
	}

	query := `
		INSERT INTO courses (course_id, course_title, data)
		SELECT COALESCE(MAX(course_id), 0) + 1, $1, $2 FROM courses
		RETURNING course_id`

	var id int
	if err := r.db.QueryRow(ctx, query, course.CourseTitle, data).Scan(&id); err != nil {
		return fmt.Errorf("failed to insert course: %w", err)
	}
	course.CourseID = id
	return nil
}

// GetByID returns the course with id, or ErrNotFound.
func (r *CourseRepository) GetByID(ctx context.Context, id int) (*models.CourseLMS, error) {
	var data []byte
	err := r.db.QueryRow(ctx, `SELECT data FROM courses WHERE course_id = $1`, id).Scan(&data)
	if err != nil {
		return nil, notFound(err)
	}

	course := &models.CourseLMS{}
	if err := json.Unmarshal(data, course); err != nil {
		return nil, fmt.Errorf("failed to decode course %d: %w", id, err)
	}
	// The stored document predates id assignment.
	course.CourseID = id
	return course, nil
}

// List returns every course in id order.
func (r *CourseRepository) List(ctx context.Context) ([]models.CourseSummary, error) {
	query := `
		SELECT course_id, course_title, COALESCE(jsonb_array_length(data->'modules'), 0)
		FROM courses
		ORDER BY course_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	courses := make([]models.CourseSummary, 0)
	for rows.Next() {
		var c models.CourseSummary
		if err := rows.Scan(&c.CourseID, &c.CourseTitle, &c.Modules); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// Titles returns every stored course title.
func (r *CourseRepository) Titles(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT course_title FROM courses`)
	if err != nil {
		return nil, fmt.Errorf("failed to list course titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}
