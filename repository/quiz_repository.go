package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"profai-backend/models"
)

// QuizRepository stores generated quizzes and graded submissions.
type QuizRepository struct {
	db DB
}

func NewQuizRepository(db DB) *QuizRepository {
	return &QuizRepository{db: db}
}

// Create stores quiz, answers included.
func (r *QuizRepository) Create(ctx context.Context, quiz *models.Quiz) error {
	data, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("failed to encode quiz: %w", err)
	}

	query := `
		INSERT INTO quizzes (quiz_id, course_id, quiz_type, module_week, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.Exec(ctx, query, quiz.QuizID, quiz.CourseID, quiz.QuizType, quiz.ModuleWeek, data, quiz.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert quiz: %w", err)
	}
	return nil
}

// GetByID returns the quiz with id, or ErrNotFound.
func (r *QuizRepository) GetByID(ctx context.Context, id string) (*models.Quiz, error) {
	var data []byte
	if err := r.db.QueryRow(ctx, `SELECT data FROM quizzes WHERE quiz_id = $1`, id).Scan(&data); err != nil {
		return nil, notFound(err)
	}

	quiz := &models.Quiz{}
	if err := json.Unmarshal(data, quiz); err != nil {
		return nil, fmt.Errorf("failed to decode quiz %s: %w", id, err)
	}
	return quiz, nil
}

// SaveResult records a graded submission.
func (r *QuizRepository) SaveResult(ctx context.Context, result *models.QuizResult) error {
	details, err := json.Marshal(result.DetailedResults)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	query := `
		INSERT INTO quiz_submissions (
			quiz_id, user_id, score, total_questions, percentage, passed, detailed_results, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		result.QuizID,
		result.UserID,
		result.Score,
		result.TotalQuestions,
		result.Percentage,
		result.Passed,
		details,
		result.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert quiz submission: %w", err)
	}
	return nil
}
