package repository

import (
	"context"
	"testing"
	"time"

	"profai-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuizRepository(t *testing.T) {
	week := 2
	quiz := &models.Quiz{
		QuizID:         "module_2_ab12cd34",
		Title:          "Week 2 Quiz",
		Questions:      []models.QuizQuestion{{QuestionID: "module_2_ab12cd34_q1", QuestionText: "Q?", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "C"}},
		TotalQuestions: 1,
		QuizType:       models.QuizTypeModule,
		ModuleWeek:     &week,
		CourseID:       1,
		CreatedAt:      time.Now(),
	}

	t.Run("Should insert a quiz with its answers", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec("INSERT INTO quizzes").
			WithArgs(quiz.QuizID, 1, models.QuizTypeModule, &week, pgxmock.AnyArg(), quiz.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, NewQuizRepository(mock).Create(context.Background(), quiz))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should decode a stored quiz", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT data FROM quizzes").
			WithArgs("course_99").
			WillReturnRows(mock.NewRows([]string{"data"}).AddRow([]byte(`{"quiz_id":"course_99","quiz_type":"course","questions":[{"question_id":"course_99_q1","correct_answer":"A"}],"total_questions":1}`)))

		got, err := NewQuizRepository(mock).GetByID(context.Background(), "course_99")

		require.NoError(t, err)
		assert.Equal(t, models.QuizTypeCourse, got.QuizType)
		assert.Equal(t, "A", got.Questions[0].CorrectAnswer)
	})

	t.Run("Should map an unknown quiz to ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT data FROM quizzes").WithArgs("nope").WillReturnError(pgx.ErrNoRows)

		_, err = NewQuizRepository(mock).GetByID(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Should record a submission", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		result := &models.QuizResult{
			QuizID: quiz.QuizID, UserID: "learner-1", Score: 1, TotalQuestions: 1,
			Percentage: 100, Passed: true, SubmittedAt: time.Now(),
		}
		mock.ExpectExec("INSERT INTO quiz_submissions").
			WithArgs(quiz.QuizID, "learner-1", 1, 1, 100.0, true, pgxmock.AnyArg(), result.SubmittedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		assert.NoError(t, NewQuizRepository(mock).SaveResult(context.Background(), result))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFileRepository_Create(t *testing.T) {
	t.Run("Should store the file and read back its timestamp", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		file := &models.File{ID: uuid.New(), JobID: uuid.New(), Filename: "notes.pdf", MimeType: "application/pdf", Size: 42, StoragePath: "files/x/notes.pdf"}
		now := time.Now()
		mock.ExpectQuery("INSERT INTO course_files").
			WithArgs(file.ID, file.JobID, "notes.pdf", "application/pdf", int64(42), "files/x/notes.pdf").
			WillReturnRows(mock.NewRows([]string{"created_at"}).AddRow(now))

		require.NoError(t, NewFileRepository(mock).Create(context.Background(), file))
		assert.Equal(t, now, file.CreatedAt)
	})
}
