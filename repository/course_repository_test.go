package repository

import (
	"context"
	"testing"

	"profai-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCourseRepository_Create(t *testing.T) {
	t.Run("Should assign the id returned by the insert", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		repo := NewCourseRepository(mock)

		mock.ExpectQuery("INSERT INTO courses").
			WithArgs("Biology", pgxmock.AnyArg()).
			WillReturnRows(mock.NewRows([]string{"course_id"}).AddRow(3))

		course := &models.CourseLMS{CourseTitle: "Biology", Modules: []models.Module{{Week: 1, Title: "Cells"}}}
		err = repo.Create(context.Background(), course)

		require.NoError(t, err)
		assert.Equal(t, 3, course.CourseID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCourseRepository_GetByID(t *testing.T) {
	t.Run("Should decode the stored document", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		data := []byte(`{"course_title":"Biology","modules":[{"week":1,"title":"Cells","sub_topics":[{"title":"Membranes","content":"lipids"}]}]}`)
		mock.ExpectQuery("SELECT data FROM courses").
			WithArgs(2).
			WillReturnRows(mock.NewRows([]string{"data"}).AddRow(data))

		course, err := NewCourseRepository(mock).GetByID(context.Background(), 2)

		require.NoError(t, err)
		assert.Equal(t, 2, course.CourseID)
		assert.Equal(t, "lipids", course.Modules[0].SubTopics[0].Content)
	})

	t.Run("Should map a missing row to ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT data FROM courses").
			WithArgs(9).
			WillReturnError(pgx.ErrNoRows)

		_, err = NewCourseRepository(mock).GetByID(context.Background(), 9)

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCourseRepository_List(t *testing.T) {
	t.Run("Should return summaries in id order", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("FROM courses").
			WillReturnRows(mock.NewRows([]string{"course_id", "course_title", "modules"}).
				AddRow(1, "Biology", 4).
				AddRow(2, "Physics", 6))

		got, err := NewCourseRepository(mock).List(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []models.CourseSummary{
			{CourseID: 1, CourseTitle: "Biology", Modules: 4},
			{CourseID: 2, CourseTitle: "Physics", Modules: 6},
		}, got)
	})
}

func TestCourseRepository_Titles(t *testing.T) {
	t.Run("Should return every title", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT course_title FROM courses").
			WillReturnRows(mock.NewRows([]string{"course_title"}).AddRow("Biology").AddRow("Biology (2)"))

		got, err := NewCourseRepository(mock).Titles(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"Biology", "Biology (2)"}, got)
	})
}
