package repository

import (
	"context"
	"errors"
	"testing"

	"profai-backend/models"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPassage(id string, dims int) models.Passage {
	return models.Passage{
		ID:        id,
		Text:      "Topic: Cells\n\nCells are the unit of life.",
		Metadata:  map[string]any{"source": models.PassageSourceContent, "week": 1},
		Embedding: make([]float32, dims),
	}
}

func TestPassageRepository_Upsert(t *testing.T) {
	t.Run("Should write every passage in one transaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		repo := NewPassageRepository(mock, 3)

		mock.ExpectBegin()
		for _, id := range []string{"p1", "p2"} {
			mock.ExpectExec("INSERT INTO course_passages").
				WithArgs(id, pgxmock.AnyArg(), models.PassageSourceContent, pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		mock.ExpectCommit()

		err = repo.Upsert(context.Background(), []models.Passage{testPassage("p1", 3), testPassage("p2", 3)})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should roll back when one write fails", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		repo := NewPassageRepository(mock, 3)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO course_passages").
			WithArgs("p1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("INSERT INTO course_passages").
			WithArgs("p2", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err = repo.Upsert(context.Background(), []models.Passage{testPassage("p1", 3), testPassage("p2", 3)})

		assert.ErrorContains(t, err, "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should reject embeddings of the wrong width before touching the database", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		repo := NewPassageRepository(mock, 768)

		err = repo.Upsert(context.Background(), []models.Passage{testPassage("p1", 3)})

		assert.ErrorContains(t, err, "want 768")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should do nothing for an empty batch", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		assert.NoError(t, NewPassageRepository(mock, 3).Upsert(context.Background(), nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPassageRepository_Search(t *testing.T) {
	t.Run("Should return passages ordered by distance with decoded metadata", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		repo := NewPassageRepository(mock, 3)

		rows := mock.NewRows([]string{"id", "text", "metadata", "distance"}).
			AddRow("p1", "Course Title: Biology", []byte(`{"source":"course_overview","type":"title"}`), 0.05).
			AddRow("p2", "Week 1: Cells", []byte(`{"source":"course_module","week":1}`), 0.2)
		mock.ExpectQuery("FROM course_passages").
			WithArgs(pgxmock.AnyArg(), 2).
			WillReturnRows(rows)

		got, err := repo.Search(context.Background(), []float32{1, 0, 0}, 2)

		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "p1", got[0].ID)
		assert.Equal(t, models.PassageSourceOverview, got[0].Source())
		assert.Equal(t, float64(1), got[1].Metadata["week"])
		assert.InDelta(t, 0.2, got[1].Distance, 1e-9)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should reject a query of the wrong width", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, err = NewPassageRepository(mock, 768).Search(context.Background(), []float32{1}, 4)
		assert.Error(t, err)
	})
}

func TestPassageRepository_Count(t *testing.T) {
	t.Run("Should count stored passages", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT COUNT").WillReturnRows(mock.NewRows([]string{"count"}).AddRow(12))

		n, err := NewPassageRepository(mock, 3).Count(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 12, n)
	})
}
