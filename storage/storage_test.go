package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"profai-backend/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	t.Run("Should round trip an upload", func(t *testing.T) {
		id := uuid.New()
		path, err := s.Upload(ctx, id, "Week 1 notes.PDF", strings.NewReader("%PDF-1.4 body"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(path, id.String()[:2]+"/"))
		assert.True(t, strings.HasSuffix(path, "_Week_1_notes.pdf"))

		rc, err := s.Download(ctx, path)
		require.NoError(t, err)
		defer rc.Close()
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4 body", string(body))
	})

	t.Run("Should report missing files and ignore repeated deletes", func(t *testing.T) {
		path, err := s.Upload(ctx, uuid.New(), "a.pdf", strings.NewReader("x"))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, path))
		require.NoError(t, s.Delete(ctx, path))

		_, err = s.Download(ctx, path)
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("Should refuse paths outside the base directory", func(t *testing.T) {
		_, err := s.Download(ctx, "../../etc/passwd")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrObjectNotFound)
	})
}

func TestObjectPath(t *testing.T) {
	t.Run("Should strip directories from the uploaded name", func(t *testing.T) {
		id := uuid.MustParse("12345678-1234-1234-1234-123456789abc")
		assert.Equal(t, "12/12345678-1234-1234-1234-123456789abc_passwd.pdf", objectPath(id, "../../passwd.pdf"))
		assert.Equal(t, "12/12345678-1234-1234-1234-123456789abc_upload.pdf", objectPath(id, ".pdf"))
	})
}

func TestNew(t *testing.T) {
	t.Run("Should pick the configured backend", func(t *testing.T) {
		s, err := New(context.Background(), config.StorageConfig{Type: TypeLocal, LocalPath: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &LocalStorage{}, s)

		_, err = New(context.Background(), config.StorageConfig{Type: TypeS3})
		assert.Error(t, err)
		_, err = New(context.Background(), config.StorageConfig{Type: "ftp"})
		assert.Error(t, err)
	})
}
