package service

import (
	"strings"
	"testing"

	"profai-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassageBuilder_Build(t *testing.T) {
	t.Run("Should build title, module and content passages", func(t *testing.T) {
		got, err := NewPassageBuilder().Build(sampleCourse())
		require.NoError(t, err)
		require.Len(t, got, 5)

		assert.Equal(t, "Course Title: Introduction to Photosynthesis", got[0].Text)
		assert.Equal(t, models.PassageSourceOverview, got[0].Source())
		assert.Equal(t, "Week 1: Light reactions", got[1].Text)
		assert.Equal(t, 1, got[1].Metadata["week"])
		assert.Equal(t, models.PassageSourceContent, got[2].Source())
		assert.True(t, strings.HasPrefix(got[2].Text, "Topic: Chlorophyll\n\n"))
		assert.Equal(t, "Chlorophyll", got[2].Metadata["topic"])
		assert.Equal(t, 1, got[2].Metadata["course_id"])
	})

	t.Run("Should produce the same ids for the same course", func(t *testing.T) {
		a, err := NewPassageBuilder().Build(sampleCourse())
		require.NoError(t, err)
		b, err := NewPassageBuilder().Build(sampleCourse())
		require.NoError(t, err)
		for i := range a {
			assert.Equal(t, a[i].ID, b[i].ID)
		}
	})

	t.Run("Should split long sub-topics", func(t *testing.T) {
		course := sampleCourse()
		course.Modules[0].SubTopics[0].Content = strings.Repeat("Light drives the electron transport chain. ", 60)

		got, err := NewPassageBuilder(PassageBuilderWithChunking(300, 50)).Build(course)
		require.NoError(t, err)

		content := 0
		for _, p := range got {
			if p.Metadata["topic"] == "Chlorophyll" {
				content++
				assert.LessOrEqual(t, len([]rune(p.Text)), 300)
			}
		}
		assert.Greater(t, content, 1)
	})

	t.Run("Should skip sub-topics whose content failed or was rejected", func(t *testing.T) {
		course := sampleCourse()
		course.Modules[0].SubTopics[0].ContentStatus = models.ContentStatusFailed
		course.Modules[1].SubTopics[0].ContentStatus = models.ContentStatusRejected

		got, err := NewPassageBuilder().Build(course)
		require.NoError(t, err)

		for _, p := range got {
			assert.NotEqual(t, models.PassageSourceContent, p.Source(), p.Text)
		}
	})

	t.Run("Should fail for a course with nothing to index", func(t *testing.T) {
		_, err := NewPassageBuilder().Build(&models.CourseLMS{})
		assert.Error(t, err)
	})
}

func TestPassageID(t *testing.T) {
	t.Run("Should depend on text and metadata", func(t *testing.T) {
		base := PassageID("text", map[string]any{"source": "a"})
		assert.Len(t, base, 64)
		assert.Equal(t, base, PassageID("text", map[string]any{"source": "a"}))
		assert.NotEqual(t, base, PassageID("text", map[string]any{"source": "b"}))
		assert.NotEqual(t, base, PassageID("other", map[string]any{"source": "a"}))
	})
}
