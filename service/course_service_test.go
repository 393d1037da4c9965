package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"profai-backend/models"
	"profai-backend/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type courseFixture struct {
	svc     *CourseService
	courses *repository.MemoryCourseStore
	jobs    *repository.MemoryJobStore
	files   *repository.MemoryFileStore
	blobs   *memoryBlobs
	gen     *fakeGenerator
	coord   *ConversationCoordinator
}

func newCourseFixture() *courseFixture {
	f := &courseFixture{
		courses: repository.NewMemoryCourseStore(),
		jobs:    repository.NewMemoryJobStore(),
		files:   repository.NewMemoryFileStore(),
		blobs:   &memoryBlobs{},
		gen:     &fakeGenerator{},
	}
	emb := &letterEmbedder{}
	f.coord = NewConversationCoordinator(
		newTestOrchestrator(f.gen, nil, nil), &fakeTranslator{},
		CoordinatorWithIndex(NewMemoryIndex(emb)),
		CoordinatorWithLogger(quietLog),
	)
	f.svc = NewCourseService(
		CourseWithCourseStore(f.courses),
		CourseWithJobStore(f.jobs),
		CourseWithFileStore(f.files),
		CourseWithStorage(f.blobs),
		CourseWithGenerator(f.gen),
		CourseWithEmbedder(emb),
		CourseWithCoordinator(f.coord),
		CourseWithLogger(quietLog),
	)
	return f
}

func TestCourseService_StartIngestJob(t *testing.T) {
	ctx := context.Background()

	t.Run("Should store files and create a pending job", func(t *testing.T) {
		f := newCourseFixture()
		job, err := f.svc.StartIngestJob(ctx, []UploadedFile{
			{Filename: "a.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4 a")},
			{Filename: "b.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4 b")},
		}, "  Biology  ")

		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPending, job.Status)
		assert.Equal(t, "Biology", job.CourseTitle)
		assert.Len(t, job.Steps, 6)

		files, err := f.files.ListByJobID(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, int64(10), files[0].Size)
		assert.Len(t, f.blobs.objects, 2)
	})

	t.Run("Should reject an empty upload", func(t *testing.T) {
		_, err := newCourseFixture().svc.StartIngestJob(ctx, nil, "")
		assert.ErrorIs(t, err, ErrNoFiles)
	})

	t.Run("Should fail the job when storage fails", func(t *testing.T) {
		f := newCourseFixture()
		f.blobs.err = errors.New("disk full")

		_, err := f.svc.StartIngestJob(ctx, []UploadedFile{{Filename: "a.pdf", Data: []byte("x")}}, "")
		assert.Error(t, err)
	})
}

func TestCourseService_ProcessIngestJob(t *testing.T) {
	ctx := context.Background()

	t.Run("Should mark the job failed when a file is not a PDF", func(t *testing.T) {
		f := newCourseFixture()
		job, err := f.svc.StartIngestJob(ctx, []UploadedFile{{Filename: "a.pdf", Data: []byte("not a pdf")}}, "")
		require.NoError(t, err)

		err = f.svc.ProcessIngestJob(ctx, job.ID)
		require.Error(t, err)

		got, err := f.svc.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Contains(t, *got.ErrorMessage, models.StepExtractText)
		assert.Equal(t, models.StepFailed, got.Steps[0].Status)
	})

	t.Run("Should refuse to run without its dependencies", func(t *testing.T) {
		err := NewCourseService().ProcessIngestJob(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrServiceUnavailable)
	})
}

func TestCourseService_Pipeline(t *testing.T) {
	ctx := context.Background()
	chunks := []models.Passage{
		{ID: "1", Text: "Chlorophyll absorbs blue and red light."},
		{ID: "2", Text: "The Calvin cycle fixes carbon."},
	}

	t.Run("Should build a curriculum and write every sub-topic", func(t *testing.T) {
		f := newCourseFixture()
		var mu sync.Mutex
		var temps []float32
		f.gen.complete = func(req GenerateRequest) (string, error) {
			mu.Lock()
			temps = append(temps, req.Temperature)
			mu.Unlock()
			if strings.Contains(req.Prompt, "instructional designer") {
				return "```json\n" + `{"course_title":"Plants","modules":[{"week":1,"title":"Light","sub_topics":[{"title":"Chlorophyll"},{"title":"Pigments"}]}]}` + "\n```", nil
			}
			if strings.Contains(req.Prompt, "TOPIC:\nPigments") {
				return "", errors.New("model overloaded")
			}
			return "Lecture on the topic.", nil
		}

		course, err := f.svc.generateCurriculum(ctx, chunks, "")
		require.NoError(t, err)
		assert.Equal(t, "Plants", course.CourseTitle)

		require.NoError(t, f.svc.generateContent(ctx, course, chunks))
		topics := course.Modules[0].SubTopics
		assert.Equal(t, "Lecture on the topic.", topics[0].Content)
		assert.True(t, strings.HasPrefix(topics[1].Content, "Content generation failed for this topic."))
		assert.Equal(t, models.ContentStatusFailed, topics[1].ContentStatus)
		assert.NotContains(t, topics[1].Content, "model overloaded")
		assert.Contains(t, temps, float32(0.2))
		assert.Contains(t, temps, float32(0.5))
	})

	t.Run("Should keep failed and garbage lessons out of the index", func(t *testing.T) {
		f := newCourseFixture()
		f.gen.complete = func(req GenerateRequest) (string, error) {
			switch {
			case strings.Contains(req.Prompt, "TOPIC:\nBad"):
				return strings.Repeat("@", 40), nil
			case strings.Contains(req.Prompt, "TOPIC:\nFail"):
				return "", errors.New("googleapi: Error 429: quota exceeded for key AIza-secret")
			}
			return "Chlorophyll absorbs red and blue light to power photosynthesis.", nil
		}
		course := &models.CourseLMS{CourseTitle: "Plants", Modules: []models.Module{{
			Week: 1, Title: "Light",
			SubTopics: []models.SubTopic{{Title: "Good"}, {Title: "Bad"}, {Title: "Fail"}},
		}}}

		require.NoError(t, f.svc.generateContent(ctx, course, chunks))
		topics := course.Modules[0].SubTopics
		assert.Empty(t, topics[0].ContentStatus)
		assert.Equal(t, models.ContentStatusRejected, topics[1].ContentStatus)
		assert.Equal(t, models.ContentStatusFailed, topics[2].ContentStatus)

		passages, err := NewPassageBuilder().Build(course)
		require.NoError(t, err)
		var indexed []string
		for _, p := range passages {
			if p.Source() == models.PassageSourceContent {
				indexed = append(indexed, p.Metadata["topic"].(string))
			}
			assert.NotContains(t, p.Text, "@@@@")
			assert.NotContains(t, p.Text, "AIza-secret")
		}
		assert.Equal(t, []string{"Good"}, indexed)

		_, err = f.coord.Ingest(ctx, course)
		require.NoError(t, err)
	})

	t.Run("Should prefer the uploader's title", func(t *testing.T) {
		f := newCourseFixture()
		f.gen.complete = func(GenerateRequest) (string, error) {
			return `{"course_title":"Generated","modules":[{"title":"Intro"}]}`, nil
		}
		course, err := f.svc.generateCurriculum(ctx, chunks, "Botany 101")
		require.NoError(t, err)
		assert.Equal(t, "Botany 101", course.CourseTitle)
		assert.Equal(t, 1, course.Modules[0].Week)
	})

	t.Run("Should save with a unique title and index the course", func(t *testing.T) {
		f := newCourseFixture()
		require.NoError(t, f.courses.Create(ctx, &models.CourseLMS{CourseTitle: "Plants"}))

		course := sampleCourse()
		course.CourseTitle = "Plants"
		require.NoError(t, f.svc.saveCourse(ctx, course))
		assert.Equal(t, "Plants (2)", course.CourseTitle)
		assert.Equal(t, 2, course.CourseID)

		_, err := f.coord.Ingest(ctx, course)
		require.NoError(t, err)
		assert.True(t, f.coord.Available())

		list, err := f.svc.ListCourses(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("Should map unknown ids to not found", func(t *testing.T) {
		f := newCourseFixture()
		_, err := f.svc.GetCourse(ctx, 42)
		assert.ErrorIs(t, err, ErrCourseNotFound)
		_, err = f.svc.GetJob(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestParseCurriculum(t *testing.T) {
	t.Run("Should reject responses without modules", func(t *testing.T) {
		_, err := ParseCurriculum(`{"course_title":"x","modules":[]}`)
		assert.Error(t, err)
		_, err = ParseCurriculum("no json here")
		assert.Error(t, err)
	})

	t.Run("Should fill missing titles", func(t *testing.T) {
		c, err := ParseCurriculum(`Here you go: {"modules":[{"sub_topics":[{}]}]} Enjoy!`)
		require.NoError(t, err)
		assert.Equal(t, "Untitled Course", c.CourseTitle)
		assert.Equal(t, "Module 1", c.Modules[0].Title)
		assert.Equal(t, "Topic 1", c.Modules[0].SubTopics[0].Title)
	})
}

func TestUniqueTitle(t *testing.T) {
	t.Run("Should number duplicate titles from two", func(t *testing.T) {
		assert.Equal(t, "A", UniqueTitle("A", nil))
		assert.Equal(t, "A (2)", UniqueTitle("A", []string{"A"}))
		assert.Equal(t, "A (4)", UniqueTitle("A", []string{"A", "A (2)", "A (3)"}))
	})
}
