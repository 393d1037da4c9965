package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"profai-backend/logger"
	"profai-backend/models"
	"profai-backend/quality"
	"profai-backend/repository"
	"profai-backend/storage"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"
)

var (
	ErrCourseNotFound     = errors.New("course not found")
	ErrJobNotFound        = errors.New("ingest job not found")
	ErrJobCreationFailed  = errors.New("failed to create ingest job")
	ErrNoFiles            = errors.New("no files uploaded")
	ErrNoText             = errors.New("no text could be extracted from uploaded documents")
	ErrCurriculumFailed   = errors.New("curriculum generation failed")
	ErrServiceUnavailable = errors.New("service dependency not configured")
)

const (
	curriculumTemperature = 0.2
	contentTemperature    = 0.5
	maxCurriculumContext  = 200000
	contentWorkers        = 4
)

// CourseStore persists generated courses.
type CourseStore interface {
	Create(ctx context.Context, course *models.CourseLMS) error
	GetByID(ctx context.Context, id int) (*models.CourseLMS, error)
	List(ctx context.Context) ([]models.CourseSummary, error)
	Titles(ctx context.Context) ([]string, error)
}

// JobStore persists ingest job progress.
type JobStore interface {
	Create(ctx context.Context, job *models.IngestJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.IngestJob, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, currentStep string, steps models.IngestSteps) error
	Complete(ctx context.Context, id uuid.UUID, courseID int) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// FileStore records the uploaded files of a job.
type FileStore interface {
	Create(ctx context.Context, file *models.File) error
	ListByJobID(ctx context.Context, jobID uuid.UUID) ([]*models.File, error)
}

// UploadedFile is a document received from a client, already read into
// memory by the transport.
type UploadedFile struct {
	Filename string
	MimeType string
	Data     []byte
}

// CourseService turns uploaded PDFs into an indexed course.
type CourseService struct {
	courses     CourseStore
	jobs        JobStore
	files       FileStore
	storage     storage.Storage
	generator   Generator
	embedder    Embedder
	coordinator *ConversationCoordinator
	validator   *quality.ResponseValidator
	splitter    textsplitter.TextSplitter
	log         logger.Logger

	// serializes title selection and course creation
	saveMu sync.Mutex
}

// CourseServiceOption is a functional option for CourseService
type CourseServiceOption func(*CourseService)

func CourseWithCourseStore(s CourseStore) CourseServiceOption {
	return func(c *CourseService) { c.courses = s }
}

func CourseWithJobStore(s JobStore) CourseServiceOption {
	return func(c *CourseService) { c.jobs = s }
}

func CourseWithFileStore(s FileStore) CourseServiceOption {
	return func(c *CourseService) { c.files = s }
}

// CourseWithStorage sets where uploaded PDFs are kept
func CourseWithStorage(s storage.Storage) CourseServiceOption {
	return func(c *CourseService) { c.storage = s }
}

func CourseWithGenerator(g Generator) CourseServiceOption {
	return func(c *CourseService) { c.generator = g }
}

// CourseWithEmbedder sets the embedder used to look up source chunks while
// writing sub-topic content
func CourseWithEmbedder(e Embedder) CourseServiceOption {
	return func(c *CourseService) { c.embedder = e }
}

// CourseWithCoordinator sets who indexes finished courses
func CourseWithCoordinator(co *ConversationCoordinator) CourseServiceOption {
	return func(c *CourseService) { c.coordinator = co }
}

// CourseWithValidator sets the quality gate for generated lesson content
func CourseWithValidator(v *quality.ResponseValidator) CourseServiceOption {
	return func(c *CourseService) { c.validator = v }
}

// CourseWithChunking sets how extracted text is split, in runes
func CourseWithChunking(size, overlap int) CourseServiceOption {
	return func(c *CourseService) {
		c.splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		)
	}
}

func CourseWithLogger(l logger.Logger) CourseServiceOption {
	return func(c *CourseService) { c.log = l }
}

func NewCourseService(opts ...CourseServiceOption) *CourseService {
	s := &CourseService{}
	CourseWithChunking(1000, 200)(s)
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	if s.validator == nil {
		s.validator = quality.NewResponseValidator(quality.WithLogger(s.log))
	}
	return s
}

// StartIngestJob stores the uploaded files and records a pending job. The
// work itself happens in ProcessIngestJob.
func (s *CourseService) StartIngestJob(ctx context.Context, files []UploadedFile, courseTitle string) (*models.IngestJob, error) {
	if s.jobs == nil || s.files == nil || s.storage == nil {
		return nil, ErrServiceUnavailable
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	job := &models.IngestJob{
		CourseTitle: strings.TrimSpace(courseTitle),
		Status:      models.JobStatusPending,
		Steps:       models.NewIngestSteps(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobCreationFailed, err)
	}

	for _, f := range files {
		fileID := uuid.New()
		path, err := s.storage.Upload(ctx, fileID, f.Filename, bytes.NewReader(f.Data))
		if err != nil {
			s.markJobFailed(ctx, job.ID, "failed to store "+f.Filename+": "+err.Error())
			return nil, fmt.Errorf("failed to store %s: %w", f.Filename, err)
		}
		record := &models.File{
			ID:          fileID,
			JobID:       job.ID,
			Filename:    f.Filename,
			MimeType:    f.MimeType,
			Size:        int64(len(f.Data)),
			StoragePath: path,
		}
		if err := s.files.Create(ctx, record); err != nil {
			s.markJobFailed(ctx, job.ID, "failed to record "+f.Filename+": "+err.Error())
			return nil, fmt.Errorf("failed to record %s: %w", f.Filename, err)
		}
	}

	s.log.Info("Ingest job created", "job_id", job.ID, "files", len(files))
	return job, nil
}

// GetJob returns the current state of an ingest job.
func (s *CourseService) GetJob(ctx context.Context, id uuid.UUID) (*models.IngestJob, error) {
	if s.jobs == nil {
		return nil, ErrServiceUnavailable
	}
	job, err := s.jobs.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (s *CourseService) ListCourses(ctx context.Context) ([]models.CourseSummary, error) {
	if s.courses == nil {
		return nil, ErrServiceUnavailable
	}
	return s.courses.List(ctx)
}

func (s *CourseService) GetCourse(ctx context.Context, id int) (*models.CourseLMS, error) {
	if s.courses == nil {
		return nil, ErrServiceUnavailable
	}
	course, err := s.courses.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCourseNotFound
	}
	return course, err
}

type sourceDocument struct {
	name string
	text string
}

// ProcessIngestJob runs the pipeline for a job created by StartIngestJob.
// Progress is written to the job after every step; a failure marks the job
// failed with the reason.
func (s *CourseService) ProcessIngestJob(ctx context.Context, jobID uuid.UUID) error {
	if s.jobs == nil || s.files == nil || s.storage == nil || s.courses == nil || s.generator == nil || s.embedder == nil {
		return ErrServiceUnavailable
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load ingest job: %w", err)
	}
	log := s.log.With("job_id", jobID)

	var docs []sourceDocument
	err = s.runStep(ctx, jobID, models.StepExtractText, func() error {
		docs, err = s.extractText(ctx, jobID)
		return err
	})
	if err != nil {
		return err
	}

	var chunks []models.Passage
	err = s.runStep(ctx, jobID, models.StepChunkText, func() error {
		chunks, err = s.chunkDocuments(docs)
		return err
	})
	if err != nil {
		return err
	}
	log.Info("Documents chunked", "documents", len(docs), "chunks", len(chunks))

	var course *models.CourseLMS
	err = s.runStep(ctx, jobID, models.StepCurriculum, func() error {
		course, err = s.generateCurriculum(ctx, chunks, job.CourseTitle)
		return err
	})
	if err != nil {
		return err
	}
	log.Info("Curriculum generated", "title", course.CourseTitle, "modules", len(course.Modules))

	err = s.runStep(ctx, jobID, models.StepContent, func() error {
		return s.generateContent(ctx, course, chunks)
	})
	if err != nil {
		return err
	}

	err = s.runStep(ctx, jobID, models.StepSaveCourse, func() error {
		return s.saveCourse(ctx, course)
	})
	if err != nil {
		return err
	}

	err = s.runStep(ctx, jobID, models.StepIndexCourse, func() error {
		if s.coordinator == nil {
			return nil
		}
		_, err := s.coordinator.Ingest(ctx, course)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.jobs.Complete(ctx, jobID, course.CourseID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	log.Info("Ingest job completed", "course_id", course.CourseID)
	return nil
}

// runStep marks step in progress, runs fn and records the outcome.
func (s *CourseService) runStep(ctx context.Context, jobID uuid.UUID, step string, fn func() error) error {
	if err := s.updateStepStatus(ctx, jobID, step, models.StepInProgress); err != nil {
		s.markJobFailed(ctx, jobID, "failed to update step: "+err.Error())
		return err
	}
	if err := fn(); err != nil {
		_ = s.updateStepStatus(ctx, jobID, step, models.StepFailed)
		s.markJobFailed(ctx, jobID, fmt.Sprintf("%s: %v", step, err))
		return fmt.Errorf("%s: %w", strings.ToLower(step), err)
	}
	if err := s.updateStepStatus(ctx, jobID, step, models.StepCompleted); err != nil {
		s.markJobFailed(ctx, jobID, "failed to update step: "+err.Error())
		return err
	}
	return nil
}

// updateStepStatus updates the status of a specific step in the ingest job
func (s *CourseService) updateStepStatus(ctx context.Context, jobID uuid.UUID, stepName, status string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	var currentStep string
	if job.CurrentStep != nil {
		currentStep = *job.CurrentStep
	}
	for i := range job.Steps {
		if job.Steps[i].Name == stepName {
			job.Steps[i].Status = status
			if status == models.StepInProgress {
				currentStep = stepName
			}
			break
		}
	}
	return s.jobs.UpdateProgress(ctx, jobID, currentStep, job.Steps)
}

func (s *CourseService) markJobFailed(ctx context.Context, jobID uuid.UUID, msg string) {
	if err := s.jobs.Fail(context.WithoutCancel(ctx), jobID, msg); err != nil {
		s.log.Error("Failed to mark ingest job failed", "job_id", jobID, "error", err)
	}
}

// extractText downloads every file of the job and pulls its plain text,
// files in parallel.
func (s *CourseService) extractText(ctx context.Context, jobID uuid.UUID) ([]sourceDocument, error) {
	files, err := s.files.ListByJobID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	docs := make([]sourceDocument, len(files))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, f := range files {
		eg.Go(func() error {
			text, err := s.readPDF(egCtx, f.StoragePath)
			if err != nil {
				return fmt.Errorf("%s: %w", f.Filename, err)
			}
			docs[i] = sourceDocument{name: f.Filename, text: text}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := docs[:0]
	for _, d := range docs {
		if strings.TrimSpace(d.text) != "" {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoText
	}
	return out, nil
}

func (s *CourseService) readPDF(ctx context.Context, path string) (string, error) {
	rc, err := s.storage.Download(ctx, path)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return ExtractPDFText(data)
}

// ExtractPDFText returns the plain text of a PDF document.
func ExtractPDFText(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed documents
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("invalid pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("invalid pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}
	return b.String(), nil
}

func (s *CourseService) chunkDocuments(docs []sourceDocument) ([]models.Passage, error) {
	var chunks []models.Passage
	for _, d := range docs {
		pieces, err := s.splitter.SplitText(d.text)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", d.name, err)
		}
		for i, piece := range pieces {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			meta := map[string]any{"source": d.name, "chunk": i}
			chunks = append(chunks, models.Passage{ID: PassageID(piece, meta), Text: piece, Metadata: meta})
		}
	}
	if len(chunks) == 0 {
		return nil, errors.New("no chunks could be created from documents")
	}
	return chunks, nil
}

const curriculumPrompt = `You are an expert instructional designer tasked with creating a university-level course curriculum.
Analyze the provided context from various documents and generate a logical, week-by-week learning path.

CONTEXT:
%s

INSTRUCTIONS:
1. Create a comprehensive course structure with a clear title.
2. Organize the content into weekly modules.
3. For each week, define a clear module title and a list of specific sub-topics to be covered.
4. Ensure the learning path is logical and progressive.
5. The course should span a reasonable number of weeks based on the provided content.

Respond with only a JSON object of this shape:
{"course_title": "...", "modules": [{"week": 1, "title": "...", "sub_topics": [{"title": "..."}]}]}`

func (s *CourseService) generateCurriculum(ctx context.Context, chunks []models.Passage, title string) (*models.CourseLMS, error) {
	var (
		b    strings.Builder
		used int
	)
	for _, c := range chunks {
		if used+len(c.Text) > maxCurriculumContext {
			if remaining := maxCurriculumContext - used; remaining > 100 {
				b.WriteString(truncateUTF8(c.Text, remaining))
				b.WriteString("...")
			}
			break
		}
		if used > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(c.Text)
		used += len(c.Text) + 5
	}

	raw, err := s.generator.Complete(ctx, GenerateRequest{
		Prompt:      fmt.Sprintf(curriculumPrompt, b.String()),
		Temperature: curriculumTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCurriculumFailed, err)
	}

	course, err := ParseCurriculum(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCurriculumFailed, err)
	}
	if title != "" {
		course.CourseTitle = title
	}
	return course, nil
}

// ParseCurriculum decodes the JSON object in a model response, tolerating
// markdown fences and surrounding prose.
func ParseCurriculum(raw string) (*models.CourseLMS, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errors.New("response contains no JSON object")
	}

	var course models.CourseLMS
	if err := json.Unmarshal([]byte(raw[start:end+1]), &course); err != nil {
		return nil, fmt.Errorf("invalid curriculum JSON: %w", err)
	}
	if len(course.Modules) == 0 {
		return nil, errors.New("curriculum has no modules")
	}
	course.Normalize()
	if course.CourseTitle == "" {
		course.CourseTitle = "Untitled Course"
	}
	return &course, nil
}

const contentPrompt = `You are an expert university professor. Write detailed, clear, and engaging lecture content
for the given topic based *only* on the provided context.

CONTEXT:
%s

TOPIC:
%s

INSTRUCTIONS:
- Explain the topic thoroughly using the provided context.
- Use examples from the context if available.
- Structure the content with clear headings and paragraphs.
- The tone should be academic and authoritative, yet accessible.
- Provide comprehensive coverage of the topic.`

// Notes shown in place of lesson content that could not be produced.
const (
	contentFailedNote   = "Content generation failed for this topic. Please try regenerating the course."
	contentRejectedNote = "Content for this topic did not pass quality checks. Please try regenerating the course."
)

// generateContent writes every sub-topic from the source chunks closest to
// its title. Generated text passes the quality gate; a sub-topic that fails
// or is rejected keeps a note instead and is marked so it is never indexed.
func (s *CourseService) generateContent(ctx context.Context, course *models.CourseLMS, chunks []models.Passage) error {
	sources := NewMemoryIndex(s.embedder, IndexWithTopK(4), IndexWithLogger(s.log))
	if err := sources.AddPassages(ctx, chunks); err != nil {
		return fmt.Errorf("failed to index source chunks: %w", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(contentWorkers)
	for mi := range course.Modules {
		for ti := range course.Modules[mi].SubTopics {
			st := &course.Modules[mi].SubTopics[ti]
			eg.Go(func() error {
				content, err := s.writeSubTopic(egCtx, sources, st.Title)
				if err != nil {
					if egCtx.Err() != nil {
						return egCtx.Err()
					}
					s.log.Warn("Content generation failed", "topic", st.Title, "error", err)
					st.Content, st.ContentStatus = contentFailedNote, models.ContentStatusFailed
					return nil
				}
				content, err = s.validator.Validate(content)
				if err != nil {
					st.Content, st.ContentStatus = contentRejectedNote, models.ContentStatusRejected
					return nil
				}
				st.Content, st.ContentStatus = content, ""
				return nil
			})
		}
	}
	return eg.Wait()
}

func (s *CourseService) writeSubTopic(ctx context.Context, sources Retriever, topic string) (string, error) {
	res, err := sources.Retrieve(ctx, topic)
	if err != nil {
		return "", err
	}
	texts := make([]string, 0, len(res.Passages))
	for _, p := range res.Passages {
		texts = append(texts, p.Text)
	}
	return s.generator.Complete(ctx, GenerateRequest{
		Prompt:      fmt.Sprintf(contentPrompt, strings.Join(texts, "\n---\n"), topic),
		Temperature: contentTemperature,
	})
}

func (s *CourseService) saveCourse(ctx context.Context, course *models.CourseLMS) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	titles, err := s.courses.Titles(ctx)
	if err != nil {
		return fmt.Errorf("failed to load course titles: %w", err)
	}
	course.CourseTitle = UniqueTitle(course.CourseTitle, titles)
	if err := s.courses.Create(ctx, course); err != nil {
		return fmt.Errorf("failed to save course: %w", err)
	}
	return nil
}

// UniqueTitle returns title, or "title (n)" with the smallest n >= 2 that
// is not taken.
func UniqueTitle(title string, taken []string) string {
	used := make(map[string]bool, len(taken))
	for _, t := range taken {
		used[t] = true
	}
	candidate := title
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s (%d)", title, n)
	}
	return candidate
}
