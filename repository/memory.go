package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"profai-backend/models"

	"github.com/google/uuid"
)

// The Memory* stores mirror the Postgres repositories for runs without a
// database. Records are copied in and out so callers never share state.

type MemoryCourseStore struct {
	mu      sync.RWMutex
	courses map[int]models.CourseLMS
	nextID  int
}

func NewMemoryCourseStore() *MemoryCourseStore {
	return &MemoryCourseStore{courses: make(map[int]models.CourseLMS), nextID: 1}
}

func (s *MemoryCourseStore) Create(_ context.Context, course *models.CourseLMS) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	course.CourseID = s.nextID
	s.nextID++
	s.courses[course.CourseID] = cloneCourse(*course)
	return nil
}

func (s *MemoryCourseStore) GetByID(_ context.Context, id int) (*models.CourseLMS, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneCourse(c)
	return &out, nil
}

func (s *MemoryCourseStore) List(_ context.Context) ([]models.CourseSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CourseSummary, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, c.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out, nil
}

func (s *MemoryCourseStore) Titles(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	titles := make([]string, 0, len(s.courses))
	for _, c := range s.courses {
		titles = append(titles, c.CourseTitle)
	}
	return titles, nil
}

func cloneCourse(c models.CourseLMS) models.CourseLMS {
	modules := make([]models.Module, len(c.Modules))
	for i, m := range c.Modules {
		m.SubTopics = append([]models.SubTopic(nil), m.SubTopics...)
		modules[i] = m
	}
	c.Modules = modules
	return c
}

type MemoryQuizStore struct {
	mu      sync.RWMutex
	quizzes map[string]models.Quiz
	results []models.QuizResult
}

func NewMemoryQuizStore() *MemoryQuizStore {
	return &MemoryQuizStore{quizzes: make(map[string]models.Quiz)}
}

func (s *MemoryQuizStore) Create(_ context.Context, quiz *models.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := *quiz
	q.Questions = append([]models.QuizQuestion(nil), quiz.Questions...)
	s.quizzes[q.QuizID] = q
	return nil
}

func (s *MemoryQuizStore) GetByID(_ context.Context, id string) (*models.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quizzes[id]
	if !ok {
		return nil, ErrNotFound
	}
	q.Questions = append([]models.QuizQuestion(nil), q.Questions...)
	return &q, nil
}

func (s *MemoryQuizStore) SaveResult(_ context.Context, result *models.QuizResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, *result)
	return nil
}

// Results returns the stored submissions for quizID.
func (s *MemoryQuizStore) Results(quizID string) []models.QuizResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.QuizResult
	for _, r := range s.results {
		if r.QuizID == quizID {
			out = append(out, r)
		}
	}
	return out
}

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]models.IngestJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]models.IngestJob)}
}

func (s *MemoryJobStore) Create(_ context.Context, job *models.IngestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	job.ID = uuid.New()
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = cloneJob(*job)
	return nil
}

func (s *MemoryJobStore) GetByID(_ context.Context, id uuid.UUID) (*models.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneJob(job)
	return &out, nil
}

func (s *MemoryJobStore) UpdateProgress(_ context.Context, id uuid.UUID, currentStep string, steps models.IngestSteps) error {
	return s.update(id, func(job *models.IngestJob) {
		job.Status = models.JobStatusInProgress
		job.CurrentStep = &currentStep
		job.Steps = append(models.IngestSteps(nil), steps...)
	})
}

func (s *MemoryJobStore) Complete(_ context.Context, id uuid.UUID, courseID int) error {
	return s.update(id, func(job *models.IngestJob) {
		now := time.Now()
		job.Status = models.JobStatusCompleted
		job.CourseID = &courseID
		job.CompletedAt = &now
	})
}

func (s *MemoryJobStore) Fail(_ context.Context, id uuid.UUID, errorMessage string) error {
	return s.update(id, func(job *models.IngestJob) {
		job.Status = models.JobStatusFailed
		job.ErrorMessage = &errorMessage
	})
}

func (s *MemoryJobStore) update(id uuid.UUID, fn func(*models.IngestJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	fn(&job)
	job.UpdatedAt = time.Now()
	s.jobs[id] = job
	return nil
}

func cloneJob(j models.IngestJob) models.IngestJob {
	j.Steps = append(models.IngestSteps(nil), j.Steps...)
	return j
}

type MemoryFileStore struct {
	mu    sync.Mutex
	files []models.File
}

func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{}
}

func (s *MemoryFileStore) Create(_ context.Context, file *models.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file.CreatedAt = time.Now()
	s.files = append(s.files, *file)
	return nil
}

func (s *MemoryFileStore) ListByJobID(_ context.Context, jobID uuid.UUID) ([]*models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.File
	for i := range s.files {
		if s.files[i].JobID == jobID {
			f := s.files[i]
			out = append(out, &f)
		}
	}
	return out, nil
}
