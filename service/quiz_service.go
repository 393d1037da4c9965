package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"profai-backend/logger"
	"profai-backend/models"
	"profai-backend/repository"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrModuleNotFound       = errors.New("module not found")
	ErrQuizNotFound         = errors.New("quiz not found")
	ErrQuizGenerationFailed = errors.New("failed to generate quiz")
)

const (
	moduleQuizSize      = 20
	courseQuizPartSize  = 20
	courseQuizSize      = 40
	courseContentLimit  = 8000
	quizTemperature     = 0.7
	defaultCorrectLabel = "A"
)

// QuizStore persists quizzes and submission results.
type QuizStore interface {
	Create(ctx context.Context, quiz *models.Quiz) error
	GetByID(ctx context.Context, id string) (*models.Quiz, error)
	SaveResult(ctx context.Context, result *models.QuizResult) error
}

// QuizService generates multiple choice quizzes from stored courses and
// scores submissions.
type QuizService struct {
	courses   CourseStore
	quizzes   QuizStore
	generator Generator
	log       logger.Logger
}

func NewQuizService(courses CourseStore, quizzes QuizStore, generator Generator, log logger.Logger) *QuizService {
	if log == nil {
		log = logger.Default()
	}
	return &QuizService{courses: courses, quizzes: quizzes, generator: generator, log: log}
}

func (s *QuizService) loadCourse(ctx context.Context, id int) (*models.CourseLMS, error) {
	course, err := s.courses.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCourseNotFound
	}
	return course, err
}

// GenerateModuleQuiz builds a 20 question quiz for one week of a course.
// When the model returns fewer questions, one follow-up request asks for
// the rest.
func (s *QuizService) GenerateModuleQuiz(ctx context.Context, courseID, week int) (*models.Quiz, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	module := course.ModuleByWeek(week)
	if module == nil {
		return nil, fmt.Errorf("%w: week %d", ErrModuleNotFound, week)
	}

	content := moduleContent(module)
	quizID := fmt.Sprintf("module_%d_%s", week, shortID())

	resp, err := s.generator.Complete(ctx, GenerateRequest{
		Prompt:      moduleQuizPrompt(module, content),
		Temperature: quizTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuizGenerationFailed, err)
	}
	questions := ParseQuizResponse(resp, quizID, 0)

	if missing := moduleQuizSize - len(questions); missing > 0 {
		s.log.Info("Quiz short of questions, requesting more", "quiz_id", quizID, "missing", missing)
		extra, err := s.generator.Complete(ctx, GenerateRequest{
			Prompt:      additionalQuestionsPrompt(content, missing),
			Temperature: quizTemperature,
		})
		if err != nil {
			s.log.Warn("Follow-up quiz request failed", "quiz_id", quizID, "error", err)
		} else {
			questions = append(questions, ParseQuizResponse(extra, quizID, len(questions))...)
		}
	}
	if len(questions) > moduleQuizSize {
		questions = questions[:moduleQuizSize]
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions in model response", ErrQuizGenerationFailed)
	}

	title := module.Title
	if title == "" {
		title = "Module Quiz"
	}
	moduleWeek := week
	quiz := &models.Quiz{
		QuizID:         quizID,
		Title:          fmt.Sprintf("Module %d Quiz: %s", week, title),
		Description:    fmt.Sprintf("%d-question MCQ quiz covering content from Week %d", moduleQuizSize, week),
		Questions:      questions,
		TotalQuestions: len(questions),
		QuizType:       models.QuizTypeModule,
		ModuleWeek:     &moduleWeek,
		CourseID:       course.CourseID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.quizzes.Create(ctx, quiz); err != nil {
		return nil, fmt.Errorf("failed to store quiz: %w", err)
	}
	s.log.Info("Module quiz generated", "quiz_id", quizID, "questions", len(questions))
	return quiz, nil
}

// GenerateCourseQuiz builds a quiz over the whole course from two
// 20 question requests made concurrently.
func (s *QuizService) GenerateCourseQuiz(ctx context.Context, courseID int) (*models.Quiz, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	content := courseContent(course)
	if len(content) > courseContentLimit {
		content = truncateUTF8(content, courseContentLimit)
	}
	quizID := "course_" + shortID()

	var parts [2][]models.QuizQuestion
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range parts {
		eg.Go(func() error {
			resp, err := s.generator.Complete(egCtx, GenerateRequest{
				Prompt:      courseQuizPrompt(content, i+1),
				Temperature: quizTemperature,
			})
			if err != nil {
				return fmt.Errorf("part %d: %w", i+1, err)
			}
			parts[i] = ParseQuizResponse(resp, quizID, i*courseQuizPartSize)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuizGenerationFailed, err)
	}

	questions := append(parts[0], parts[1]...)
	if len(questions) > courseQuizSize {
		questions = questions[:courseQuizSize]
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions in model response", ErrQuizGenerationFailed)
	}

	title := course.CourseTitle
	if title == "" {
		title = "Course Quiz"
	}
	quiz := &models.Quiz{
		QuizID:         quizID,
		Title:          "Final Course Quiz: " + title,
		Description:    fmt.Sprintf("%d-question comprehensive MCQ quiz covering the entire course content", courseQuizSize),
		Questions:      questions,
		TotalQuestions: len(questions),
		QuizType:       models.QuizTypeCourse,
		CourseID:       course.CourseID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.quizzes.Create(ctx, quiz); err != nil {
		return nil, fmt.Errorf("failed to store quiz: %w", err)
	}
	s.log.Info("Course quiz generated", "quiz_id", quizID, "questions", len(questions))
	return quiz, nil
}

// GetQuiz returns a quiz in the form shown to learners.
func (s *QuizService) GetQuiz(ctx context.Context, id string) (*models.QuizDisplay, error) {
	quiz, err := s.quizzes.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, err
	}
	display := quiz.Display()
	return &display, nil
}

// Submit scores a submission against the stored answers and records the
// result. Every question of the quiz counts towards the total; unanswered
// ones are wrong.
func (s *QuizService) Submit(ctx context.Context, sub models.QuizSubmission) (*models.QuizResult, error) {
	quiz, err := s.quizzes.GetByID(ctx, sub.QuizID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, err
	}

	result := Score(quiz, sub)
	if err := s.quizzes.SaveResult(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to store quiz result: %w", err)
	}
	s.log.Info("Quiz evaluated", "quiz_id", quiz.QuizID, "user_id", sub.UserID,
		"score", result.Score, "total", result.TotalQuestions)
	return result, nil
}

// Score compares answers case-insensitively. The percentage is rounded to
// two decimals and passing needs models.PassPercentage.
func Score(quiz *models.Quiz, sub models.QuizSubmission) *models.QuizResult {
	answers := make(map[string]string, len(sub.Answers))
	for qid, a := range sub.Answers {
		answers[qid] = strings.ToUpper(strings.TrimSpace(a))
	}

	result := &models.QuizResult{
		QuizID:          quiz.QuizID,
		UserID:          sub.UserID,
		TotalQuestions:  len(quiz.Questions),
		DetailedResults: make([]models.QuestionResult, 0, len(quiz.Questions)),
		SubmittedAt:     time.Now().UTC(),
	}
	for _, q := range quiz.Questions {
		given := answers[q.QuestionID]
		correct := given != "" && given == strings.ToUpper(q.CorrectAnswer)
		if correct {
			result.Score++
		}
		result.DetailedResults = append(result.DetailedResults, models.QuestionResult{
			QuestionID:    q.QuestionID,
			UserAnswer:    given,
			CorrectAnswer: q.CorrectAnswer,
			IsCorrect:     correct,
		})
	}
	if result.TotalQuestions > 0 {
		pct := float64(result.Score) / float64(result.TotalQuestions) * 100
		result.Percentage = math.Round(pct*100) / 100
	}
	result.Passed = result.Percentage >= models.PassPercentage
	return result
}

var questionStart = regexp.MustCompile(`^Q\d*\s*[.)]\s*`)

// ParseQuizResponse reads questions in the "Q1. / A) .. D) / ANSWER: /
// EXPLANATION:" layout. Question ids continue from startID as
// "{quizID}_q{n}".
func ParseQuizResponse(response, quizID string, startID int) []models.QuizQuestion {
	var (
		questions []models.QuizQuestion
		current   *models.QuizQuestion
	)
	flush := func() {
		if current == nil || current.QuestionText == "" {
			return
		}
		if current.CorrectAnswer == "" {
			current.CorrectAnswer = defaultCorrectLabel
		}
		current.QuestionID = fmt.Sprintf("%s_q%d", quizID, startID+len(questions)+1)
		questions = append(questions, *current)
	}

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case questionStart.MatchString(line):
			flush()
			current = &models.QuizQuestion{
				QuestionText: strings.TrimSpace(questionStart.ReplaceAllString(line, "")),
				Options:      make([]string, 0, 4),
			}
		case current == nil:
		case isOptionLine(line):
			if len(current.Options) < 4 {
				current.Options = append(current.Options, strings.TrimSpace(line[2:]))
			}
		case strings.HasPrefix(line, "ANSWER:"):
			current.CorrectAnswer = strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, "ANSWER:")))
		case strings.HasPrefix(line, "EXPLANATION:"):
			current.Explanation = strings.TrimSpace(strings.TrimPrefix(line, "EXPLANATION:"))
		}
	}
	flush()
	return questions
}

func isOptionLine(line string) bool {
	if len(line) < 2 || line[1] != ')' {
		return false
	}
	switch line[0] {
	case 'A', 'B', 'C', 'D':
		return true
	}
	return false
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func moduleContent(m *models.Module) string {
	parts := []string{fmt.Sprintf("Module Week %d: %s", m.Week, m.Title)}
	for _, st := range m.SubTopics {
		parts = append(parts, fmt.Sprintf("\n--- %s ---", st.Title), st.Content)
	}
	return strings.Join(parts, "\n")
}

func courseContent(c *models.CourseLMS) string {
	parts := []string{"Course: " + c.CourseTitle}
	for i := range c.Modules {
		parts = append(parts, moduleContent(&c.Modules[i]))
	}
	return strings.Join(parts, "\n")
}

const answerFormat = `FORMAT YOUR RESPONSE AS:
Q%s. [Question text]
A) [Option A]
B) [Option B]
C) [Option C]
D) [Option D]
ANSWER: [A/B/C/D]
EXPLANATION: [Brief explanation]`

func moduleQuizPrompt(m *models.Module, content string) string {
	return fmt.Sprintf(`Generate a 20-question multiple choice quiz based on the following module content.

MODULE INFORMATION:
Week: %d
Title: %s

CONTENT:
%s

REQUIREMENTS:
1. Generate exactly 20 multiple choice questions
2. Each question should have 4 options (A, B, C, D)
3. Questions should cover different aspects of the module content
4. Mix difficulty levels: 40%% easy, 40%% medium, 20%% hard
5. Include practical application questions
6. Ensure questions test understanding, not just memorization

%s

Q2. [Next question...]

Continue this format for all 20 questions.`, m.Week, m.Title, content, fmt.Sprintf(answerFormat, "1"))
}

func courseQuizPrompt(content string, part int) string {
	first := 1 + (part-1)*courseQuizPartSize
	return fmt.Sprintf(`Generate questions %d to %d of a comprehensive multiple choice quiz based on the entire course content below.

COURSE CONTENT:
%s

REQUIREMENTS:
1. Generate exactly 20 multiple choice questions for this part
2. Each question should have 4 options (A, B, C, D)
3. Cover content from all modules proportionally
4. Mix difficulty levels: 30%% easy, 50%% medium, 20%% hard
5. Include synthesis questions that connect concepts across modules
6. Test both theoretical understanding and practical application

%s

Continue this format for all 20 questions in this part.`,
		first, first+courseQuizPartSize-1, content, fmt.Sprintf(answerFormat, fmt.Sprint(first)))
}

func additionalQuestionsPrompt(content string, n int) string {
	return fmt.Sprintf(`Generate %d additional multiple choice questions based on the following content:

%s

REQUIREMENTS:
1. Generate exactly %d questions
2. Each question should have 4 options (A, B, C, D)
3. Focus on different aspects not covered in previous questions
4. Maintain good difficulty distribution

%s`, n, content, n, fmt.Sprintf(answerFormat, ""))
}
