package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"profai-backend/models"
	"profai-backend/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quizText renders n questions numbered from first, all answered with B.
func quizText(first, n int) string {
	var b strings.Builder
	for i := first; i < first+n; i++ {
		fmt.Fprintf(&b, "Q%d. Question number %d?\nA) one\nB) two\nC) three\nD) four\nANSWER: b\nEXPLANATION: because\n\n", i, i)
	}
	return b.String()
}

func TestParseQuizResponse(t *testing.T) {
	t.Run("Should parse questions, options, answers and explanations", func(t *testing.T) {
		resp := `Here is your quiz.

Q1. What does chlorophyll absorb?
A) Green light
B) Blue and red light
C) Only ultraviolet
D) Nothing
E) Extra option
ANSWER: b
EXPLANATION: It reflects green.

Q2) Where does the Calvin cycle run?
A) Stroma
B) Thylakoid
C) Nucleus
D) Cell wall
`
		got := ParseQuizResponse(resp, "quiz", 0)
		require.Len(t, got, 2)

		assert.Equal(t, "quiz_q1", got[0].QuestionID)
		assert.Equal(t, "What does chlorophyll absorb?", got[0].QuestionText)
		assert.Equal(t, []string{"Green light", "Blue and red light", "Only ultraviolet", "Nothing"}, got[0].Options)
		assert.Equal(t, "B", got[0].CorrectAnswer)
		assert.Equal(t, "It reflects green.", got[0].Explanation)

		assert.Equal(t, "quiz_q2", got[1].QuestionID)
		assert.Equal(t, "Where does the Calvin cycle run?", got[1].QuestionText)
		assert.Equal(t, "A", got[1].CorrectAnswer)
	})

	t.Run("Should continue numbering from the start id", func(t *testing.T) {
		got := ParseQuizResponse("Q. Unnumbered?\nA) x\nANSWER: A", "quiz", 20)
		require.Len(t, got, 1)
		assert.Equal(t, "quiz_q21", got[0].QuestionID)
		assert.Equal(t, "Unnumbered?", got[0].QuestionText)
	})

	t.Run("Should ignore prose that merely starts with Q", func(t *testing.T) {
		assert.Empty(t, ParseQuizResponse("Quantum effects matter. Quite so.", "quiz", 0))
	})
}

func TestScore(t *testing.T) {
	quiz := &models.Quiz{QuizID: "q", Questions: []models.QuizQuestion{
		{QuestionID: "q_q1", CorrectAnswer: "A"},
		{QuestionID: "q_q2", CorrectAnswer: "B"},
		{QuestionID: "q_q3", CorrectAnswer: "C"},
	}}

	t.Run("Should compare letters case-insensitively and round to two decimals", func(t *testing.T) {
		got := Score(quiz, models.QuizSubmission{QuizID: "q", UserID: "u", Answers: map[string]string{
			"q_q1": "a", "q_q2": " B ", "q_q3": "D",
		}})
		assert.Equal(t, 2, got.Score)
		assert.Equal(t, 3, got.TotalQuestions)
		assert.Equal(t, 66.67, got.Percentage)
		assert.True(t, got.Passed)
		require.Len(t, got.DetailedResults, 3)
		assert.False(t, got.DetailedResults[2].IsCorrect)
	})

	t.Run("Should count unanswered questions as wrong", func(t *testing.T) {
		got := Score(quiz, models.QuizSubmission{Answers: map[string]string{"q_q1": "A"}})
		assert.Equal(t, 33.33, got.Percentage)
		assert.False(t, got.Passed)
		assert.Equal(t, "", got.DetailedResults[1].UserAnswer)
	})

	t.Run("Should pass at exactly sixty percent", func(t *testing.T) {
		five := &models.Quiz{}
		answers := map[string]string{}
		for i := 1; i <= 5; i++ {
			id := fmt.Sprintf("q%d", i)
			five.Questions = append(five.Questions, models.QuizQuestion{QuestionID: id, CorrectAnswer: "A"})
			if i <= 3 {
				answers[id] = "A"
			}
		}
		got := Score(five, models.QuizSubmission{Answers: answers})
		assert.Equal(t, 60.0, got.Percentage)
		assert.True(t, got.Passed)
	})
}

func newQuizFixture(t *testing.T, gen *fakeGenerator) (*QuizService, *repository.MemoryQuizStore) {
	t.Helper()
	courses := repository.NewMemoryCourseStore()
	require.NoError(t, courses.Create(context.Background(), sampleCourse()))
	quizzes := repository.NewMemoryQuizStore()
	return NewQuizService(courses, quizzes, gen, quietLog), quizzes
}

func TestQuizService_GenerateModuleQuiz(t *testing.T) {
	ctx := context.Background()

	t.Run("Should top up a short quiz once", func(t *testing.T) {
		calls := 0
		gen := &fakeGenerator{complete: func(req GenerateRequest) (string, error) {
			calls++
			if calls == 1 {
				assert.Contains(t, req.Prompt, "Title: Calvin cycle")
				return quizText(1, 15), nil
			}
			assert.Contains(t, req.Prompt, "Generate 5 additional")
			return quizText(1, 8), nil
		}}
		svc, _ := newQuizFixture(t, gen)

		quiz, err := svc.GenerateModuleQuiz(ctx, 1, 2)

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Len(t, quiz.Questions, 20)
		assert.Equal(t, 20, quiz.TotalQuestions)
		assert.Equal(t, models.QuizTypeModule, quiz.QuizType)
		assert.Equal(t, 2, *quiz.ModuleWeek)
		assert.Equal(t, "Module 2 Quiz: Calvin cycle", quiz.Title)
		assert.True(t, strings.HasPrefix(quiz.QuizID, "module_2_"))
		assert.Equal(t, quiz.QuizID+"_q16", quiz.Questions[15].QuestionID)
	})

	t.Run("Should reject unknown weeks and courses", func(t *testing.T) {
		svc, _ := newQuizFixture(t, &fakeGenerator{})
		_, err := svc.GenerateModuleQuiz(ctx, 1, 9)
		assert.ErrorIs(t, err, ErrModuleNotFound)
		_, err = svc.GenerateModuleQuiz(ctx, 7, 1)
		assert.ErrorIs(t, err, ErrCourseNotFound)
	})

	t.Run("Should fail when nothing parses", func(t *testing.T) {
		gen := &fakeGenerator{complete: func(GenerateRequest) (string, error) { return "Sorry.", nil }}
		svc, _ := newQuizFixture(t, gen)
		_, err := svc.GenerateModuleQuiz(ctx, 1, 1)
		assert.ErrorIs(t, err, ErrQuizGenerationFailed)
	})
}

func TestQuizService_GenerateCourseQuiz(t *testing.T) {
	t.Run("Should combine two parts and cap at forty", func(t *testing.T) {
		gen := &fakeGenerator{complete: func(req GenerateRequest) (string, error) {
			if strings.Contains(req.Prompt, "questions 21 to 40") {
				return quizText(21, 22), nil
			}
			return quizText(1, 20), nil
		}}
		svc, quizzes := newQuizFixture(t, gen)

		quiz, err := svc.GenerateCourseQuiz(context.Background(), 1)

		require.NoError(t, err)
		assert.Len(t, quiz.Questions, 40)
		assert.Equal(t, models.QuizTypeCourse, quiz.QuizType)
		assert.Nil(t, quiz.ModuleWeek)
		assert.Equal(t, quiz.QuizID+"_q21", quiz.Questions[20].QuestionID)
		assert.Equal(t, "Final Course Quiz: Introduction to Photosynthesis", quiz.Title)

		stored, err := quizzes.GetByID(context.Background(), quiz.QuizID)
		require.NoError(t, err)
		assert.Equal(t, 40, stored.TotalQuestions)
	})
}

func TestQuizService_SubmitAndGet(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{complete: func(GenerateRequest) (string, error) { return quizText(1, 20), nil }}
	svc, quizzes := newQuizFixture(t, gen)
	quiz, err := svc.GenerateModuleQuiz(ctx, 1, 1)
	require.NoError(t, err)

	t.Run("Should hide answers from learners", func(t *testing.T) {
		display, err := svc.GetQuiz(ctx, quiz.QuizID)
		require.NoError(t, err)
		assert.Len(t, display.Questions, 20)
		assert.Equal(t, []string{"one", "two", "three", "four"}, display.Questions[0].Options)
	})

	t.Run("Should score and store a submission", func(t *testing.T) {
		answers := map[string]string{}
		for i, q := range quiz.Questions {
			if i < 12 {
				answers[q.QuestionID] = "b"
			}
		}
		result, err := svc.Submit(ctx, models.QuizSubmission{QuizID: quiz.QuizID, UserID: "learner", Answers: answers})

		require.NoError(t, err)
		assert.Equal(t, 12, result.Score)
		assert.Equal(t, 60.0, result.Percentage)
		assert.True(t, result.Passed)
		assert.Len(t, quizzes.Results(quiz.QuizID), 1)
	})

	t.Run("Should report unknown quizzes", func(t *testing.T) {
		_, err := svc.GetQuiz(ctx, "missing")
		assert.ErrorIs(t, err, ErrQuizNotFound)
		_, err = svc.Submit(ctx, models.QuizSubmission{QuizID: "missing"})
		assert.ErrorIs(t, err, ErrQuizNotFound)
	})
}
