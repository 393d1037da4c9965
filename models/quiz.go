package models

import "time"

// QuizType distinguishes per-module quizzes from whole-course quizzes.
type QuizType string

const (
	QuizTypeModule QuizType = "module"
	QuizTypeCourse QuizType = "course"
)

// PassPercentage is the minimum score, in percent, for a passing result.
const PassPercentage = 60.0

// QuizQuestion is a four-option multiple choice question.
type QuizQuestion struct {
	QuestionID    string   `json:"question_id"`
	QuestionText  string   `json:"question_text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation,omitempty"`
	Topic         string   `json:"topic,omitempty"`
}

type Quiz struct {
	QuizID         string         `json:"quiz_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Questions      []QuizQuestion `json:"questions"`
	TotalQuestions int            `json:"total_questions"`
	QuizType       QuizType       `json:"quiz_type"`
	ModuleWeek     *int           `json:"module_week,omitempty"`
	CourseID       int            `json:"course_id"`
	CreatedAt      time.Time      `json:"created_at"`
}

// QuizQuestionDisplay is a question without its answer.
type QuizQuestionDisplay struct {
	QuestionID   string   `json:"question_id"`
	QuestionText string   `json:"question_text"`
	Options      []string `json:"options"`
	Topic        string   `json:"topic,omitempty"`
}

// QuizDisplay is the form of a quiz sent to learners.
type QuizDisplay struct {
	QuizID         string                `json:"quiz_id"`
	Title          string                `json:"title"`
	Description    string                `json:"description"`
	Questions      []QuizQuestionDisplay `json:"questions"`
	TotalQuestions int                   `json:"total_questions"`
	QuizType       QuizType              `json:"quiz_type"`
	ModuleWeek     *int                  `json:"module_week,omitempty"`
	CourseID       int                   `json:"course_id"`
}

// Display strips the correct answers and explanations from q.
func (q *Quiz) Display() QuizDisplay {
	questions := make([]QuizQuestionDisplay, 0, len(q.Questions))
	for _, qq := range q.Questions {
		questions = append(questions, QuizQuestionDisplay{
			QuestionID:   qq.QuestionID,
			QuestionText: qq.QuestionText,
			Options:      qq.Options,
			Topic:        qq.Topic,
		})
	}
	return QuizDisplay{
		QuizID:         q.QuizID,
		Title:          q.Title,
		Description:    q.Description,
		Questions:      questions,
		TotalQuestions: q.TotalQuestions,
		QuizType:       q.QuizType,
		ModuleWeek:     q.ModuleWeek,
		CourseID:       q.CourseID,
	}
}

// QuizSubmission maps question ids to the chosen option letter.
type QuizSubmission struct {
	QuizID  string            `json:"quiz_id" binding:"required"`
	UserID  string            `json:"user_id" binding:"required"`
	Answers map[string]string `json:"answers" binding:"required"`
}

type QuestionResult struct {
	QuestionID    string `json:"question_id"`
	UserAnswer    string `json:"user_answer"`
	CorrectAnswer string `json:"correct_answer"`
	IsCorrect     bool   `json:"is_correct"`
}

type QuizResult struct {
	QuizID          string           `json:"quiz_id"`
	UserID          string           `json:"user_id"`
	Score           int              `json:"score"`
	TotalQuestions  int              `json:"total_questions"`
	Percentage      float64          `json:"percentage"`
	Passed          bool             `json:"passed"`
	DetailedResults []QuestionResult `json:"detailed_results"`
	SubmittedAt     time.Time        `json:"submitted_at"`
}
