package handlers

import (
	"context"
	"net/http"

	"profai-backend/models"

	"github.com/gin-gonic/gin"
)

// QuizManager generates, serves and grades quizzes.
type QuizManager interface {
	GenerateModuleQuiz(ctx context.Context, courseID, week int) (*models.Quiz, error)
	GenerateCourseQuiz(ctx context.Context, courseID int) (*models.Quiz, error)
	GetQuiz(ctx context.Context, id string) (*models.QuizDisplay, error)
	Submit(ctx context.Context, sub models.QuizSubmission) (*models.QuizResult, error)
}

type QuizHandler struct {
	quizzes QuizManager
}

func NewQuizHandler(quizzes QuizManager) *QuizHandler {
	return &QuizHandler{quizzes: quizzes}
}

type GenerateModuleQuizRequest struct {
	CourseID   int `json:"course_id" binding:"required,gt=0"`
	ModuleWeek int `json:"module_week" binding:"required,gt=0"`
}

type GenerateCourseQuizRequest struct {
	CourseID int `json:"course_id" binding:"required,gt=0"`
}

// GenerateModuleQuiz handles POST /api/quiz/generate-module. The generated
// quiz is returned without its answers.
func (h *QuizHandler) GenerateModuleQuiz(c *gin.Context) {
	var req GenerateModuleQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	quiz, err := h.quizzes.GenerateModuleQuiz(c.Request.Context(), req.CourseID, req.ModuleWeek)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, quiz.Display())
}

// GenerateCourseQuiz handles POST /api/quiz/generate-course
func (h *QuizHandler) GenerateCourseQuiz(c *gin.Context) {
	var req GenerateCourseQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	quiz, err := h.quizzes.GenerateCourseQuiz(c.Request.Context(), req.CourseID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, quiz.Display())
}

// SubmitQuiz handles POST /api/quiz/submit
func (h *QuizHandler) SubmitQuiz(c *gin.Context) {
	var sub models.QuizSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	result, err := h.quizzes.Submit(c.Request.Context(), sub)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

// GetQuiz handles GET /api/quiz/:id
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	quiz, err := h.quizzes.GetQuiz(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, quiz)
}
