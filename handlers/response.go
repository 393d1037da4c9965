package handlers

import (
	"context"
	"errors"
	"net/http"

	"profai-backend/service"

	"github.com/gin-gonic/gin"
)

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError maps service sentinels to status codes.
func respondServiceError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	respondError(c, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrEmptyQuery),
		errors.Is(err, service.ErrUnsupportedLanguage),
		errors.Is(err, service.ErrInvalidCourse),
		errors.Is(err, service.ErrNoFiles):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, service.ErrCourseNotFound),
		errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, service.ErrModuleNotFound),
		errors.Is(err, service.ErrQuizNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, service.ErrTranslationFailed):
		return http.StatusBadGateway, "TRANSLATION_FAILED"
	case errors.Is(err, service.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
	case errors.Is(err, service.ErrQuizGenerationFailed):
		return http.StatusInternalServerError, "GENERATION_FAILED"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
