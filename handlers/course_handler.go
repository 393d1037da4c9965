package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"profai-backend/logger"
	"profai-backend/models"
	"profai-backend/service"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CourseManager creates courses from uploads and serves them back.
type CourseManager interface {
	StartIngestJob(ctx context.Context, files []service.UploadedFile, courseTitle string) (*models.IngestJob, error)
	ProcessIngestJob(ctx context.Context, jobID uuid.UUID) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.IngestJob, error)
	ListCourses(ctx context.Context) ([]models.CourseSummary, error)
	GetCourse(ctx context.Context, id int) (*models.CourseLMS, error)
}

// CourseHandler handles HTTP requests for course uploads and course content
type CourseHandler struct {
	courses       CourseManager
	maxFileSize   int64
	ingestTimeout time.Duration
	log           logger.Logger
}

func NewCourseHandler(courses CourseManager, maxFileSize int64, ingestTimeout time.Duration, log logger.Logger) *CourseHandler {
	if log == nil {
		log = logger.Default()
	}
	return &CourseHandler{
		courses:       courses,
		maxFileSize:   maxFileSize,
		ingestTimeout: ingestTimeout,
		log:           log,
	}
}

// UploadPDFs handles POST /api/upload-pdfs
func (h *CourseHandler) UploadPDFs(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "A multipart form with PDF files is required")
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "At least one PDF file is required")
		return
	}

	files := make([]service.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > h.maxFileSize {
			respondError(c, http.StatusBadRequest, "FILE_TOO_LARGE",
				fmt.Sprintf("%s exceeds the maximum of %d bytes", fh.Filename, h.maxFileSize))
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondError(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, h.maxFileSize+1))
		f.Close()
		if err != nil {
			respondError(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
			return
		}

		// the client's Content-Type is not trusted
		mt := mimetype.Detect(data)
		if !mt.Is("application/pdf") {
			respondError(c, http.StatusBadRequest, "INVALID_FILE_TYPE",
				fmt.Sprintf("%s is %s, only PDF files are accepted", fh.Filename, mt.String()))
			return
		}
		files = append(files, service.UploadedFile{Filename: fh.Filename, MimeType: mt.String(), Data: data})
	}

	job, err := h.courses.StartIngestJob(c.Request.Context(), files, c.PostForm("course_title"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	// the job outlives the request
	go func(jobID uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.Background(), h.ingestTimeout)
		defer cancel()
		if err := h.courses.ProcessIngestJob(ctx, jobID); err != nil {
			h.log.Error("Ingest job failed", "job_id", jobID, "error", err)
		}
	}(job.ID)

	respondOK(c, http.StatusAccepted, gin.H{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "Course generation started. Poll /api/jobs/:id for updates.",
	})
}

// GetJobStatus handles GET /api/jobs/:id
func (h *CourseHandler) GetJobStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid job ID format")
		return
	}
	job, err := h.courses.GetJob(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, job)
}

// ListCourses handles GET /api/courses
func (h *CourseHandler) ListCourses(c *gin.Context) {
	courses, err := h.courses.ListCourses(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if courses == nil {
		courses = []models.CourseSummary{}
	}
	respondOK(c, http.StatusOK, courses)
}

// GetCourse handles GET /api/course/:id
func (h *CourseHandler) GetCourse(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid course ID format")
		return
	}
	course, err := h.courses.GetCourse(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, course)
}
