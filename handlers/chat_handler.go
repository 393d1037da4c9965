package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"profai-backend/logger"
	"profai-backend/service"

	"github.com/gin-gonic/gin"
)

// maxAudioUpload bounds voice input for /api/transcribe.
const maxAudioUpload = 25 << 20

// Asker answers questions and reports whether course retrieval is on.
type Asker interface {
	Ask(ctx context.Context, q service.Query) (service.ValidatedAnswer, error)
	Available() bool
}

// AudioProcessor turns text into speech and speech into text.
type AudioProcessor interface {
	Transcribe(ctx context.Context, audio []byte, filename, languageCode string) (string, error)
	Synthesize(ctx context.Context, text, languageCode string) ([]byte, error)
	SynthesizeFast(ctx context.Context, text, languageCode string) ([]byte, error)
	StreamSpeech(ctx context.Context, text, languageCode string) <-chan service.AudioChunk
}

// ChatHandler serves questions, voice input and the health probe.
type ChatHandler struct {
	chat  Asker
	audio AudioProcessor
	log   logger.Logger
}

func NewChatHandler(chat Asker, audio AudioProcessor, log logger.Logger) *ChatHandler {
	if log == nil {
		log = logger.Default()
	}
	return &ChatHandler{chat: chat, audio: audio, log: log}
}

// ChatRequest is the body of /api/chat and /api/chat-with-audio. Query is
// accepted as an alias of Message.
type ChatRequest struct {
	Message  string `json:"message"`
	Query    string `json:"query"`
	Language string `json:"language"`
}

func (r ChatRequest) question() service.Query {
	text := r.Message
	if strings.TrimSpace(text) == "" {
		text = r.Query
	}
	lang := r.Language
	if lang == "" {
		lang = service.PivotLanguage
	}
	return service.Query{Text: text, LanguageCode: lang}
}

type ChatResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

type ChatWithAudioResponse struct {
	ChatResponse
	Audio    string `json:"audio,omitempty"`
	HasAudio bool   `json:"has_audio"`
}

// Chat handles POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	if h.chat == nil {
		respondServiceError(c, service.ErrServiceUnavailable)
		return
	}
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	answer, err := h.chat.Ask(c.Request.Context(), req.question())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, ChatResponse{Answer: answer.Answer, Sources: answer.Sources})
}

// ChatWithAudio handles POST /api/chat-with-audio. A failed synthesis still
// returns the text answer with has_audio set to false.
func (h *ChatHandler) ChatWithAudio(c *gin.Context) {
	if h.chat == nil || h.audio == nil {
		respondServiceError(c, service.ErrServiceUnavailable)
		return
	}
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	q := req.question()
	answer, err := h.chat.Ask(c.Request.Context(), q)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	resp := ChatWithAudioResponse{ChatResponse: ChatResponse{Answer: answer.Answer, Sources: answer.Sources}}
	audio, err := h.audio.Synthesize(c.Request.Context(), answer.Answer, q.LanguageCode)
	switch {
	case err != nil:
		h.log.Warn("Audio generation failed, returning text only", "error", err)
	case len(audio) > 0:
		resp.Audio = base64.StdEncoding.EncodeToString(audio)
		resp.HasAudio = true
	}
	respondOK(c, http.StatusOK, resp)
}

// Transcribe handles POST /api/transcribe
func (h *ChatHandler) Transcribe(c *gin.Context) {
	if h.audio == nil {
		respondServiceError(c, service.ErrServiceUnavailable)
		return
	}
	fileHeader, err := c.FormFile("audio_file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "audio_file is required")
		return
	}
	if fileHeader.Size > maxAudioUpload {
		respondError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Audio file is too large")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
		return
	}

	language := c.DefaultPostForm("language", service.PivotLanguage)
	text, err := h.audio.Transcribe(c.Request.Context(), data, fileHeader.Filename, language)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		respondError(c, http.StatusBadRequest, "EMPTY_TRANSCRIPT", "Could not transcribe audio")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"transcribed_text": text})
}

// Health handles GET /health
func (h *ChatHandler) Health(c *gin.Context) {
	retrieval := h.chat != nil && h.chat.Available()
	c.JSON(http.StatusOK, gin.H{
		"status":              "healthy",
		"retrieval_available": retrieval,
		"services": gin.H{
			"chat":  h.chat != nil,
			"audio": h.audio != nil,
		},
	})
}

// errorMessage hides context plumbing from clients.
func errorMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return err.Error()
}
