package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"profai-backend/logger"
	"profai-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamReadLimit     = 32 << 20
	streamInboxSize     = 8
	transcribeTimeout   = 30 * time.Second
	streamWriteDeadline = 10 * time.Second
)

// inboundMessage is every message a client may send; fields not used by a
// type are ignored.
type inboundMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Text      string `json:"text"`
	Language  string `json:"language"`
	AudioData string `json:"audio_data"`
	RequestID string `json:"request_id"`

	parseErr error
}

type audioChunkMessage struct {
	Type         string `json:"type"`
	ChunkID      int    `json:"chunk_id"`
	AudioData    string `json:"audio_data"`
	Size         int    `json:"size"`
	IsFirstChunk bool   `json:"is_first_chunk"`
	Fallback     bool   `json:"fallback,omitempty"`
}

// StreamHandler serves /ws/audio-stream: questions answered as text first
// and then as audio chunks while the rest is still being synthesized.
type StreamHandler struct {
	chat           Asker
	audio          AudioProcessor
	originPatterns []string
	log            logger.Logger
}

func NewStreamHandler(chat Asker, audio AudioProcessor, originPatterns []string, log logger.Logger) *StreamHandler {
	if log == nil {
		log = logger.Default()
	}
	return &StreamHandler{chat: chat, audio: audio, originPatterns: originPatterns, log: log}
}

// streamSession is one client connection. Messages are handled one at a
// time in arrival order.
type streamSession struct {
	h        *StreamHandler
	conn     *websocket.Conn
	log      logger.Logger
	language string

	// dropped counts messages that arrived while the inbox was full.
	dropped atomic.Int64
}

// AudioStream handles GET /ws/audio-stream
func (h *StreamHandler) AudioStream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(streamReadLimit)

	clientID := uuid.NewString()
	s := &streamSession{
		h:        h,
		conn:     conn,
		log:      h.log.With("client_id", clientID),
		language: service.PivotLanguage,
	}

	ctx, cancel := context.WithCancelCause(c.Request.Context())
	defer cancel(nil)
	ctx = logger.ContextWithLogger(ctx, s.log)

	inbox := s.readLoop(ctx, cancel)

	err = s.send(ctx, gin.H{
		"type":      "connection_ready",
		"message":   "ProfAI WebSocket connected successfully",
		"client_id": clientID,
		"services": gin.H{
			"chat":  h.chat != nil,
			"audio": h.audio != nil,
		},
	})
	if err != nil {
		return
	}
	s.log.Info("WebSocket client connected")

	for msg := range inbox {
		if err := s.dispatch(ctx, msg); err != nil {
			break
		}
		if n := s.dropped.Swap(0); n > 0 {
			if err := s.sendError(ctx, fmt.Sprintf("Server busy: %d message(s) dropped", n)); err != nil {
				break
			}
		}
	}

	if cause := context.Cause(ctx); cause != nil && !service.IsDisconnect(cause) {
		s.log.Warn("WebSocket session ended", "error", cause)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	s.log.Info("WebSocket client disconnected")
	conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop reads frames until the peer goes away. A read failure cancels
// ctx, which stops any stream in progress. Reading never waits on the
// dispatcher, so a close frame is seen even while a long answer streams;
// messages that find the inbox full are dropped and reported afterwards.
func (s *streamSession) readLoop(ctx context.Context, cancel context.CancelCauseFunc) <-chan inboundMessage {
	inbox := make(chan inboundMessage, streamInboxSize)
	go func() {
		defer close(inbox)
		for {
			_, data, err := s.conn.Read(ctx)
			if err != nil {
				if service.IsDisconnect(err) || errors.Is(err, context.Canceled) {
					cancel(service.ErrClientDisconnected)
				} else {
					cancel(err)
				}
				return
			}
			var msg inboundMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				msg.parseErr = err
			}
			select {
			case inbox <- msg:
			case <-ctx.Done():
				return
			default:
				s.dropped.Add(1)
				s.log.Warn("WebSocket inbox full, dropping message", "type", msg.Type)
			}
		}
	}()
	return inbox
}

// send writes one JSON message. Any write failure means the client is gone.
func (s *streamSession) send(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return service.ErrClientDisconnected
	}
	wctx, cancel := context.WithTimeout(ctx, streamWriteDeadline)
	defer cancel()
	if err := wsjson.Write(wctx, s.conn, v); err != nil {
		return fmt.Errorf("%w: %w", service.ErrClientDisconnected, err)
	}
	return nil
}

func (s *streamSession) sendError(ctx context.Context, msg string) error {
	return s.send(ctx, gin.H{"type": "error", "error": msg})
}

// dispatch handles one message. Only a lost connection is returned as an
// error; everything else is reported to the client.
func (s *streamSession) dispatch(ctx context.Context, msg inboundMessage) error {
	if msg.parseErr != nil {
		return s.sendError(ctx, "Invalid JSON message")
	}
	s.log.Debug("WebSocket message received", "type", msg.Type)

	switch msg.Type {
	case "":
		return s.sendError(ctx, "Message type is required")
	case "ping":
		return s.send(ctx, gin.H{"type": "pong", "message": "Connection alive", "server_time": time.Now().Unix()})
	case "chat_with_audio":
		return s.chatWithAudio(ctx, msg)
	case "audio_only":
		return s.audioOnly(ctx, msg)
	case "transcribe_audio":
		return s.transcribe(ctx, msg)
	case "set_language":
		return s.setLanguage(ctx, msg)
	default:
		return s.sendError(ctx, "Unknown message type: "+msg.Type)
	}
}

func (s *streamSession) languageOf(msg inboundMessage) string {
	if msg.Language != "" {
		return msg.Language
	}
	return s.language
}

func (s *streamSession) chatWithAudio(ctx context.Context, msg inboundMessage) error {
	if s.h.chat == nil || s.h.audio == nil {
		return s.sendError(ctx, "Required services not available")
	}
	if msg.Message == "" {
		return s.sendError(ctx, "Message is required")
	}
	language := s.languageOf(msg)

	if err := s.send(ctx, gin.H{"type": "processing_started", "message": "Generating response..."}); err != nil {
		return err
	}

	answer, err := s.h.chat.Ask(ctx, service.Query{Text: msg.Message, LanguageCode: language})
	if err != nil {
		if ctx.Err() != nil {
			return service.ErrClientDisconnected
		}
		s.log.Warn("Chat failed", "error", err)
		return s.sendError(ctx, "Chat service failed: "+errorMessage(err))
	}
	err = s.send(ctx, gin.H{
		"type":    "text_response",
		"text":    answer.Answer,
		"sources": answer.Sources,
	})
	if err != nil {
		return err
	}

	if err := s.send(ctx, gin.H{"type": "audio_generation_started", "message": "Generating audio..."}); err != nil {
		return err
	}
	return s.streamAudio(ctx, answer.Answer, language)
}

// streamAudio forwards synthesized chunks as they arrive.
func (s *streamSession) streamAudio(ctx context.Context, text, language string) error {
	// stops the producer if we return early
	speechCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	chunks, total := 0, 0
	var firstLatency time.Duration

	for chunk := range s.h.audio.StreamSpeech(speechCtx, text, language) {
		if chunk.Err != nil {
			s.log.Warn("Audio streaming failed", "error", chunk.Err)
			return s.sendError(ctx, "Audio generation failed: "+errorMessage(chunk.Err))
		}
		chunks++
		total += len(chunk.Data)
		err := s.send(ctx, audioChunkMessage{
			Type:         "audio_chunk",
			ChunkID:      chunks,
			AudioData:    base64.StdEncoding.EncodeToString(chunk.Data),
			Size:         len(chunk.Data),
			IsFirstChunk: chunks == 1,
			Fallback:     chunk.Fallback,
		})
		if err != nil {
			return err
		}
		if chunks == 1 {
			firstLatency = time.Since(start)
			s.log.Info("First audio chunk delivered", "latency", firstLatency)
		}
	}
	if ctx.Err() != nil {
		return service.ErrClientDisconnected
	}

	s.log.Info("Audio streaming complete", "chunks", chunks, "bytes", total, "duration", time.Since(start))
	return s.send(ctx, gin.H{
		"type":                "audio_generation_complete",
		"total_chunks":        chunks,
		"total_size":          total,
		"first_chunk_latency": firstLatency.Milliseconds(),
		"message":             "Audio ready to play!",
	})
}

// audioOnly speaks arbitrary text in one piece through the fast path.
func (s *streamSession) audioOnly(ctx context.Context, msg inboundMessage) error {
	if s.h.audio == nil {
		return s.sendError(ctx, "Audio service not available")
	}
	if msg.Text == "" {
		return s.sendError(ctx, "Text is required")
	}
	if err := s.send(ctx, gin.H{"type": "audio_stream_start", "message": "Generating audio..."}); err != nil {
		return err
	}

	audio, err := s.h.audio.SynthesizeFast(ctx, msg.Text, s.languageOf(msg))
	if err != nil {
		if ctx.Err() != nil {
			return service.ErrClientDisconnected
		}
		return s.sendError(ctx, "Audio generation failed: "+errorMessage(err))
	}
	if len(audio) == 0 {
		return s.sendError(ctx, "Failed to generate audio - empty result")
	}
	err = s.send(ctx, audioChunkMessage{
		Type:         "audio_chunk",
		ChunkID:      1,
		AudioData:    base64.StdEncoding.EncodeToString(audio),
		Size:         len(audio),
		IsFirstChunk: true,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, gin.H{"type": "audio_stream_complete", "total_chunks": 1})
}

func (s *streamSession) transcribe(ctx context.Context, msg inboundMessage) error {
	if s.h.audio == nil {
		return s.sendError(ctx, "Audio service not available")
	}
	if msg.AudioData == "" {
		return s.sendError(ctx, "Audio data is required")
	}
	audio, err := base64.StdEncoding.DecodeString(msg.AudioData)
	if err != nil {
		return s.sendError(ctx, "Audio data must be base64 encoded")
	}
	err = s.send(ctx, gin.H{"type": "transcription_started", "message": "Transcribing audio...", "request_id": msg.RequestID})
	if err != nil {
		return err
	}

	tctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()
	text, err := s.h.audio.Transcribe(tctx, audio, "audio.wav", s.languageOf(msg))
	switch {
	case ctx.Err() != nil:
		return service.ErrClientDisconnected
	case errors.Is(err, context.DeadlineExceeded):
		return s.sendError(ctx, "Transcription timeout")
	case err != nil:
		return s.sendError(ctx, "Transcription failed: "+err.Error())
	case text == "":
		return s.sendError(ctx, "Could not transcribe audio")
	}
	return s.send(ctx, gin.H{"type": "transcription_complete", "transcribed_text": text, "request_id": msg.RequestID})
}

// setLanguage changes the default language for later messages on this
// connection.
func (s *streamSession) setLanguage(ctx context.Context, msg inboundMessage) error {
	if msg.Language == "" {
		return s.sendError(ctx, "Language is required")
	}
	code, err := service.ResolveLanguage(msg.Language)
	if err != nil {
		return s.sendError(ctx, "Unsupported language: "+msg.Language)
	}
	s.language = code
	return s.send(ctx, gin.H{
		"type":       "language_set",
		"language":   s.language,
		"message":    "Language set to " + service.LanguageName(s.language),
		"request_id": msg.RequestID,
	})
}
