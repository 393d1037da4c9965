package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"profai-backend/logger"

	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

// ErrClientDisconnected is how transports report that the listener left.
var ErrClientDisconnected = errors.New("client disconnected")

// IsDisconnect reports whether err means the client went away rather than
// that something failed: ErrClientDisconnected, a cancelled context, or a
// WebSocket close with status 1000 or 1001.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClientDisconnected) || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

const (
	streamChunkRunes  = 500
	synthesisRunes    = 1500
	maxSpeechRunes    = 8000
	fastMaxRunes      = 1000
	fastTruncateRunes = 900
	fastTimeout       = 10 * time.Second
)

var (
	markdownChars  = regexp.MustCompile("[*#_`\\[\\]{}\\\\]")
	dotRun         = regexp.MustCompile(`\.{2,}`)
	dashRun        = regexp.MustCompile(`--+`)
	unspeakable    = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_\s.,!?;:'।-]`)
	speechSpaceRun = regexp.MustCompile(`\s+`)
)

// AudioChunk is one piece of synthesized speech. A chunk with Err set is
// the last one sent.
type AudioChunk struct {
	Data     []byte
	Fallback bool
	Err      error
}

// AudioService turns answers into speech for the HTTP and WebSocket paths.
type AudioService struct {
	speech Speech
	log    logger.Logger
}

func NewAudioService(speech Speech, log logger.Logger) *AudioService {
	if log == nil {
		log = logger.Default()
	}
	return &AudioService{speech: speech, log: log}
}

// Transcribe converts recorded speech to text. An empty language code means
// the pivot language.
func (s *AudioService) Transcribe(ctx context.Context, audio []byte, filename, languageCode string) (string, error) {
	if languageCode == "" {
		languageCode = PivotLanguage
	}
	return s.speech.Transcribe(ctx, audio, filename, NormalizeLanguageCode(languageCode))
}

// Synthesize produces one audio clip for text. Long text is synthesized in
// pieces concurrently and joined in order.
func (s *AudioService) Synthesize(ctx context.Context, text, languageCode string) ([]byte, error) {
	languageCode = NormalizeLanguageCode(languageCode)
	cleaned := truncateRunes(CleanForSpeech(text), maxSpeechRunes, 7500)
	if cleaned == "" {
		return nil, errors.New("nothing to synthesize")
	}
	pieces := SplitForSpeech(cleaned, synthesisRunes)
	if len(pieces) == 1 {
		return s.speech.Synthesize(ctx, pieces[0], languageCode)
	}

	parts := make([][]byte, len(pieces))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, piece := range pieces {
		eg.Go(func() error {
			audio, err := s.speech.Synthesize(egCtx, piece, languageCode)
			if err != nil {
				return fmt.Errorf("piece %d: %w", i+1, err)
			}
			parts[i] = audio
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return joinBytes(parts), nil
}

// SynthesizeFast is the degraded path: light cleaning, text over 1000 runes
// cut to 900, one request bounded by a 10 second timeout.
func (s *AudioService) SynthesizeFast(ctx context.Context, text, languageCode string) ([]byte, error) {
	text = truncateRunes(text, fastMaxRunes, fastTruncateRunes)
	text = markdownChars.ReplaceAllString(text, " ")
	text = strings.TrimSpace(speechSpaceRun.ReplaceAllString(text, " "))
	if text == "" {
		return nil, errors.New("nothing to synthesize")
	}

	ctx, cancel := context.WithTimeout(ctx, fastTimeout)
	defer cancel()
	return s.speech.Synthesize(ctx, text, NormalizeLanguageCode(languageCode))
}

// StreamSpeech synthesizes text sentence group by sentence group and sends
// each clip as soon as it is ready. Cancelling ctx ends the stream without
// an error chunk. A synthesis failure switches once to SynthesizeFast for
// the text not yet spoken.
func (s *AudioService) StreamSpeech(ctx context.Context, text, languageCode string) <-chan AudioChunk {
	out := make(chan AudioChunk)
	languageCode = NormalizeLanguageCode(languageCode)
	pieces := SplitForSpeech(CleanForSpeech(text), streamChunkRunes)

	go func() {
		defer close(out)
		send := func(c AudioChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for i, piece := range pieces {
			if ctx.Err() != nil {
				return
			}
			audio, err := s.speech.Synthesize(ctx, piece, languageCode)
			if err == nil {
				if !send(AudioChunk{Data: audio}) {
					return
				}
				continue
			}
			if ctx.Err() != nil || IsDisconnect(err) {
				s.log.Debug("Speech stream stopped by client", "chunk", i+1)
				return
			}

			s.log.Warn("Speech chunk failed, switching to fast synthesis", "chunk", i+1, "error", err)
			fast, ferr := s.SynthesizeFast(ctx, strings.Join(pieces[i:], " "), languageCode)
			if ferr != nil {
				if ctx.Err() != nil {
					return
				}
				send(AudioChunk{Err: fmt.Errorf("speech synthesis failed: %w", errors.Join(err, ferr))})
				return
			}
			send(AudioChunk{Data: fast, Fallback: true})
			return
		}
	}()
	return out
}

// CleanForSpeech removes markup and symbols a voice would read out literally.
func CleanForSpeech(text string) string {
	text = markdownChars.ReplaceAllString(text, " ")
	text = dotRun.ReplaceAllString(text, ".")
	text = dashRun.ReplaceAllString(text, " ")
	text = unspeakable.ReplaceAllString(text, " ")
	text = speechSpaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// SplitForSpeech groups whole sentences into pieces of at most maxRunes.
// A sentence longer than maxRunes is split between words.
func SplitForSpeech(text string, maxRunes int) []string {
	var (
		pieces  []string
		current strings.Builder
		n       int
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			pieces = append(pieces, s)
		}
		current.Reset()
		n = 0
	}
	appendUnit := func(unit string) {
		l := utf8.RuneCountInString(unit)
		if n > 0 && n+1+l > maxRunes {
			flush()
		}
		if n > 0 {
			current.WriteByte(' ')
			n++
		}
		current.WriteString(unit)
		n += l
	}

	for _, sentence := range splitSentences(text) {
		if utf8.RuneCountInString(sentence) <= maxRunes {
			appendUnit(sentence)
			continue
		}
		for _, word := range strings.Fields(sentence) {
			for utf8.RuneCountInString(word) > maxRunes {
				r := []rune(word)
				appendUnit(string(r[:maxRunes]))
				word = string(r[maxRunes:])
			}
			appendUnit(word)
		}
	}
	flush()
	return pieces
}

// splitSentences breaks after '.', '!', '?' or the danda when followed by
// whitespace or the end of text.
func splitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' && r != '।' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// truncateRunes cuts text longer than limit runes to keep runes plus ".".
func truncateRunes(text string, limit, keep int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:keep]) + "."
}

func joinBytes(parts [][]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
