package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"profai-backend/logger"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrSarvamRequest = errors.New("sarvam request failed")

const (
	translateMode    = "classic-colloquial"
	urduTranslateLLM = "sarvam-translate:v1"
	ttsModel         = "bulbul:v2"
)

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

type synthesizeResponse struct {
	Audios []string `json:"audios"`
}

// SarvamClient calls the Sarvam AI translation, speech-to-text and
// text-to-speech endpoints.
type SarvamClient struct {
	http    *resty.Client
	speaker string
	cache   *lru.Cache[string, string]
	log     logger.Logger
}

type sarvamSettings struct {
	baseURL   string
	timeout   time.Duration
	speaker   string
	cacheSize int
	log       logger.Logger
}

// SarvamOption is a functional option for SarvamClient
type SarvamOption func(*sarvamSettings)

func SarvamWithBaseURL(u string) SarvamOption {
	return func(s *sarvamSettings) { s.baseURL = u }
}

func SarvamWithTimeout(d time.Duration) SarvamOption {
	return func(s *sarvamSettings) { s.timeout = d }
}

// SarvamWithSpeaker sets the text-to-speech voice
func SarvamWithSpeaker(speaker string) SarvamOption {
	return func(s *sarvamSettings) { s.speaker = speaker }
}

// SarvamWithCacheSize sets how many translations are kept
func SarvamWithCacheSize(n int) SarvamOption {
	return func(s *sarvamSettings) { s.cacheSize = n }
}

func SarvamWithLogger(l logger.Logger) SarvamOption {
	return func(s *sarvamSettings) { s.log = l }
}

func NewSarvamClient(apiKey string, opts ...SarvamOption) (*SarvamClient, error) {
	s := sarvamSettings{
		baseURL:   "https://api.sarvam.ai",
		timeout:   30 * time.Second,
		speaker:   "anushka",
		cacheSize: 1024,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		s.log = logger.Default()
	}

	cache, err := lru.New[string, string](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create translation cache: %w", err)
	}

	client := resty.New().
		SetBaseURL(s.baseURL).
		SetTimeout(s.timeout).
		SetHeader("api-subscription-key", apiKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})

	return &SarvamClient{http: client, speaker: s.speaker, cache: cache, log: s.log}, nil
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSarvamRequest, op, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s: status %d: %s", ErrSarvamRequest, op, resp.StatusCode(), preview(resp.String(), 200))
	}
	return nil
}

// Translate converts text from sourceLang to targetLang. Results are cached.
func (c *SarvamClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if sourceLang == targetLang || text == "" {
		return text, nil
	}
	key := sourceLang + "\x00" + targetLang + "\x00" + text
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	body := map[string]string{
		"input":                text,
		"source_language_code": sourceLang,
		"target_language_code": targetLang,
		"mode":                 translateMode,
	}
	if sourceLang == "ur-IN" || targetLang == "ur-IN" {
		body["model"] = urduTranslateLLM
	}

	var out translateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/translate")
	if err := checkResponse("translate", resp, err); err != nil {
		return "", err
	}
	if out.TranslatedText == "" {
		return "", fmt.Errorf("%w: translate: empty translation", ErrSarvamRequest)
	}

	c.cache.Add(key, out.TranslatedText)
	return out.TranslatedText, nil
}

// Transcribe converts recorded speech to text.
func (c *SarvamClient) Transcribe(ctx context.Context, audio []byte, filename, languageCode string) (string, error) {
	if filename == "" {
		filename = "audio.wav"
	}
	req := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(audio))
	if languageCode != "" {
		req.SetFormData(map[string]string{"language_code": languageCode})
	}

	var out transcribeResponse
	resp, err := req.SetResult(&out).Post("/speech-to-text")
	if err := checkResponse("speech-to-text", resp, err); err != nil {
		return "", err
	}
	return out.Transcript, nil
}

// Synthesize converts one piece of text to MP3 audio with the configured
// speaker.
func (c *SarvamClient) Synthesize(ctx context.Context, text, languageCode string) ([]byte, error) {
	body := map[string]string{
		"text":                 text,
		"target_language_code": languageCode,
		"speaker":              c.speaker,
		"model":                ttsModel,
		"output_audio_codec":   "mp3",
	}

	var out synthesizeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/text-to-speech")
	if err := checkResponse("text-to-speech", resp, err); err != nil {
		return nil, err
	}

	var audio []byte
	for _, a := range out.Audios {
		decoded, err := base64.StdEncoding.DecodeString(a)
		if err != nil {
			return nil, fmt.Errorf("%w: text-to-speech: invalid audio payload: %w", ErrSarvamRequest, err)
		}
		audio = append(audio, decoded...)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: text-to-speech: no audio returned", ErrSarvamRequest)
	}
	return audio, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
