package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"profai-backend/logger"
	"profai-backend/models"

	"github.com/google/uuid"
)

var quietLog = logger.Discard()

type fakeGenerator struct {
	mu       sync.Mutex
	complete func(req GenerateRequest) (string, error)
	stream   func(req GenerateRequest) ([]string, error)

	completeCalls int
	streamCalls   int
	requests      []GenerateRequest
}

func (f *fakeGenerator) Complete(_ context.Context, req GenerateRequest) (string, error) {
	f.mu.Lock()
	f.completeCalls++
	f.requests = append(f.requests, req)
	fn := f.complete
	f.mu.Unlock()
	if fn == nil {
		return "", errors.New("no completion configured")
	}
	return fn(req)
}

func (f *fakeGenerator) Stream(_ context.Context, req GenerateRequest) <-chan StreamChunk {
	f.mu.Lock()
	f.streamCalls++
	f.requests = append(f.requests, req)
	fn := f.stream
	f.mu.Unlock()

	var (
		pieces []string
		err    = errors.New("no stream configured")
	)
	if fn != nil {
		pieces, err = fn(req)
	}
	out := make(chan StreamChunk, len(pieces)+1)
	for _, p := range pieces {
		out <- StreamChunk{Text: p}
	}
	if err != nil {
		out <- StreamChunk{Err: err}
	}
	close(out)
	return out
}

func (f *fakeGenerator) calls() (complete, stream int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completeCalls, f.streamCalls
}

type fakeTranslator struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeTranslator) Translate(_ context.Context, text, src, tgt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, src+">"+tgt)
	if f.err != nil {
		return "", f.err
	}
	return "[" + tgt + "] " + text, nil
}

type fakeRetriever struct {
	result RetrievalResult
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string) (RetrievalResult, error) {
	f.calls++
	return f.result, f.err
}

// letterEmbedder embeds text as its a-z letter counts, which is enough for
// cosine ranking in tests.
type letterEmbedder struct {
	mu  sync.Mutex
	err error
}

func (e *letterEmbedder) fail(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *letterEmbedder) vector(text string) []float32 {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}

func (e *letterEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

type fakeSpeech struct {
	mu         sync.Mutex
	synthesize func(ctx context.Context, text string) ([]byte, error)
	texts      []string
	languages  []string
}

func (f *fakeSpeech) Transcribe(_ context.Context, audio []byte, _ string, lang string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.languages = append(f.languages, lang)
	return fmt.Sprintf("%d bytes", len(audio)), nil
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.languages = append(f.languages, lang)
	fn := f.synthesize
	f.mu.Unlock()
	if fn == nil {
		return []byte(text), nil
	}
	return fn(ctx, text)
}

func (f *fakeSpeech) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type answerCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (a *answerCounter) Answer(source string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts == nil {
		a.counts = map[string]int{}
	}
	a.counts[source]++
}

// memoryBlobs is an in-memory storage.Storage.
type memoryBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memoryBlobs) Upload(_ context.Context, id uuid.UUID, filename string, data io.Reader) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	path := id.String() + "/" + filename
	m.objects[path] = b
	return path, nil
}

func (m *memoryBlobs) Download(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memoryBlobs) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	return nil
}

func sampleCourse() *models.CourseLMS {
	return &models.CourseLMS{
		CourseID:    1,
		CourseTitle: "Introduction to Photosynthesis",
		Modules: []models.Module{
			{
				Week:  1,
				Title: "Light reactions",
				SubTopics: []models.SubTopic{
					{Title: "Chlorophyll", Content: "Chlorophyll absorbs light mostly in the blue and red wavelengths."},
					{Title: "Empty topic"},
				},
			},
			{
				Week:  2,
				Title: "Calvin cycle",
				SubTopics: []models.SubTopic{
					{Title: "Carbon fixation", Content: "RuBisCO fixes carbon dioxide into three-carbon molecules."},
				},
			},
		},
	}
}
