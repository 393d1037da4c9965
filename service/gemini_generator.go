package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"profai-backend/logger"

	"github.com/google/generative-ai-go/genai"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

var (
	ErrGenerationFailed = errors.New("failed to generate content")
	ErrPromptBlocked    = errors.New("prompt blocked by safety filters")
	ErrEmptyResponse    = errors.New("model returned no text")
	ErrEmbeddingFailed  = errors.New("failed to generate embedding")
)

const (
	maxRetries     = 3
	initialBackoff = time.Second
	embedBatchSize = 100
)

func newBackoff() retry.Backoff {
	b := retry.NewExponential(initialBackoff)
	b = retry.WithMaxRetries(maxRetries, b)
	return retry.WithJitter(250*time.Millisecond, b)
}

// retryable reports whether err is worth another attempt. Client errors
// such as a bad request or a bad key are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrPromptBlocked) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return false
		}
	}
	return true
}

// GeminiGenerator implements Generator with the Gemini API.
type GeminiGenerator struct {
	client          *genai.Client
	model           string
	maxPromptLength int
	log             logger.Logger
}

// GeminiOption is a functional option for GeminiGenerator
type GeminiOption func(*GeminiGenerator)

// GeminiWithModel sets the model name
func GeminiWithModel(name string) GeminiOption {
	return func(g *GeminiGenerator) {
		g.model = name
	}
}

// GeminiWithMaxPromptLength sets where prompts are truncated
func GeminiWithMaxPromptLength(n int) GeminiOption {
	return func(g *GeminiGenerator) {
		g.maxPromptLength = n
	}
}

// GeminiWithLogger sets the logger
func GeminiWithLogger(l logger.Logger) GeminiOption {
	return func(g *GeminiGenerator) {
		g.log = l
	}
}

func NewGeminiGenerator(client *genai.Client, opts ...GeminiOption) *GeminiGenerator {
	g := &GeminiGenerator{
		client:          client,
		model:           "gemini-2.0-flash",
		maxPromptLength: 30000,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.Default()
	}
	return g
}

func (g *GeminiGenerator) newModel(req GenerateRequest) *genai.GenerativeModel {
	m := g.client.GenerativeModel(g.model)
	m.SetTemperature(req.Temperature)
	if req.System != "" {
		m.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	return m
}

func (g *GeminiGenerator) prompt(p string) string {
	if len(p) > g.maxPromptLength {
		g.log.Warn("Prompt too long, truncating", "length", len(p), "max", g.maxPromptLength)
		return truncateUTF8(p, g.maxPromptLength)
	}
	return p
}

// Complete runs one generation, retrying transient failures.
func (g *GeminiGenerator) Complete(ctx context.Context, req GenerateRequest) (string, error) {
	model := g.newModel(req)
	prompt := g.prompt(req.Prompt)

	var text string
	err := retry.Do(ctx, newBackoff(), func(ctx context.Context) error {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err == nil {
			text, err = responseText(resp)
		}
		if err != nil {
			if retryable(err) {
				g.log.Warn("Gemini call failed, retrying", "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return text, nil
}

// Stream runs one streamed generation. Nothing is retried once text has
// been sent.
func (g *GeminiGenerator) Stream(ctx context.Context, req GenerateRequest) <-chan StreamChunk {
	out := make(chan StreamChunk)
	model := g.newModel(req)
	prompt := g.prompt(req.Prompt)

	go func() {
		defer close(out)
		send := func(c StreamChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		iter := model.GenerateContentStream(ctx, genai.Text(prompt))
		sent := false
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				if !sent {
					send(StreamChunk{Err: ErrEmptyResponse})
				}
				return
			}
			if err != nil {
				send(StreamChunk{Err: fmt.Errorf("%w: %w", ErrGenerationFailed, err)})
				return
			}
			text, err := responseText(resp)
			if errors.Is(err, ErrEmptyResponse) {
				continue
			}
			if err != nil {
				send(StreamChunk{Err: err})
				return
			}
			if !send(StreamChunk{Text: text}) {
				return
			}
			sent = true
		}
	}()
	return out
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("%w: %s", ErrPromptBlocked, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// GeminiEmbedder implements Embedder with a Gemini embedding model.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
	log        logger.Logger
}

func NewGeminiEmbedder(client *genai.Client, model string, dimensions int, log logger.Logger) *GeminiEmbedder {
	if log == nil {
		log = logger.Default()
	}
	return &GeminiEmbedder{client: client, model: model, dimensions: dimensions, log: log}
}

// EmbedDocuments embeds texts in batches of 100, batches running in parallel.
func (e *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		eg.Go(func() error {
			vectors, err := e.embedBatch(ctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *GeminiEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	var vectors [][]float32
	err := retry.Do(ctx, newBackoff(), func(ctx context.Context) error {
		batch := em.NewBatch()
		for _, t := range texts {
			batch.AddContent(genai.Text(t))
		}
		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			if retryable(err) {
				e.log.Warn("Embedding batch failed, retrying", "error", err, "size", len(texts))
				return retry.RetryableError(err)
			}
			return err
		}
		if len(resp.Embeddings) != len(texts) {
			return fmt.Errorf("got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
		}
		vectors = make([][]float32, len(texts))
		for i, emb := range resp.Embeddings {
			if err := e.check(emb.Values); err != nil {
				return err
			}
			vectors[i] = emb.Values
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

// EmbedQuery embeds a search query.
func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalQuery

	var values []float32
	err := retry.Do(ctx, newBackoff(), func(ctx context.Context) error {
		resp, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		if resp.Embedding == nil {
			return ErrEmptyResponse
		}
		if err := e.check(resp.Embedding.Values); err != nil {
			return err
		}
		values = resp.Embedding.Values
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return values, nil
}

func (e *GeminiEmbedder) check(values []float32) error {
	if e.dimensions > 0 && len(values) != e.dimensions {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(values), e.dimensions)
	}
	return nil
}
