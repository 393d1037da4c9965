package service

import (
	"context"

	"profai-backend/models"
)

// PivotLanguage is the language every query is normalized to before
// retrieval and generation.
const PivotLanguage = "en-IN"

// Query is one user question in the user's language.
type Query struct {
	Text         string
	LanguageCode string
}

// RetrievedPassage is one ranked passage returned by a Retriever.
type RetrievedPassage struct {
	Text        string
	SourceLabel string
}

// RetrievalResult is an ordered list of passages, best first. An empty
// result is a valid answer and differs from having no retriever at all.
type RetrievalResult struct {
	Passages []RetrievedPassage
}

// AnswerOrigin records which path produced an answer.
type AnswerOrigin int

const (
	OriginCourseContent AnswerOrigin = iota
	OriginGeneralKnowledgeFallback
	OriginGeneralKnowledge
)

// Label is the source label shown to users.
func (o AnswerOrigin) Label() string {
	switch o {
	case OriginCourseContent:
		return "Course Content"
	case OriginGeneralKnowledgeFallback:
		return "General Knowledge Fallback"
	default:
		return "General Knowledge"
	}
}

func (o AnswerOrigin) String() string { return o.Label() }

// AnswerCandidate is validated answer text plus its origin.
type AnswerCandidate struct {
	Text   string
	Origin AnswerOrigin
}

// Sources returns the source labels for the candidate.
func (c AnswerCandidate) Sources() []string {
	return []string{c.Origin.Label()}
}

// ValidatedAnswer is what Ask returns to transport code.
type ValidatedAnswer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Retriever returns passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (RetrievalResult, error)
}

// Ingestor commits passages to the shared index. A call either commits
// every passage or none of them.
type Ingestor interface {
	AddPassages(ctx context.Context, passages []models.Passage) error
}

// KnowledgeIndex is a searchable, writable passage index.
type KnowledgeIndex interface {
	Retriever
	Ingestor
	// Count returns the number of passages currently searchable.
	Count(ctx context.Context) (int, error)
}

// GenerateRequest is one call to a language model.
type GenerateRequest struct {
	Prompt      string
	System      string
	Temperature float32
}

// StreamChunk is one fragment of a streamed generation. A chunk with Err set
// is the last one sent.
type StreamChunk struct {
	Text string
	Err  error
}

// Generator produces text from a prompt.
type Generator interface {
	Complete(ctx context.Context, req GenerateRequest) (string, error)
	// Stream sends fragments until the model finishes, an error occurs or
	// ctx is cancelled, then closes the channel.
	Stream(ctx context.Context, req GenerateRequest) <-chan StreamChunk
}

// Translator converts text between language codes.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Speech covers transcription and synthesis.
type Speech interface {
	Transcribe(ctx context.Context, audio []byte, filename, languageCode string) (string, error)
	Synthesize(ctx context.Context, text, languageCode string) ([]byte, error)
}
