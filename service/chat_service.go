package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"profai-backend/logger"
	"profai-backend/models"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"
)

// Language is one supported conversation language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SupportedLanguages lists every language a query may arrive in. The first
// entry is the pivot language.
var SupportedLanguages = []Language{
	{Code: "en-IN", Name: "English"},
	{Code: "hi-IN", Name: "Hindi"},
	{Code: "bn-IN", Name: "Bengali"},
	{Code: "gu-IN", Name: "Gujarati"},
	{Code: "kn-IN", Name: "Kannada"},
	{Code: "ml-IN", Name: "Malayalam"},
	{Code: "mr-IN", Name: "Marathi"},
	{Code: "od-IN", Name: "Odia"},
	{Code: "pa-IN", Name: "Punjabi"},
	{Code: "ta-IN", Name: "Tamil"},
	{Code: "te-IN", Name: "Telugu"},
	{Code: "ur-IN", Name: "Urdu"},
}

// ResolveLanguage maps code onto an entry of SupportedLanguages. Case,
// underscores and bare base languages ("hi", "ta_in") are accepted and an
// empty code is the pivot language. Anything else is ErrUnsupportedLanguage.
func ResolveLanguage(code string) (string, error) {
	code = strings.TrimSpace(strings.ReplaceAll(code, "_", "-"))
	if code == "" {
		return PivotLanguage, nil
	}
	for _, l := range SupportedLanguages {
		if strings.EqualFold(l.Code, code) {
			return l.Code, nil
		}
	}

	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}
	base, _ := tag.Base()
	prefix := base.String()
	if prefix == "or" {
		// ISO 639-1 Odia; the speech API uses "od".
		prefix = "od"
	}
	for _, l := range SupportedLanguages {
		if strings.HasPrefix(l.Code, prefix+"-") {
			return l.Code, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
}

// NormalizeLanguageCode is ResolveLanguage for speech and display, where an
// unsupported code falls back to the pivot language.
func NormalizeLanguageCode(code string) string {
	resolved, err := ResolveLanguage(code)
	if err != nil {
		return PivotLanguage
	}
	return resolved
}

// LanguageName returns the display name for code, or "English".
func LanguageName(code string) string {
	code = NormalizeLanguageCode(code)
	for _, l := range SupportedLanguages {
		if l.Code == code {
			return l.Name
		}
	}
	return "English"
}

var (
	ErrEmptyQuery          = errors.New("query text is empty")
	ErrTranslationFailed   = errors.New("failed to translate query")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrInvalidCourse       = errors.New("invalid course content")
	ErrIngestFailed        = errors.New("failed to ingest course content")
)

// CoordinatorRecorder receives translation and ingestion outcomes.
type CoordinatorRecorder interface {
	Translation(ok bool)
	Ingested(passages int, err error)
}

// ConversationCoordinator owns the language round trip around the
// orchestrator and the availability of course retrieval.
type ConversationCoordinator struct {
	orchestrator *RAGOrchestrator
	translator   Translator
	index        KnowledgeIndex
	builder      *PassageBuilder
	recorder     CoordinatorRecorder
	validate     *validator.Validate
	log          logger.Logger

	ingestMu  sync.Mutex
	available atomic.Bool
}

// CoordinatorOption is a functional option for ConversationCoordinator
type CoordinatorOption func(*ConversationCoordinator)

// CoordinatorWithIndex sets the index that ingestion writes to and that is
// bound for retrieval once it holds passages
func CoordinatorWithIndex(index KnowledgeIndex) CoordinatorOption {
	return func(c *ConversationCoordinator) {
		c.index = index
	}
}

// CoordinatorWithPassageBuilder sets how courses become passages
func CoordinatorWithPassageBuilder(b *PassageBuilder) CoordinatorOption {
	return func(c *ConversationCoordinator) {
		c.builder = b
	}
}

// CoordinatorWithRecorder sets the metrics sink
func CoordinatorWithRecorder(r CoordinatorRecorder) CoordinatorOption {
	return func(c *ConversationCoordinator) {
		c.recorder = r
	}
}

// CoordinatorWithLogger sets the logger
func CoordinatorWithLogger(l logger.Logger) CoordinatorOption {
	return func(c *ConversationCoordinator) {
		c.log = l
	}
}

// NewConversationCoordinator creates a coordinator. The orchestrator's
// current binding decides the initial availability.
func NewConversationCoordinator(orchestrator *RAGOrchestrator, translator Translator, opts ...CoordinatorOption) *ConversationCoordinator {
	c := &ConversationCoordinator{
		orchestrator: orchestrator,
		translator:   translator,
		validate:     validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Default()
	}
	if c.builder == nil {
		c.builder = NewPassageBuilder()
	}
	c.available.Store(orchestrator.HasRetriever())
	return c
}

// Available reports whether answers can be grounded in course content.
func (c *ConversationCoordinator) Available() bool {
	return c.available.Load()
}

// Ask answers q in q's language. The only errors are an empty query, an
// unsupported language, a failed translation and a cancelled ctx; upstream
// generation failures are absorbed into the answer.
func (c *ConversationCoordinator) Ask(ctx context.Context, q Query) (ValidatedAnswer, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return ValidatedAnswer{}, ErrEmptyQuery
	}

	code, err := ResolveLanguage(q.LanguageCode)
	if err != nil {
		return ValidatedAnswer{}, err
	}
	targetLanguage := LanguageName(code)
	log := logger.FromContextOr(ctx, c.log).With("language", code)

	englishQuery := text
	if code != PivotLanguage {
		translated, err := c.translator.Translate(ctx, text, code, PivotLanguage)
		if c.recorder != nil {
			c.recorder.Translation(err == nil)
		}
		if err != nil {
			return ValidatedAnswer{}, fmt.Errorf("%w: %w", ErrTranslationFailed, err)
		}
		log.Debug("Query translated", "query", translated)
		englishQuery = translated
	}

	candidate := c.orchestrator.Answer(ctx, englishQuery, targetLanguage)
	if err := ctx.Err(); err != nil {
		return ValidatedAnswer{}, err
	}
	log.Info("Question answered", "source", candidate.Origin.Label())
	return ValidatedAnswer{Answer: candidate.Text, Sources: candidate.Sources()}, nil
}

// Ingest converts course into passages and commits them to the index. The
// first successful commit binds the index for retrieval. On failure neither
// the binding nor availability changes. Ingesting the same course twice
// upserts the same passages.
func (c *ConversationCoordinator) Ingest(ctx context.Context, course *models.CourseLMS) (int, error) {
	if c.index == nil {
		return 0, fmt.Errorf("%w: no knowledge index configured", ErrIngestFailed)
	}
	if course == nil {
		return 0, fmt.Errorf("%w: course is nil", ErrInvalidCourse)
	}
	if err := c.validate.Struct(course); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCourse, err)
	}

	passages, err := c.builder.Build(course)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidCourse, err)
	}

	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	if err := c.index.AddPassages(ctx, passages); err != nil {
		if c.recorder != nil {
			c.recorder.Ingested(0, err)
		}
		return 0, fmt.Errorf("%w: %w", ErrIngestFailed, err)
	}
	if c.recorder != nil {
		c.recorder.Ingested(len(passages), nil)
	}

	if !c.orchestrator.HasRetriever() {
		c.orchestrator.BindRetriever(c.index)
		c.log.Info("Course retrieval attached", "course", course.CourseTitle)
	}
	c.available.Store(true)
	c.log.Info("Course content ingested", "course", course.CourseTitle, "passages", len(passages))
	return len(passages), nil
}

// Attach binds the index for retrieval when it already holds passages, as
// after a restart against a persistent store. It reports whether retrieval
// is available afterwards.
func (c *ConversationCoordinator) Attach(ctx context.Context) (bool, error) {
	if c.index == nil {
		return c.Available(), nil
	}

	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	n, err := c.index.Count(ctx)
	if err != nil {
		return c.Available(), fmt.Errorf("failed to inspect knowledge index: %w", err)
	}
	if n == 0 {
		c.log.Warn("Knowledge index is empty, answering from general knowledge")
		return c.Available(), nil
	}
	if !c.orchestrator.HasRetriever() {
		c.orchestrator.BindRetriever(c.index)
	}
	c.available.Store(true)
	c.log.Info("Knowledge index attached", "passages", n)
	return true, nil
}
