package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"profai-backend/logger"
	"profai-backend/quality"
)

// UngroundedSentinel is the phrase the model is told to emit when the
// course context does not answer the question.
const UngroundedSentinel = "I cannot find the answer"

// ChatApology replaces answers that fail validation on the chat path.
const ChatApology = "I apologize, but I encountered an issue generating a proper response. Please try asking your question again."

const qualityGuidelines = `IMPORTANT QUALITY GUIDELINES:
- Provide clear, coherent, and well-structured responses
- Do NOT generate random characters, symbols, or gibberish
- Do NOT repeat the same content unnecessarily
- Do NOT provide incomplete or truncated responses
- Always respond in proper, grammatically correct %s
- Ensure your response is relevant and directly addresses the question
- Be helpful, informative, and professional`

const groundedTemplate = `You are ProfAI, a teaching assistant for an online course.
Answer the question using only the course context below.
If the context does not contain the answer, reply with exactly: "%s"
Write the answer in %s.

Context:
%s

Question: %s

Answer:`

// AnswerRecorder counts answers by source label.
type AnswerRecorder interface {
	Answer(source string)
}

type retrieverBinding struct {
	retriever Retriever
}

// groundedOutcome is the result of one attempt to answer from course content.
type groundedOutcome int

const (
	groundedAnswer groundedOutcome = iota
	groundedUnsupported
	groundedFailed
)

type groundedResult struct {
	outcome groundedOutcome
	text    string
	err     error
}

// RAGOrchestrator chooses between a grounded answer and a general-knowledge
// answer and validates whatever it returns.
type RAGOrchestrator struct {
	generator Generator
	validator *quality.ResponseValidator
	recorder  AnswerRecorder
	log       logger.Logger

	retriever atomic.Pointer[retrieverBinding]
}

// RAGOption is a functional option for RAGOrchestrator
type RAGOption func(*RAGOrchestrator)

// RAGWithRetriever binds a retriever at construction time
func RAGWithRetriever(r Retriever) RAGOption {
	return func(o *RAGOrchestrator) {
		o.BindRetriever(r)
	}
}

// RAGWithValidator sets the response validator
func RAGWithValidator(v *quality.ResponseValidator) RAGOption {
	return func(o *RAGOrchestrator) {
		o.validator = v
	}
}

// RAGWithRecorder sets the answer counter
func RAGWithRecorder(r AnswerRecorder) RAGOption {
	return func(o *RAGOrchestrator) {
		o.recorder = r
	}
}

// RAGWithLogger sets the logger
func RAGWithLogger(l logger.Logger) RAGOption {
	return func(o *RAGOrchestrator) {
		o.log = l
	}
}

// NewRAGOrchestrator creates an orchestrator around generator.
func NewRAGOrchestrator(generator Generator, opts ...RAGOption) *RAGOrchestrator {
	o := &RAGOrchestrator{generator: generator}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Default()
	}
	if o.validator == nil {
		o.validator = quality.NewResponseValidator(quality.WithLogger(o.log))
	}
	return o
}

// BindRetriever makes r the retriever for every later Answer call. Calls
// already in flight keep the binding they started with.
func (o *RAGOrchestrator) BindRetriever(r Retriever) {
	if r == nil {
		o.retriever.Store(nil)
		return
	}
	o.retriever.Store(&retrieverBinding{retriever: r})
}

// HasRetriever reports whether a retriever is bound.
func (o *RAGOrchestrator) HasRetriever() bool {
	return o.retriever.Load() != nil
}

// Answer answers an English query in targetLanguage. It never fails: upstream
// errors become a general-knowledge answer or an apology. When ctx is done
// the fallback path is skipped.
func (o *RAGOrchestrator) Answer(ctx context.Context, query, targetLanguage string) AnswerCandidate {
	binding := o.retriever.Load()
	if binding == nil {
		return o.general(ctx, query, targetLanguage, OriginGeneralKnowledge)
	}

	res := o.grounded(ctx, binding.retriever, query, targetLanguage)
	switch res.outcome {
	case groundedAnswer:
		o.record(OriginCourseContent)
		return AnswerCandidate{Text: res.text, Origin: OriginCourseContent}
	case groundedUnsupported:
		o.log.Info("Course content has no answer, using general knowledge")
	case groundedFailed:
		if ctx.Err() != nil {
			// Nothing came from course content; the fallback was chosen but
			// not run.
			o.log.Debug("Request cancelled during grounded answer", "error", ctx.Err())
			return AnswerCandidate{Text: ChatApology, Origin: OriginGeneralKnowledgeFallback}
		}
		o.log.Warn("Grounded answer failed, using general knowledge", "error", res.err)
	}
	return o.general(ctx, query, targetLanguage, OriginGeneralKnowledgeFallback)
}

func (o *RAGOrchestrator) grounded(ctx context.Context, r Retriever, query, targetLanguage string) groundedResult {
	retrieved, err := r.Retrieve(ctx, query)
	if err != nil {
		return groundedResult{outcome: groundedFailed, err: fmt.Errorf("retrieval failed: %w", err)}
	}
	if len(retrieved.Passages) == 0 {
		return groundedResult{outcome: groundedUnsupported}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var b strings.Builder
	req := GenerateRequest{Prompt: GroundedPrompt(retrieved, query, targetLanguage), Temperature: 0}
	for chunk := range o.generator.Stream(streamCtx, req) {
		if chunk.Err != nil {
			return groundedResult{outcome: groundedFailed, err: chunk.Err}
		}
		b.WriteString(chunk.Text)
		// The sentinel usually opens the reply; stop paying for the rest.
		if containsSentinel(b.String()) {
			return groundedResult{outcome: groundedUnsupported}
		}
	}
	if err := ctx.Err(); err != nil {
		return groundedResult{outcome: groundedFailed, err: err}
	}

	text := o.validator.ValidateAndSanitize(b.String(), ChatApology)
	if containsSentinel(text) {
		return groundedResult{outcome: groundedUnsupported}
	}
	return groundedResult{outcome: groundedAnswer, text: text}
}

func (o *RAGOrchestrator) general(ctx context.Context, query, targetLanguage string, origin AnswerOrigin) AnswerCandidate {
	text, err := o.generator.Complete(ctx, GenerateRequest{
		Prompt:      query,
		System:      GeneralSystemPrompt(targetLanguage),
		Temperature: 1,
	})
	if err != nil {
		o.log.Error("General knowledge answer failed", "error", err, "origin", origin.Label())
		o.record(origin)
		return AnswerCandidate{Text: ChatApology, Origin: origin}
	}

	o.record(origin)
	return AnswerCandidate{Text: o.validator.ValidateAndSanitize(text, ChatApology), Origin: origin}
}

func (o *RAGOrchestrator) record(origin AnswerOrigin) {
	if o.recorder != nil {
		o.recorder.Answer(origin.Label())
	}
}

func containsSentinel(text string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(UngroundedSentinel))
}

// GroundedPrompt builds the course-context prompt for query.
func GroundedPrompt(retrieved RetrievalResult, query, targetLanguage string) string {
	parts := make([]string, 0, len(retrieved.Passages))
	for _, p := range retrieved.Passages {
		parts = append(parts, p.Text)
	}
	return fmt.Sprintf(groundedTemplate, UngroundedSentinel, targetLanguage, strings.Join(parts, "\n\n"), query)
}

// GeneralSystemPrompt is the plain-assistant instruction for targetLanguage.
func GeneralSystemPrompt(targetLanguage string) string {
	return fmt.Sprintf("You are a helpful AI assistant. Answer the user's question concisely and in %s.\n\n", targetLanguage) +
		fmt.Sprintf(qualityGuidelines, targetLanguage)
}
