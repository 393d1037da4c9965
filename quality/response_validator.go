// Package quality guards every generated text before it reaches a user.
package quality

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"profai-backend/logger"
)

// DefaultFallback is returned by ValidateAndSanitize when no fallback is given.
const DefaultFallback = "I apologize, but I encountered an issue generating a proper response. Please try rephrasing your question."

// Check names, used in logs and metrics.
const (
	CheckEmpty        = "empty"
	CheckTooShort     = "too_short"
	CheckSymbolsOnly  = "symbols_only"
	CheckCharRun      = "char_run"
	CheckNoScript     = "no_readable_script"
	CheckRepetition   = "word_repetition"
	CheckAlphaDensity = "alpha_density"
)

var (
	symbolsOnly    = regexp.MustCompile(`^[^\p{L}\p{N}]{10,}$`)
	whitespaceRun  = regexp.MustCompile(`[\s\v\p{Z}]+`)
	punctuationRun = regexp.MustCompile(`[!?.]{4,}`)

	// Latin letters plus Devanagari, Bengali, Gurmukhi, Gujarati, Oriya,
	// Tamil, Telugu, Kannada, Malayalam and Arabic.
	noReadableScript = regexp.MustCompile(`^[^a-zA-Z\x{0900}-\x{097F}\x{0980}-\x{09FF}\x{0A00}-\x{0A7F}\x{0A80}-\x{0AFF}\x{0B00}-\x{0B7F}\x{0B80}-\x{0BFF}\x{0C00}-\x{0C7F}\x{0C80}-\x{0CFF}\x{0D00}-\x{0D7F}\x{0600}-\x{06FF}]{50,}$`)
)

// maxCharRun is the longest allowed run of one repeated character.
const maxCharRun = 20

// RejectionRecorder receives the name of every failed check.
type RejectionRecorder interface {
	QualityRejection(check string)
}

// Rejection describes why a text failed validation.
type Rejection struct {
	Check  string
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "response rejected: " + r.Check
	}
	return fmt.Sprintf("response rejected: %s (%s)", r.Check, r.Detail)
}

// ResponseValidator classifies generated text as usable or garbage.
type ResponseValidator struct {
	minLength          int
	maxRepetitionRatio float64
	maxRepetitionCount int
	log                logger.Logger
	recorder           RejectionRecorder
}

type Option func(*ResponseValidator)

func WithMinLength(n int) Option {
	return func(v *ResponseValidator) { v.minLength = n }
}

func WithMaxRepetitionRatio(r float64) Option {
	return func(v *ResponseValidator) { v.maxRepetitionRatio = r }
}

func WithMaxRepetitionCount(n int) Option {
	return func(v *ResponseValidator) { v.maxRepetitionCount = n }
}

func WithLogger(l logger.Logger) Option {
	return func(v *ResponseValidator) { v.log = l }
}

func WithRecorder(r RejectionRecorder) Option {
	return func(v *ResponseValidator) { v.recorder = r }
}

// NewResponseValidator returns a validator with minLength 5, repetition
// ratio 0.3 and repetition count 5 unless overridden.
func NewResponseValidator(opts ...Option) *ResponseValidator {
	v := &ResponseValidator{
		minLength:          5,
		maxRepetitionRatio: 0.3,
		maxRepetitionCount: 5,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.log == nil {
		v.log = logger.Default()
	}
	return v
}

// IsValid reports whether text passes every check.
func (v *ResponseValidator) IsValid(text string) bool {
	return v.Check(text) == nil
}

// Check returns nil for usable text, or a *Rejection naming the first
// failed check.
func (v *ResponseValidator) Check(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &Rejection{Check: CheckEmpty}
	}
	if n := utf8.RuneCountInString(trimmed); n < v.minLength {
		return &Rejection{Check: CheckTooShort, Detail: fmt.Sprintf("%d chars", n)}
	}

	if symbolsOnly.MatchString(text) {
		return &Rejection{Check: CheckSymbolsOnly}
	}
	if r, n := longestRun(text); n > maxCharRun {
		return &Rejection{Check: CheckCharRun, Detail: fmt.Sprintf("%q x%d", r, n)}
	}
	if noReadableScript.MatchString(text) {
		return &Rejection{Check: CheckNoScript}
	}

	words := strings.Fields(text)
	if len(words) > 10 {
		counts := make(map[string]int)
		for _, w := range words {
			w = strings.Trim(strings.ToLower(w), ".,!?;:")
			if utf8.RuneCountInString(w) > 3 {
				counts[w]++
			}
		}
		limit := float64(len(words)) * v.maxRepetitionRatio
		for w, c := range counts {
			if c > v.maxRepetitionCount && float64(c) > limit {
				return &Rejection{Check: CheckRepetition, Detail: fmt.Sprintf("%q x%d", w, c)}
			}
		}
	}

	total, alpha := 0, 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	if total > 20 && float64(alpha)/float64(total) < 0.3 {
		return &Rejection{Check: CheckAlphaDensity, Detail: fmt.Sprintf("%d/%d", alpha, total)}
	}
	return nil
}

// longestRun finds the longest run of a single repeated rune, newlines
// excluded.
func longestRun(text string) (rune, int) {
	var best, prev rune
	bestN, n := 0, 0
	for _, r := range text {
		if r == prev && r != '\n' {
			n++
		} else {
			prev, n = r, 1
		}
		if n > bestN {
			best, bestN = r, n
		}
	}
	return best, bestN
}

// Sanitize collapses whitespace, caps runs of !, ? and . at three and trims.
// A mixed run is replaced by three copies of its last character.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = punctuationRun.ReplaceAllStringFunc(text, func(run string) string {
		return strings.Repeat(run[len(run)-1:], 3)
	})
	return strings.TrimSpace(text)
}

// Sanitize is the method form of the package-level Sanitize.
func (v *ResponseValidator) Sanitize(text string) string {
	return Sanitize(text)
}

// Validate sanitizes text and checks it. A rejection is logged, recorded
// and returned as a *Rejection.
func (v *ResponseValidator) Validate(text string) (string, error) {
	sanitized := Sanitize(text)
	err := v.Check(sanitized)
	if err == nil {
		return sanitized, nil
	}

	check := CheckEmpty
	var rej *Rejection
	if errors.As(err, &rej) {
		check = rej.Check
	}
	v.log.Warn("Generated response rejected", "check", check, "error", err, "preview", preview(text, 100))
	if v.recorder != nil {
		v.recorder.QualityRejection(check)
	}
	return "", err
}

// ValidateAndSanitize sanitizes text and returns it if valid. Otherwise it
// returns fallback, or DefaultFallback when fallback is empty.
func (v *ResponseValidator) ValidateAndSanitize(text, fallback string) string {
	sanitized, err := v.Validate(text)
	if err == nil {
		return sanitized
	}
	if fallback != "" {
		return fallback
	}
	return DefaultFallback
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
