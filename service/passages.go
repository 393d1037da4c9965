package service

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"profai-backend/models"

	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/crypto/blake2b"
)

// PassageBuilder turns a course into index passages: one for the title, one
// per module heading and one or more per sub-topic with usable content.
type PassageBuilder struct {
	splitter textsplitter.TextSplitter
}

type PassageBuilderOption func(*PassageBuilder)

// PassageBuilderWithChunking sets the maximum passage size and the overlap
// between consecutive pieces of a split sub-topic, in runes.
func PassageBuilderWithChunking(size, overlap int) PassageBuilderOption {
	return func(b *PassageBuilder) {
		b.splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		)
	}
}

func NewPassageBuilder(opts ...PassageBuilderOption) *PassageBuilder {
	b := &PassageBuilder{}
	PassageBuilderWithChunking(1000, 200)(b)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the passages for course, deduplicated by ID.
func (b *PassageBuilder) Build(course *models.CourseLMS) ([]models.Passage, error) {
	var passages []models.Passage
	seen := make(map[string]bool)
	add := func(text string, metadata map[string]any) error {
		pieces, err := b.splitter.SplitText(text)
		if err != nil {
			return fmt.Errorf("failed to split passage: %w", err)
		}
		for _, piece := range pieces {
			if strings.TrimSpace(piece) == "" {
				continue
			}
			id := PassageID(piece, metadata)
			if seen[id] {
				continue
			}
			seen[id] = true
			passages = append(passages, models.Passage{ID: id, Text: piece, Metadata: metadata})
		}
		return nil
	}

	if course.CourseTitle != "" {
		err := add("Course Title: "+course.CourseTitle, map[string]any{
			"source":    models.PassageSourceOverview,
			"type":      "title",
			"course_id": course.CourseID,
		})
		if err != nil {
			return nil, err
		}
	}

	for _, m := range course.Modules {
		err := add(fmt.Sprintf("Week %d: %s", m.Week, m.Title), map[string]any{
			"source":    models.PassageSourceModule,
			"type":      "module",
			"week":      m.Week,
			"course_id": course.CourseID,
		})
		if err != nil {
			return nil, err
		}

		for _, st := range m.SubTopics {
			if !st.Indexable() {
				continue
			}
			err := add(fmt.Sprintf("Topic: %s\n\n%s", st.Title, st.Content), map[string]any{
				"source":    models.PassageSourceContent,
				"type":      "content",
				"week":      m.Week,
				"topic":     st.Title,
				"course_id": course.CourseID,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	if len(passages) == 0 {
		return nil, fmt.Errorf("course %q has no indexable text", course.CourseTitle)
	}
	return passages, nil
}

// PassageID is a content hash of text and metadata, so the same passage
// always gets the same id.
func PassageID(text string, metadata map[string]any) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(text))
	h.Write([]byte{0})
	// encoding/json sorts map keys, which makes the encoding canonical.
	meta, _ := json.Marshal(metadata)
	h.Write(meta)
	return hex.EncodeToString(h.Sum(nil))
}
