package models

// Passage source labels stored in metadata["source"].
const (
	PassageSourceOverview = "course_overview"
	PassageSourceModule   = "course_module"
	PassageSourceContent  = "course_content"
)

// Passage is a chunk of course text plus metadata, the unit stored in and
// retrieved from the knowledge index.
type Passage struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"-"`
	Distance  float64        `json:"distance,omitempty"` // cosine distance, set on retrieval
}

// Source returns metadata["source"], or "" when absent.
func (p Passage) Source() string {
	s, _ := p.Metadata["source"].(string)
	return s
}
