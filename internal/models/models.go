package models

import "time"

// Message roles accepted by the session store.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChunkMeta is the metadata stored alongside every indexed chunk.
type ChunkMeta struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
	TokenCount int    `json:"token_count,omitempty"`
}

// Chunk is the unit of storage, retrieval and similarity comparison.
type Chunk struct {
	Source     string `json:"source"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count,omitempty"`
}

// SearchResult is one ranked hit from a nearest-neighbor query.
// Distance is the cosine distance reported by the index (lower is closer).
type SearchResult struct {
	Text     string    `json:"text"`
	Meta     ChunkMeta `json:"metadata"`
	Distance float64   `json:"distance"`
}

// Message is a single turn in a conversation session.
type Message struct {
	SessionID string    `json:"session_id,omitempty"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// SentenceReport labels one input sentence against the indexed corpus.
type SentenceReport struct {
	Sentence string  `json:"sentence"`
	Score    float64 `json:"score"`
	Label    string  `json:"label"`
}

// Match is one entry of the bounded match-preview list.
type Match struct {
	Source      string  `json:"source"`
	Similarity  float64 `json:"similarity"`
	MatchedText string  `json:"matched_text"`
}

// SimilarityReport is the full result of a plagiarism check.
type SimilarityReport struct {
	OriginalityScore  float64          `json:"originality_score"`
	PlagiarismPercent float64          `json:"plagiarism_percent"`
	Sentences         []SentenceReport `json:"sentences"`
	Matches           []Match          `json:"matches"`
	Status            string           `json:"status"`
}
