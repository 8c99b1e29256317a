package plagiarism

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mtahsin/researchbot/internal/models"
	"github.com/mtahsin/researchbot/internal/types"
)

var (
	// ErrEmptyIndex means there is nothing to compare against.
	ErrEmptyIndex = errors.New("no documents in the index")
	// ErrNoSentences means the input text yields no usable sentences.
	ErrNoSentences = errors.New("no usable sentences in input")
)

// Labeling thresholds are fixed. The caller-supplied threshold only gates the
// match-preview list, it never moves these.
const (
	copiedThreshold  = 0.85
	partialThreshold = 0.65

	copiedWeight  = 1.0
	partialWeight = 0.5

	highPlagiarismCutoff = 35.0

	minSentenceLength  = 10
	maxMatches         = 10
	matchPreviewLength = 250
)

const (
	LabelCopied   = "copied"
	LabelPartial  = "partial"
	LabelOriginal = "original"

	StatusHighPlagiarism = "High Plagiarism"
	StatusMostlyOriginal = "Mostly Original"
)

// Scorer compares input text sentence by sentence against every indexed
// chunk.
type Scorer struct {
	embedder types.Embedder
	index    types.VectorIndex
}

func New(embedder types.Embedder, index types.VectorIndex) *Scorer {
	return &Scorer{
		embedder: embedder,
		index:    index,
	}
}

// SplitSentences breaks text on simple punctuation boundaries and drops
// fragments of 10 characters or fewer after trimming.
func SplitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})

	var sentences []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) > minSentenceLength {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// Score embeds every sentence of text and every stored chunk, computes the
// full pairwise cosine-similarity matrix, and derives per-sentence labels
// plus the aggregate originality score.
func (s *Scorer) Score(ctx context.Context, text string, threshold float64) (*models.SimilarityReport, error) {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil, ErrNoSentences
	}

	stored, err := s.index.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if len(stored) == 0 {
		return nil, ErrEmptyIndex
	}

	sentenceVecs, err := s.embedder.Embed(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("failed to embed sentences: %w", err)
	}
	if len(sentenceVecs) != len(sentences) {
		return nil, fmt.Errorf("embedding count mismatch: %d sentences, %d vectors", len(sentences), len(sentenceVecs))
	}

	chunkTexts := make([]string, len(stored))
	for i, c := range stored {
		chunkTexts[i] = c.Text
	}
	chunkVecs, err := s.embedder.Embed(ctx, chunkTexts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed stored chunks: %w", err)
	}
	if len(chunkVecs) != len(stored) {
		return nil, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors", len(stored), len(chunkVecs))
	}

	reports := make([]models.SentenceReport, 0, len(sentences))
	var matches []models.Match
	var plagWeight float64

	for i, sentence := range sentences {
		best := -1.0
		bestIdx := 0
		for j := range chunkVecs {
			if sim := cosineSimilarity(sentenceVecs[i], chunkVecs[j]); sim > best {
				best = sim
				bestIdx = j
			}
		}

		var label string
		switch {
		case best >= copiedThreshold:
			label = LabelCopied
			plagWeight += copiedWeight
		case best >= partialThreshold:
			label = LabelPartial
			plagWeight += partialWeight
		default:
			label = LabelOriginal
		}

		reports = append(reports, models.SentenceReport{
			Sentence: sentence,
			Score:    round3(best),
			Label:    label,
		})

		if best > threshold {
			matches = append(matches, models.Match{
				Source:      stored[bestIdx].Source,
				Similarity:  round3(best),
				MatchedText: preview(stored[bestIdx].Text),
			})
		}
	}

	// Keep the highest-similarity matches
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}

	plagiarismPercent := round2(plagWeight / float64(len(sentences)) * 100)
	status := StatusMostlyOriginal
	if plagiarismPercent > highPlagiarismCutoff {
		status = StatusHighPlagiarism
	}

	return &models.SimilarityReport{
		OriginalityScore:  round2(100 - plagiarismPercent),
		PlagiarismPercent: plagiarismPercent,
		Sentences:         reports,
		Matches:           matches,
		Status:            status,
	}, nil
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= matchPreviewLength {
		return text
	}
	return string(runes[:matchPreviewLength])
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
