package plagiarism_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtahsin/researchbot/internal/models"
	"github.com/mtahsin/researchbot/pkg/plagiarism"
)

// fakeEmbedder returns pre-registered vectors, in input order, skipping
// whitespace-only texts the way the real client does.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		v, ok := f.vectors[t]
		if !ok {
			return nil, fmt.Errorf("no fake vector registered for %q", t)
		}
		out = append(out, v)
	}
	return out, nil
}

type fakeIndex struct {
	chunks []models.Chunk
}

func (f *fakeIndex) Upsert(_ context.Context, ids []string, texts []string, _ [][]float32, metas []models.ChunkMeta) error {
	for i := range ids {
		f.chunks = append(f.chunks, models.Chunk{
			Source: metas[i].Source,
			Index:  metas[i].ChunkIndex,
			Text:   texts[i],
		})
	}
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, _ int, _ []string) ([]models.SearchResult, error) {
	return nil, nil
}

func (f *fakeIndex) GetAll(_ context.Context) ([]models.Chunk, error) {
	return f.chunks, nil
}

func (f *fakeIndex) Count(_ context.Context) (int, error) {
	return len(f.chunks), nil
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "splits on punctuation",
			text: "First sentence here. Second sentence there! A third one maybe?",
			want: []string{"First sentence here", "Second sentence there", "A third one maybe"},
		},
		{
			name: "drops short fragments",
			text: "Hi. Ok! This sentence is long enough to keep.",
			want: []string{"This sentence is long enough to keep"},
		},
		{
			name: "nothing usable",
			text: "Hi. Ok! No?",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, plagiarism.SplitSentences(tt.text))
		})
	}
}

func TestScore_CopiedAndOriginalSentences(t *testing.T) {
	copied := "The mitochondria is the powerhouse of the cell"
	fresh := "This is definitely new content"
	chunk := "The mitochondria is the powerhouse of the cell."

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		copied: {1, 0},
		fresh:  {0, 1},
		chunk:  {1, 0},
	}}
	index := &fakeIndex{chunks: []models.Chunk{
		{Source: "bio.pdf", Index: 0, Text: chunk},
	}}

	scorer := plagiarism.New(embedder, index)

	report, err := scorer.Score(context.Background(), copied+". "+fresh+".", 0.70)
	require.NoError(t, err)

	require.Len(t, report.Sentences, 2)
	assert.Equal(t, plagiarism.LabelCopied, report.Sentences[0].Label)
	assert.GreaterOrEqual(t, report.Sentences[0].Score, 0.85)
	assert.Equal(t, plagiarism.LabelOriginal, report.Sentences[1].Label)

	assert.Equal(t, 50.0, report.PlagiarismPercent)
	assert.Equal(t, 50.0, report.OriginalityScore)
	// 50 > 35, so the literal threshold comparison says high plagiarism
	assert.Equal(t, plagiarism.StatusHighPlagiarism, report.Status)

	require.Len(t, report.Matches, 1)
	assert.Equal(t, "bio.pdf", report.Matches[0].Source)
	assert.InDelta(t, 1.0, report.Matches[0].Similarity, 1e-9)
}

func TestScore_PartialLabel(t *testing.T) {
	sentence := "A paraphrased take on the original statement"
	chunk := "The original statement as it was indexed."

	// cos(angle) = 0.75: partial band, weight 0.5
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		sentence: {1, 0},
		chunk:    {0.75, float32(math.Sqrt(1 - 0.75*0.75))},
	}}
	index := &fakeIndex{chunks: []models.Chunk{
		{Source: "paper.pdf", Index: 0, Text: chunk},
	}}

	scorer := plagiarism.New(embedder, index)

	report, err := scorer.Score(context.Background(), sentence+".", 0.90)
	require.NoError(t, err)

	require.Len(t, report.Sentences, 1)
	assert.Equal(t, plagiarism.LabelPartial, report.Sentences[0].Label)
	assert.Equal(t, 50.0, report.PlagiarismPercent)
	assert.Equal(t, plagiarism.StatusHighPlagiarism, report.Status)
	// Best score 0.75 does not exceed the 0.90 preview threshold
	assert.Empty(t, report.Matches)
}

func TestScore_EmptyIndexFailsPrecondition(t *testing.T) {
	scorer := plagiarism.New(&fakeEmbedder{}, &fakeIndex{})

	_, err := scorer.Score(context.Background(), "A perfectly reasonable sentence to check.", 0.70)
	assert.ErrorIs(t, err, plagiarism.ErrEmptyIndex)
}

func TestScore_NoSentencesFailsValidation(t *testing.T) {
	index := &fakeIndex{chunks: []models.Chunk{{Source: "a.pdf", Text: "stored text"}}}
	scorer := plagiarism.New(&fakeEmbedder{}, index)

	_, err := scorer.Score(context.Background(), "Hi. Ok!", 0.70)
	assert.ErrorIs(t, err, plagiarism.ErrNoSentences)
}

func TestScore_MatchListCappedAndSorted(t *testing.T) {
	chunk := "The one stored chunk everything matches against."

	vectors := map[string][]float32{chunk: {1, 0}}
	var sentences []string
	for i := 0; i < 12; i++ {
		s := fmt.Sprintf("Sentence number %02d is certainly long enough", i)
		sentences = append(sentences, s)
		cos := 0.99 - float64(i)*0.01
		vectors[s] = []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
	}

	embedder := &fakeEmbedder{vectors: vectors}
	index := &fakeIndex{chunks: []models.Chunk{{Source: "src.pdf", Index: 0, Text: chunk}}}

	scorer := plagiarism.New(embedder, index)

	report, err := scorer.Score(context.Background(), strings.Join(sentences, ". ")+".", 0.50)
	require.NoError(t, err)

	require.Len(t, report.Matches, 10)
	for i := 0; i+1 < len(report.Matches); i++ {
		assert.GreaterOrEqual(t, report.Matches[i].Similarity, report.Matches[i+1].Similarity)
	}

	assert.GreaterOrEqual(t, report.PlagiarismPercent, 0.0)
	assert.LessOrEqual(t, report.PlagiarismPercent, 100.0)
	assert.Equal(t, 100.0, report.PlagiarismPercent+report.OriginalityScore)
}
