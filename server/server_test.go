package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtahsin/researchbot/internal/models"
	"github.com/mtahsin/researchbot/server"
)

// ---- fakes ----

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		out = append(out, []float32{1, 0})
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

func (f *fakeIndex) Query(_ context.Context, _ []float32, k int, sources []string) ([]models.SearchResult, error) {
	allowed := func(string) bool { return true }
	if len(sources) > 0 {
		set := make(map[string]bool)
		for _, s := range sources {
			set[s] = true
		}
		allowed = func(s string) bool { return set[s] }
	}

	var out []models.SearchResult
	for _, c := range f.chunks {
		if allowed(c.Source) && len(out) < k {
			out = append(out, models.SearchResult{
				Text: c.Text,
				Meta: models.ChunkMeta{Source: c.Source, ChunkIndex: c.Index},
			})
		}
	}
	return out, nil
}

func (f *fakeIndex) GetAll(context.Context) ([]models.Chunk, error) { return f.chunks, nil }
func (f *fakeIndex) Count(context.Context) (int, error)             { return len(f.chunks), nil }

type fakeSessions struct {
	messages map[string][]models.Message
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{messages: make(map[string][]models.Message)}
}

func (f *fakeSessions) Append(_ context.Context, sessionID, role, content string) error {
	f.messages[sessionID] = append(f.messages[sessionID], models.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	})
	return nil
}

func (f *fakeSessions) History(_ context.Context, sessionID string) ([]models.Message, error) {
	return f.messages[sessionID], nil
}

type fakeGenerator struct {
	answer     string
	lastPrompt string
}

func (f *fakeGenerator) Answer(_ context.Context, prompt string, _ float64) (string, error) {
	f.lastPrompt = prompt
	return f.answer, nil
}

func (f *fakeGenerator) AnswerStream(ctx context.Context, prompt string, temperature float64) (<-chan string, error) {
	ch := make(chan string, 1)
	ch <- f.answer
	close(ch)
	return ch, nil
}

// fakeExtractor treats the file bytes as the extracted text, failing on a
// magic "corrupt" payload.
type fakeExtractor struct{}

func (fakeExtractor) Extract(data []byte) (string, error) {
	if bytes.Contains(data, []byte("corrupt")) {
		return "", fmt.Errorf("failed to open PDF")
	}
	return string(data), nil
}

// fakeChunker splits on sentence boundaries, one chunk per sentence.
type fakeChunker struct{}

func (fakeChunker) Chunk(text string) ([]string, error) {
	var chunks []string
	for _, part := range strings.Split(text, ".") {
		if strings.TrimSpace(part) != "" {
			chunks = append(chunks, strings.TrimSpace(part))
		}
	}
	return chunks, nil
}

func newTestServer(t *testing.T, index *fakeIndex, sessions *fakeSessions, gen *fakeGenerator) *server.Server {
	t.Helper()

	s, err := server.New(server.Config{Port: "0"}, server.Deps{
		Embedder:  fakeEmbedder{},
		Index:     index,
		Sessions:  sessions,
		Generator: gen,
		Extractor: fakeExtractor{},
		Chunker:   fakeChunker{},
	})
	require.NoError(t, err)
	return s
}

// ---- upload ----

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func TestUpload_PartialBatchSucceeds(t *testing.T) {
	index := &fakeIndex{}
	s := newTestServer(t, index, newFakeSessions(), &fakeGenerator{})

	body, contentType := multipartBody(t, map[string]string{
		"broken.pdf": "corrupt bytes",
		"good.pdf":   "First fact about cells. Second fact about cells. Third fact about cells.",
	})

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		DocumentCount int      `json:"document_count"`
		ChunksAdded   int      `json:"chunks_added"`
		Filenames     []string `json:"filenames"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 1, resp.DocumentCount)
	assert.Equal(t, 3, resp.ChunksAdded)
	assert.Equal(t, []string{"good.pdf"}, resp.Filenames)
	assert.Len(t, index.chunks, 3)
}

func TestUpload_NoFiles(t *testing.T) {
	s := newTestServer(t, &fakeIndex{}, newFakeSessions(), &fakeGenerator{})

	body, contentType := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_RejectsNonPDF(t *testing.T) {
	s := newTestServer(t, &fakeIndex{}, newFakeSessions(), &fakeGenerator{})

	body, contentType := multipartBody(t, map[string]string{
		"notes.txt": "plain text",
	})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "notes.txt")
}

func TestUpload_AllFilesUnusable(t *testing.T) {
	s := newTestServer(t, &fakeIndex{}, newFakeSessions(), &fakeGenerator{})

	body, contentType := multipartBody(t, map[string]string{
		"broken.pdf": "corrupt bytes",
	})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ---- query ----

func TestQuery_EmptyQuestion(t *testing.T) {
	s := newTestServer(t, &fakeIndex{}, newFakeSessions(), &fakeGenerator{})

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question": "   "}`))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_AnswersAndRecordsSession(t *testing.T) {
	index := &fakeIndex{chunks: []models.Chunk{
		{Source: "bio.pdf", Index: 0, Text: "The mitochondria is the powerhouse of the cell."},
	}}
	sessions := newFakeSessions()
	gen := &fakeGenerator{answer: "It produces the cell's energy."}
	s := newTestServer(t, index, sessions, gen)

	reqBody := `{"question": "What does the mitochondria do?", "chunks": 3}`
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Answer    string           `json:"answer"`
		Sources   []string         `json:"sources"`
		SessionID string           `json:"session_id"`
		History   []models.Message `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "It produces the cell's energy.", resp.Answer)
	assert.Equal(t, []string{"bio.pdf"}, resp.Sources)
	assert.NotEmpty(t, resp.SessionID)

	require.Len(t, resp.History, 2)
	assert.Equal(t, models.RoleUser, resp.History[0].Role)
	assert.Equal(t, models.RoleAssistant, resp.History[1].Role)

	// Retrieved context made it into the prompt
	assert.Contains(t, gen.lastPrompt, "powerhouse of the cell")
}

func TestQuery_EmptyIndexUsesPlaceholder(t *testing.T) {
	gen := &fakeGenerator{answer: "I have no documents to draw on."}
	s := newTestServer(t, &fakeIndex{}, newFakeSessions(), gen)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"question": "Anything indexed?"}`))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, gen.lastPrompt, "No relevant documents found.")
}

// ---- plagiarism ----

func TestPlagiarismCheck_EmptyIndex(t *testing.T) {
	s := newTestServer(t, &fakeIndex{}, newFakeSessions(), &fakeGenerator{})

	reqBody := `{"text": "A sentence long enough to be checked properly.", "threshold": 0.7}`
	req := httptest.NewRequest(http.MethodPost, "/plagiarism/check", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no documents in the index")
}

func TestPlagiarismCheck_ReportsCopiedText(t *testing.T) {
	// The fake embedder maps every text to the same vector, so any sentence
	// scores 1.0 against the stored chunk
	index := &fakeIndex{chunks: []models.Chunk{
		{Source: "bio.pdf", Index: 0, Text: "The mitochondria is the powerhouse of the cell."},
	}}
	s := newTestServer(t, index, newFakeSessions(), &fakeGenerator{})

	reqBody := `{"text": "The mitochondria is the powerhouse of the cell.", "threshold": 0.7}`
	req := httptest.NewRequest(http.MethodPost, "/plagiarism/check", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var report models.SimilarityReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))

	require.Len(t, report.Sentences, 1)
	assert.Equal(t, "copied", report.Sentences[0].Label)
	assert.Equal(t, 100.0, report.PlagiarismPercent)
	assert.Equal(t, 0.0, report.OriginalityScore)
	assert.Equal(t, "High Plagiarism", report.Status)
	require.Len(t, report.Matches, 1)
	assert.Equal(t, "bio.pdf", report.Matches[0].Source)
}

func TestPlagiarismCheck_InvalidThreshold(t *testing.T) {
	s := newTestServer(t, &fakeIndex{}, newFakeSessions(), &fakeGenerator{})

	reqBody := `{"text": "A sentence long enough to be checked.", "threshold": 1.5}`
	req := httptest.NewRequest(http.MethodPost, "/plagiarism/check", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ---- documents & sessions ----

func TestDocuments_CountsChunksPerSource(t *testing.T) {
	index := &fakeIndex{chunks: []models.Chunk{
		{Source: "a.pdf", Index: 0, Text: "one"},
		{Source: "a.pdf", Index: 1, Text: "two"},
		{Source: "b.pdf", Index: 0, Text: "three"},
	}}
	s := newTestServer(t, index, newFakeSessions(), &fakeGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Documents []struct {
			Source string `json:"source"`
			Chunks int    `json:"chunks"`
		} `json:"documents"`
		DocumentCount int `json:"document_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, 2, resp.DocumentCount)
	require.Len(t, resp.Documents, 2)
	assert.Equal(t, "a.pdf", resp.Documents[0].Source)
	assert.Equal(t, 2, resp.Documents[0].Chunks)
}

func TestSession_ReturnsHistoryInOrder(t *testing.T) {
	sessions := newFakeSessions()
	require.NoError(t, sessions.Append(context.Background(), "abc", models.RoleUser, "first"))
	require.NoError(t, sessions.Append(context.Background(), "abc", models.RoleAssistant, "second"))

	s := newTestServer(t, &fakeIndex{}, sessions, &fakeGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/sessions/abc", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SessionID string           `json:"session_id"`
		History   []models.Message `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "abc", resp.SessionID)
	require.Len(t, resp.History, 2)
	assert.Equal(t, "first", resp.History[0].Content)
	assert.Equal(t, "second", resp.History[1].Content)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeIndex{}, newFakeSessions(), &fakeGenerator{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
