package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mtahsin/researchbot/internal/models"
)

const defaultThreshold = 0.70

const noDocumentsPlaceholder = "No relevant documents found."

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ---- ingestion ----

type uploadResponse struct {
	Message       string   `json:"message"`
	DocumentCount int      `json:"document_count"`
	ChunksAdded   int      `json:"chunks_added"`
	Filenames     []string `json:"filenames"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No files uploaded")
		return
	}

	for _, fh := range files {
		if !isPDF(fh) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Only PDF allowed: %s", fh.Filename))
			return
		}
	}

	ctx := r.Context()
	var filenames []string
	chunksAdded := 0

	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			log.Printf("Skipping %s: %v", fh.Filename, err)
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			log.Printf("Skipping %s: %v", fh.Filename, err)
			continue
		}

		// A file that yields no usable text is skipped, not fatal to the batch
		text, err := s.extractor.Extract(data)
		if err != nil || strings.TrimSpace(text) == "" {
			log.Printf("Skipping %s: no usable text", fh.Filename)
			continue
		}

		chunks, err := s.chunker.Chunk(text)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}

		// Pre-filter the way the embedder does, so ids stay aligned
		usable := chunks[:0]
		for _, c := range chunks {
			if strings.TrimSpace(c) != "" {
				usable = append(usable, c)
			}
		}
		if len(usable) == 0 {
			log.Printf("Skipping %s: no usable text", fh.Filename)
			continue
		}

		embeddings, err := s.embedder.Embed(ctx, usable)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}

		ids := make([]string, len(usable))
		metas := make([]models.ChunkMeta, len(usable))
		for i, c := range usable {
			ids[i] = fmt.Sprintf("%s#%d", fh.Filename, i)
			metas[i] = models.ChunkMeta{
				Source:     fh.Filename,
				ChunkIndex: i,
				TokenCount: s.countTokens(c),
			}
		}

		if err := s.index.Upsert(ctx, ids, usable, embeddings, metas); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}

		filenames = append(filenames, fh.Filename)
		chunksAdded += len(usable)
	}

	if len(filenames) == 0 {
		writeError(w, http.StatusBadRequest, "no usable text in uploaded files")
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Message:       "Documents processed and added to vector DB successfully!",
		DocumentCount: len(filenames),
		ChunksAdded:   chunksAdded,
		Filenames:     filenames,
	})
}

func isPDF(fh *multipart.FileHeader) bool {
	if strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
		return true
	}
	return fh.Header.Get("Content-Type") == "application/pdf"
}

type tokenCounter interface {
	CountTokens(s string) int
}

func (s *Server) countTokens(text string) int {
	if tc, ok := s.chunker.(tokenCounter); ok {
		return tc.CountTokens(text)
	}
	return 0
}

// ---- query ----

type queryRequest struct {
	Question      string   `json:"question"`
	SessionID     string   `json:"session_id"`
	Chunks        int      `json:"chunks"`
	Temperature   float64  `json:"temperature"`
	Style         string   `json:"style"`
	DocumentNames []string `json:"document_names"`
}

type queryResponse struct {
	Answer    string           `json:"answer"`
	Sources   []string         `json:"sources"`
	SessionID string           `json:"session_id"`
	History   []models.Message `json:"history"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "Question cannot be empty")
		return
	}

	ctx := r.Context()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := s.sessions.Append(ctx, sessionID, models.RoleUser, question); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	history, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	// Previous turns only; the question itself was just appended
	var turns []string
	if len(history) > 0 {
		for _, m := range history[:len(history)-1] {
			turns = append(turns, fmt.Sprintf("%s: %s", m.Role, m.Content))
		}
	}
	historyContext := strings.Join(turns, "\n")

	k := req.Chunks
	if k == 0 {
		k = 5
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = 0
	}
	if temperature > 1 {
		temperature = 1
	}

	chunks, sources, err := s.retriever.Retrieve(ctx, question, k, req.DocumentNames)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	contextStr := noDocumentsPlaceholder
	if len(chunks) > 0 {
		contextStr = strings.Join(chunks, "\n\n")
	}

	prompt := buildPrompt(historyContext, contextStr, req.Style, question)

	answer, err := s.generator.Answer(ctx, prompt, temperature)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if err := s.sessions.Append(ctx, sessionID, models.RoleAssistant, answer); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	fullHistory, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Answer:    answer,
		Sources:   sources,
		SessionID: sessionID,
		History:   fullHistory,
	})
}

func buildPrompt(historyContext, contextStr, style, question string) string {
	var styleInstruction string
	switch strings.ToLower(strings.TrimSpace(style)) {
	case "concise":
		styleInstruction = "Be concise and direct. Use short sentences."
	case "bullet":
		styleInstruction = "Answer using clear bullet points."
	default: // Detailed
		styleInstruction = "Provide a detailed, comprehensive answer with explanations."
	}

	return fmt.Sprintf(`You are an expert research assistant. Answer based on the context and previous conversation.

Previous conversation:
%s

Current context:
%s

Instructions:
- %s
- Be accurate and helpful.

Question: %s

Answer:`, historyContext, contextStr, styleInstruction, question)
}

// ---- plagiarism ----

type plagiarismRequest struct {
	Text      string   `json:"text"`
	Threshold *float64 `json:"threshold"`
}

func (s *Server) handlePlagiarismCheck(w http.ResponseWriter, r *http.Request) {
	var req plagiarismRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	threshold := defaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if threshold < 0 || threshold > 1 {
		writeError(w, http.StatusBadRequest, "threshold must be between 0 and 1")
		return
	}

	report, err := s.scorer.Score(r.Context(), req.Text, threshold)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	if report.Matches == nil {
		report.Matches = []models.Match{}
	}
	writeJSON(w, http.StatusOK, report)
}

// ---- documents ----

type documentInfo struct {
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}

type documentsResponse struct {
	Documents     []documentInfo `json:"documents"`
	DocumentCount int            `json:"document_count"`
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.index.GetAll(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	counts := make(map[string]int)
	for _, c := range chunks {
		counts[c.Source]++
	}

	docs := make([]documentInfo, 0, len(counts))
	for source, n := range counts {
		docs = append(docs, documentInfo{Source: source, Chunks: n})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Source < docs[j].Source })

	writeJSON(w, http.StatusOK, documentsResponse{
		Documents:     docs,
		DocumentCount: len(docs),
	})
}

// ---- sessions ----

type sessionResponse struct {
	SessionID string           `json:"session_id"`
	History   []models.Message `json:"history"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	history, err := s.sessions.History(r.Context(), sessionID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if history == nil {
		history = []models.Message{}
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: sessionID,
		History:   history,
	})
}
