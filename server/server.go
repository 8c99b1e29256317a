package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/mtahsin/researchbot/internal/types"
	"github.com/mtahsin/researchbot/pkg/llm"
	"github.com/mtahsin/researchbot/pkg/plagiarism"
	"github.com/mtahsin/researchbot/pkg/retriever"
)

type Config struct {
	Port string
}

// Deps are the injected collaborators. Everything is an interface so tests
// can construct an isolated server with fakes.
type Deps struct {
	Embedder  types.Embedder
	Index     types.VectorIndex
	Sessions  types.SessionStore
	Generator types.Generator
	Extractor types.Extractor
	Chunker   types.Chunker
}

type Server struct {
	config    Config
	embedder  types.Embedder
	index     types.VectorIndex
	sessions  types.SessionStore
	generator types.Generator
	extractor types.Extractor
	chunker   types.Chunker
	retriever *retriever.Engine
	scorer    *plagiarism.Scorer
}

func New(config Config, deps Deps) (*Server, error) {
	if deps.Embedder == nil || deps.Index == nil || deps.Sessions == nil ||
		deps.Generator == nil || deps.Extractor == nil || deps.Chunker == nil {
		return nil, fmt.Errorf("all server dependencies must be provided")
	}
	if config.Port == "" {
		config.Port = "8080"
	}

	return &Server{
		config:    config,
		embedder:  deps.Embedder,
		index:     deps.Index,
		sessions:  deps.Sessions,
		generator: deps.Generator,
		extractor: deps.Extractor,
		chunker:   deps.Chunker,
		retriever: retriever.New(deps.Embedder, deps.Index),
		scorer:    plagiarism.New(deps.Embedder, deps.Index),
	}, nil
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /plagiarism/check", s.handlePlagiarismCheck)
	mux.HandleFunc("GET /documents", s.handleDocuments)
	mux.HandleFunc("GET /sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}

func (s *Server) ListenAndServe() error {
	addr := ":" + s.config.Port
	log.Printf("Starting server on %s", addr)
	return http.ListenAndServe(addr, s.Routes())
}

// statusFor maps the error taxonomy to HTTP status codes. Connectivity and
// exhausted-retry failures are upstream problems; precondition failures are
// the caller's.
func statusFor(err error) int {
	switch {
	case errors.Is(err, llm.ErrUnreachable), errors.Is(err, llm.ErrEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, plagiarism.ErrEmptyIndex),
		errors.Is(err, plagiarism.ErrNoSentences):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
