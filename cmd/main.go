package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/mtahsin/researchbot/internal/models"
	cfgPkg "github.com/mtahsin/researchbot/pkg/config"
	"github.com/mtahsin/researchbot/pkg/chunker"
	"github.com/mtahsin/researchbot/pkg/extractor"
	"github.com/mtahsin/researchbot/pkg/llm"
	"github.com/mtahsin/researchbot/pkg/session"
	"github.com/mtahsin/researchbot/pkg/store"
	"github.com/mtahsin/researchbot/server"
)

type Config struct {
	BaseURL      string
	DBUrl        string
	SessionDB    string
	IngestDir    string
	Model        string
	EmbedModel   string
	ChunkSize    int
	ChunkOverlap int
	VectorDim    int
	Collection   string
	Port         string
	Temperature  float64
	MaxTokens    int
	Retries      int
	Timeout      int
	RateLimit    float64
	Workers      int
}

func main() {
	config := parseFlags()

	if err := run(config); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Config {
	var config Config
	var configPath string

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&config.BaseURL, "ollama-url", os.Getenv("OLLAMA_BASE_URL"), "Ollama server URL")
	flag.StringVar(&config.DBUrl, "db-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flag.StringVar(&config.SessionDB, "session-db", os.Getenv("SESSION_DB_PATH"), "Path to the session SQLite database")
	flag.StringVar(&config.IngestDir, "ingest", "", "Ingest all PDFs in a directory, then exit")
	flag.StringVar(&config.Model, "model", "gemma3:4b", "LLM model to use")
	flag.StringVar(&config.EmbedModel, "embed-model", "nomic-embed-text:latest", "Embedding model to use")
	flag.IntVar(&config.ChunkSize, "chunk-size", 1000, "Size of text chunks in tokens")
	flag.IntVar(&config.ChunkOverlap, "chunk-overlap", 200, "Token overlap between adjacent chunks")
	flag.IntVar(&config.VectorDim, "vector-dim", 768, "Vector dimension")
	flag.StringVar(&config.Collection, "collection", "research_documents", "PostgreSQL table name")
	flag.StringVar(&config.Port, "port", "8080", "HTTP server port")
	flag.Float64Var(&config.Temperature, "temperature", 0.7, "Set the LLM temperature")
	flag.IntVar(&config.MaxTokens, "max-tokens", 2000, "Maximum tokens for LLM response")
	flag.IntVar(&config.Retries, "retries", 2, "Retries per embedding request")
	flag.IntVar(&config.Timeout, "timeout", 120, "Embedding request timeout in seconds")
	flag.Float64Var(&config.RateLimit, "rate-limit", 4.0, "Embedding requests per second")
	flag.IntVar(&config.Workers, "workers", 1, "Concurrent embedding requests")
	flag.Parse()

	// Load config file if specified; explicit flags win over file values
	if cfg, err := cfgPkg.LoadConfig(configPath); err == nil {
		if flag.Lookup("ollama-url").Value.String() == "" {
			config.BaseURL = cfg.LLM.BaseURL
		}
		if flag.Lookup("db-url").Value.String() == "" {
			config.DBUrl = cfg.Database.URL
		}
		if flag.Lookup("session-db").Value.String() == "" {
			config.SessionDB = cfg.Sessions.Path
		}

		config.Model = cfg.LLM.Model
		config.MaxTokens = cfg.LLM.MaxTokens
		config.Temperature = cfg.LLM.Temperature
		config.EmbedModel = cfg.Embedder.Model
		config.Timeout = cfg.Embedder.TimeoutSeconds
		config.Retries = cfg.Embedder.Retries
		config.RateLimit = cfg.Embedder.RateLimit
		config.Workers = cfg.Embedder.Workers
		config.Collection = cfg.Database.Collection
		config.VectorDim = cfg.Database.VectorDim
		config.ChunkSize = cfg.Chunker.ChunkSize
		config.ChunkOverlap = cfg.Chunker.ChunkOverlap
		config.Port = cfg.Server.Port
	}

	return config
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(config Config) error {
	ctx := context.Background()

	embedder := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		BaseURL:   config.BaseURL,
		Model:     config.EmbedModel,
		Timeout:   time.Duration(config.Timeout) * time.Second,
		Retries:   config.Retries,
		RateLimit: config.RateLimit,
		Workers:   config.Workers,
	})

	chatEngine, err := llm.NewChatEngine(llm.ChatConfig{
		Model:       config.Model,
		MaxTokens:   config.MaxTokens,
		BaseURL:     config.BaseURL,
		Temperature: config.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	chunks, err := chunker.NewWithConfig(chunker.Config{
		ChunkSize:    config.ChunkSize,
		ChunkOverlap: config.ChunkOverlap,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chunker: %v", err)
	}

	dbSpinner := getSpinner("🔌 Connecting to vector database...")
	vectorStore, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: config.DBUrl,
		Collection: config.Collection,
		VectorDim:  config.VectorDim,
	})
	dbSpinner.Finish()
	fmt.Print("\r")
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %v", err)
	}
	defer vectorStore.Close()

	if config.IngestDir != "" {
		return ingest(ctx, config.IngestDir, embedder, chunks, vectorStore)
	}

	sessions, err := session.Open(config.SessionDB)
	if err != nil {
		return fmt.Errorf("failed to open session store: %v", err)
	}
	defer sessions.Close()

	srv, err := server.New(server.Config{Port: config.Port}, server.Deps{
		Embedder:  embedder,
		Index:     vectorStore,
		Sessions:  sessions,
		Generator: chatEngine,
		Extractor: extractor.New(),
		Chunker:   chunks,
	})
	if err != nil {
		return err
	}

	color.Cyan("Research assistant listening on port %s", config.Port)
	return srv.ListenAndServe()
}

// ingest embeds every PDF under dir and stores the chunks, one file at a
// time so a single broken PDF does not abort the batch.
func ingest(ctx context.Context, dir string, embedder *llm.Embedder, chunks *chunker.Chunker, vectorStore *store.VectorStore) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %v", dir, err)
	}

	var pdfs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(entry.Name()), ".pdf") {
			pdfs = append(pdfs, entry.Name())
		}
	}
	if len(pdfs) == 0 {
		return fmt.Errorf("no PDF files found in %s", dir)
	}

	color.Blue("\nIngesting %d PDFs from %s\n", len(pdfs), dir)

	ext := extractor.New()
	bar := getProgressBar(len(pdfs), "📄 Ingesting PDFs...")

	ingested := 0
	chunksAdded := 0

	for _, name := range pdfs {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			color.Red("\nSkipping %s: %v", name, err)
			bar.Add(1)
			continue
		}

		text, err := ext.Extract(data)
		if err != nil || strings.TrimSpace(text) == "" {
			color.Red("\nSkipping %s: no usable text", name)
			bar.Add(1)
			continue
		}

		pieces, err := chunks.Chunk(text)
		if err != nil {
			return fmt.Errorf("failed to chunk %s: %v", name, err)
		}

		usable := pieces[:0]
		for _, p := range pieces {
			if strings.TrimSpace(p) != "" {
				usable = append(usable, p)
			}
		}
		if len(usable) == 0 {
			color.Red("\nSkipping %s: no usable text", name)
			bar.Add(1)
			continue
		}

		embeddings, err := embedder.Embed(ctx, usable)
		if err != nil {
			return fmt.Errorf("failed to embed %s: %v", name, err)
		}

		ids := make([]string, len(usable))
		metas := make([]models.ChunkMeta, len(usable))
		for i, p := range usable {
			ids[i] = fmt.Sprintf("%s#%d", name, i)
			metas[i] = models.ChunkMeta{
				Source:     name,
				ChunkIndex: i,
				TokenCount: chunks.CountTokens(p),
			}
		}

		if err := vectorStore.Upsert(ctx, ids, usable, embeddings, metas); err != nil {
			return fmt.Errorf("failed to store %s: %v", name, err)
		}

		ingested++
		chunksAdded += len(usable)
		bar.Add(1)
	}
	bar.Finish()

	color.Green("\n✓ Ingested %d of %d PDFs (%d chunks)\n", ingested, len(pdfs), chunksAdded)
	return nil
}
