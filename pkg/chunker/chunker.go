package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

// Chunker splits text into overlapping windows of sub-word tokens. Window
// boundaries need not align to word boundaries; each window is decoded
// independently.
type Chunker struct {
	config   Config
	encoding *tiktoken.Tiktoken
}

func NewWithConfig(config Config) (*Chunker, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	if config.ChunkSize-config.ChunkOverlap <= 0 {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", config.ChunkOverlap, config.ChunkSize)
	}

	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", encodingName, err)
	}

	return &Chunker{
		config:   config,
		encoding: encoding,
	}, nil
}

// Chunk tokenizes the full text once and emits windows of ChunkSize tokens,
// advancing ChunkSize-ChunkOverlap tokens per step until the stream is
// exhausted.
func (c *Chunker) Chunk(text string) ([]string, error) {
	step := c.config.ChunkSize - c.config.ChunkOverlap
	if step <= 0 {
		// Guard against an infinite loop on a zero or negative step
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.config.ChunkOverlap, c.config.ChunkSize)
	}

	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil, nil
	}

	var chunks []string
	for i := 0; i < len(tokens); i += step {
		end := i + c.config.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, c.encoding.Decode(tokens[i:end]))
	}

	return chunks, nil
}

// CountTokens returns the number of sub-word tokens in s.
func (c *Chunker) CountTokens(s string) int {
	return len(c.encoding.Encode(s, nil, nil))
}
