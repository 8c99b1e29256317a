package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// ChatConfig represents the configuration for the generation engine.
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string // Ollama server URL
}

// ChatEngine forwards an assembled prompt to the generative model and returns
// its raw text reply. Prompt assembly is the caller's concern.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewChatEngine creates a new ChatEngine with the given configuration.
func NewChatEngine(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "gemma3:4b" // Default Ollama model
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// Answer generates a single non-streamed reply for the prompt.
func (ce *ChatEngine) Answer(ctx context.Context, prompt string, temperature float64) (string, error) {
	if temperature <= 0 || temperature > 1 {
		temperature = ce.config.Temperature
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(ce.config.MaxTokens))
	if err != nil {
		return "", fmt.Errorf("generation error: %w", err)
	}

	if len(response.Choices) == 0 || response.Choices[0].Content == "" {
		return "", errors.New("no response from LLM")
	}

	return response.Choices[0].Content, nil
}

// AnswerStream generates a reply for the prompt, delivered chunk by chunk.
func (ce *ChatEngine) AnswerStream(ctx context.Context, prompt string, temperature float64) (<-chan string, error) {
	if temperature <= 0 || temperature > 1 {
		temperature = ce.config.Temperature
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resultChan := make(chan string)

	go func() {
		defer close(resultChan)

		_, err := ce.llm.GenerateContent(ctx, content,
			llms.WithTemperature(temperature),
			llms.WithMaxTokens(ce.config.MaxTokens),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case resultChan <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}))
		if err != nil {
			resultChan <- fmt.Sprintf("Error: %v", err)
		}
	}()

	return resultChan, nil
}
