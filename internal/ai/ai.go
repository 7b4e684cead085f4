package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/david/grant-desk/internal/config"
)

var (
	ErrEmptyResponse = errors.New("language model returned no content")
	ErrNoAPIKey      = errors.New("language model api key is not configured")
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Schema asks the provider for a structured reply. Providers without schema
// support fall back to their plain JSON mode.
type Schema struct {
	Name       string
	Definition map[string]any
}

type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	TopP        float64
	Schema      *Schema
}

// System returns the joined system messages; User the joined user messages.
func (r ChatRequest) System() string { return r.join(RoleSystem) }
func (r ChatRequest) User() string   { return r.join(RoleUser) }

func (r ChatRequest) join(role Role) string {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == role {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ChatCompleter is a chat-completion style language model.
type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// StatusError is a non-2xx reply from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status: %d", e.Provider, e.StatusCode)
}

// New builds the completer selected by llm.provider.
func New(ctx context.Context, cfg config.LLM) (ChatCompleter, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, client), nil
	case "ollama":
		c := NewOllamaClient(cfg.BaseURL, "", cfg.Model)
		c.HTTPClient = client
		return c, nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model, "")
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

// NewEmbedder returns nil, nil when embeddings are disabled.
func NewEmbedder(ctx context.Context, cfg config.Embeddings) (Embedder, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "ollama":
		c := NewOllamaClient(cfg.BaseURL, cfg.Model, "")
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
		return c, nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, "", cfg.Model)
	}
	return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
}
