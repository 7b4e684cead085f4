package retrieval

import (
	"context"
	"net/http"
	"time"
)

const DefaultFallbackTimeout = 5 * time.Second

type FallbackConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Fallback makes one unauthenticated attempt. Its data is lower trust.
type Fallback[T any] struct {
	cfg    FallbackConfig
	decode Decoder[T]
	client *http.Client
}

func NewFallback[T any](cfg FallbackConfig, decode Decoder[T]) *Fallback[T] {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFallbackTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Fallback[T]{cfg: cfg, decode: decode, client: client}
}

func (f *Fallback[T]) Fetch(ctx context.Context) (T, error) {
	return f.FetchUnauthenticated(ctx)
}

func (f *Fallback[T]) FetchUnauthenticated(ctx context.Context) (T, error) {
	var zero T
	target, err := JoinURL(f.cfg.BaseURL, f.cfg.Path)
	if err != nil {
		return zero, err
	}
	body, _, err := getOnce(ctx, f.client, target, "", f.cfg.Timeout)
	if err != nil {
		return zero, err
	}
	return f.decode(body)
}
