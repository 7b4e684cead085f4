package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts    = 3
	DefaultRetryDelay     = time.Second
	DefaultPrimaryTimeout = 10 * time.Second
)

type PrimaryConfig struct {
	BaseURL     string
	Path        string
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number before the next try.
	RetryDelay time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Primary fetches from the authenticated backend with bounded retries.
type Primary[T any] struct {
	cfg    PrimaryConfig
	creds  Credentials
	decode Decoder[T]
	client *http.Client
	logger *zap.Logger
}

func NewPrimary[T any](cfg PrimaryConfig, creds Credentials, decode Decoder[T], logger *zap.Logger) *Primary[T] {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPrimaryTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Primary[T]{cfg: cfg, creds: creds, decode: decode, client: client, logger: logger}
}

// Fetch resolves the current credential and calls FetchAuthenticated.
func (p *Primary[T]) Fetch(ctx context.Context) (T, error) {
	var token string
	if p.creds != nil {
		t, err := p.creds.Token(ctx)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("%w: %v", ErrNoCredential, err)
		}
		token = t
	}
	return p.FetchAuthenticated(ctx, token)
}

// FetchAuthenticated retries transient failures with linear backoff.
// A missing token fails without touching the network.
func (p *Primary[T]) FetchAuthenticated(ctx context.Context, token string) (T, error) {
	var zero T
	if strings.TrimSpace(token) == "" {
		return zero, ErrNoCredential
	}

	target, err := JoinURL(p.cfg.BaseURL, p.cfg.Path)
	if err != nil {
		return zero, err
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		body, retryable, err := getOnce(ctx, p.client, target, token, p.cfg.Timeout)
		if err == nil {
			value, decodeErr := p.decode(body)
			if decodeErr != nil {
				return zero, decodeErr
			}
			return value, nil
		}

		lastErr = err
		if !retryable {
			return zero, err
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}

		delay := p.cfg.RetryDelay * time.Duration(attempt)
		p.logger.Warn("primary fetch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("after %d attempts: %w", p.cfg.MaxAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
