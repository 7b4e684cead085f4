// Package backend talks to the upstream grants API with the caller's bearer token.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/models"
	"github.com/david/grant-desk/internal/retrieval"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 10 * 1024 * 1024
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client wraps the authenticated upstream endpoints other than the grants
// list, which goes through the tiered retrieval coordinator.
type Client struct {
	baseURL string
	timeout time.Duration
	creds   retrieval.Credentials
	http    *http.Client
	logger  *zap.Logger
}

func New(cfg Config, creds retrieval.Credentials, logger *zap.Logger) (*Client, error) {
	if _, err := retrieval.JoinURL(cfg.BaseURL, "/"); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		creds:   creds,
		http:    client,
		logger:  logger,
	}, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.creds == nil {
		return "", retrieval.ErrNoCredential
	}
	tok, err := c.creds.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", retrieval.ErrNoCredential, err)
	}
	if strings.TrimSpace(tok) == "" {
		return "", retrieval.ErrNoCredential
	}
	return tok, nil
}

// do sends one request and decodes a 2xx JSON body into out (when non-nil).
// A 404 wraps models.ErrNotFound as well as the HTTPError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}
	target, err := retrieval.JoinURL(c.baseURL, path)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s %s timed out after %s", method, path, c.timeout)
		}
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &retrieval.HTTPError{StatusCode: resp.StatusCode}
		c.logger.Debug("upstream request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", models.ErrNotFound, httpErr)
		}
		return httpErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", retrieval.ErrUnexpectedShape, err)
	}
	return nil
}
