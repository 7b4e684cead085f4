package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBodyBytes = 10 * 1024 * 1024

// Decoder turns a 2xx response body into the payload type.
type Decoder[T any] func(body []byte) (T, error)

// Credentials supplies the bearer token for authenticated calls. An empty
// token with a nil error means "no credential".
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// CredentialsFunc adapts a function to Credentials.
type CredentialsFunc func(ctx context.Context) (string, error)

func (f CredentialsFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// JoinURL joins a base URL and a path, tolerating slashes on either side.
func JoinURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q: scheme and host are required", base)
	}
	return u.String() + "/" + strings.TrimLeft(path, "/"), nil
}

// getOnce performs a single GET bounded by timeout. The bool reports whether
// the failure is transient.
func getOnce(ctx context.Context, client *http.Client, target, token string, timeout time.Duration) ([]byte, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		retry, cerr := classifyTransportError(ctx, err, timeout)
		return nil, retry, cerr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		retry, cerr := classifyTransportError(ctx, err, timeout)
		return nil, retry, cerr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, retryableStatus(resp.StatusCode), &HTTPError{StatusCode: resp.StatusCode}
	}
	return body, false, nil
}

func classifyTransportError(parent context.Context, err error, timeout time.Duration) (bool, error) {
	if parent.Err() != nil {
		return false, parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, fmt.Errorf("request timed out after %s", timeout)
	}
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return true, fmt.Errorf("request timed out after %s", timeout)
	}
	return true, fmt.Errorf("request failed: %w", err)
}
