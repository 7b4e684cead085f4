package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/david/grant-desk/internal/config"
	"github.com/david/grant-desk/internal/retrieval"
)

// TokenStore keeps the upstream bearer token in a JSON file. It implements
// retrieval.Credentials; an empty token means none is stored.
type TokenStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	token  string
}

type tokenFile struct {
	Token     string    `json:"token"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

func (s *TokenStore) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return "", err
	}
	return s.token, nil
}

func (s *TokenStore) load() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse token file %s: %w", s.path, err)
	}
	s.token = strings.TrimSpace(f.Token)
	s.loaded = true
	return nil
}

// Set replaces the stored token. Use Clear to remove it.
func (s *TokenStore) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := json.MarshalIndent(tokenFile{Token: token, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	s.token, s.loaded = token, true
	return nil
}

func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	s.token, s.loaded = "", true
	return nil
}

// StaticToken is a token fixed by configuration.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(t)), nil
}

// UpstreamCredentials returns the static token when backend.token is set and
// the token file otherwise. The store is nil in the static case; the token
// can then only be changed in configuration.
func UpstreamCredentials(cfg config.Backend) (retrieval.Credentials, *TokenStore) {
	if strings.TrimSpace(cfg.Token) != "" {
		return StaticToken(cfg.Token), nil
	}
	store := NewTokenStore(cfg.TokenFile)
	return store, store
}
