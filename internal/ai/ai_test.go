package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completerFunc func(ctx context.Context, req ChatRequest) (string, error)

func (f completerFunc) Complete(ctx context.Context, req ChatRequest) (string, error) {
	return f(ctx, req)
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"SCORES:\n- Clarity: 80"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1/", "sk-test", srv.Client())
	out, err := c.Complete(context.Background(), ChatRequest{
		Model:       "gpt-4",
		Messages:    []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		MaxTokens:   100,
		Temperature: 0.3,
		TopP:        1,
		Schema:      &Schema{Name: "analysis", Definition: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Clarity: 80")

	assert.Equal(t, "gpt-4", got.Model)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, 100, got.MaxTokens)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_schema", got.ResponseFormat.Type)
	assert.Equal(t, "analysis", got.ResponseFormat.JSONSchema.Name)
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"empty choices", 200, `{"choices":[]}`, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrEmptyResponse) }},
		{"server error", 500, `oops`, func(t *testing.T, err error) {
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, 500, se.StatusCode)
		}},
		{"bad json", 200, `<html>`, func(t *testing.T, err error) { assert.Error(t, err) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenAIClient(srv.URL, "k", srv.Client()).Complete(context.Background(), ChatRequest{})
			tt.check(t, err)
		})
	}
}

func TestOpenAIClient_NoKey(t *testing.T) {
	_, err := NewOpenAIClient("", "", nil).Complete(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestOllamaClient_Complete(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":"{\"ok\":true}","done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "", "qwen2.5:14b")
	out, err := c.Complete(context.Background(), ChatRequest{
		Model:    "gpt-4",
		Messages: []Message{{Role: RoleSystem, Content: "be terse"}, {Role: RoleUser, Content: "hello"}},
		Schema:   &Schema{Name: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "qwen2.5:14b", got.Model)
	assert.Equal(t, "be terse", got.System)
	assert.Equal(t, "hello", got.Prompt)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
}

func TestOllamaClient_GenerateEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	vec, err := NewOllamaClient(srv.URL, "", "").GenerateEmbedding(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{`Sure! {"a":{"b":2}} hope that helps {"c":3}`, `{"a":{"b":2}}`, true},
		{`{"text":"brace } inside"}`, `{"text":"brace } inside"}`, true},
		{`{"text":"quote \" and }"}`, `{"text":"quote \" and }"}`, true},
		{`no json here`, "", false},
		{`{"unterminated": 1`, "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractJSONObject(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDecodeJSON_StripsFences(t *testing.T) {
	var v struct {
		Score int `json:"score"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"score\": 81}\n```", &v))
	assert.Equal(t, 81, v.Score)

	assert.ErrorIs(t, DecodeJSON("nothing", &v), ErrNoJSONObject)
}

func TestClassifyGrant(t *testing.T) {
	llm := completerFunc(func(_ context.Context, req ChatRequest) (string, error) {
		assert.NotNil(t, req.Schema)
		assert.Contains(t, req.User(), "Doco Fund")
		return `{"category":"documentary","status":"Forthcoming"}`, nil
	})

	res, err := ClassifyGrant(context.Background(), llm, "m", "Doco Fund", "Support for documentaries")
	require.NoError(t, err)
	assert.Equal(t, "Documentary", res.Category)
	assert.Equal(t, "planning", res.Status)
}

func TestClassifyGrant_UnknownCategory(t *testing.T) {
	llm := completerFunc(func(context.Context, ChatRequest) (string, error) {
		return `{"category":"Space Travel","status":"???"}`, nil
	})
	res, err := ClassifyGrant(context.Background(), llm, "m", "t", "s")
	require.NoError(t, err)
	assert.Empty(t, res.Category)
	assert.Equal(t, "open", res.Status)
}

func TestChatRequest_Join(t *testing.T) {
	req := ChatRequest{Messages: []Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "b"},
		{Role: RoleSystem, Content: "c"},
	}}
	assert.Equal(t, "a\n\nc", req.System())
	assert.Equal(t, "b", req.User())
}
