package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-desk/internal/assistant"
	"github.com/david/grant-desk/internal/models"
	"github.com/david/grant-desk/internal/retrieval"
)

// execute runs grantctl with a config file that keeps state in a temp dir.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "grantdesk.yaml")
	cfg := "backend:\n  token_file: " + filepath.Join(dir, "token.json") + "\nlog_level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	t.Setenv("GRANTDESK_BACKEND_TOKEN", "")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", cfgPath))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRenderGrants(t *testing.T) {
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	res := retrieval.Result[[]models.Grant]{
		Data: []models.Grant{
			{ID: "doc-1", Title: "Documentary Development", Category: "Documentary", Amount: 1250000, Deadline: "2026-10-22", Status: models.GrantOpen},
		},
		Source:      retrieval.TierFallback,
		Reliability: retrieval.ReliabilityFallback,
		Errors:      []string{"primary: HTTP 503"},
	}
	var buf bytes.Buffer
	renderGrants(&buf, res, now)
	out := buf.String()

	assert.Contains(t, out, "Documentary Development")
	assert.Contains(t, out, "$1,250,000")
	assert.Contains(t, out, string(models.UrgencyUrgent))
	assert.Contains(t, out, "70%")
	assert.Contains(t, out, "fallback endpoint")
	assert.Contains(t, out, "primary: HTTP 503")
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "-"},
		{999, "$999"},
		{1000, "$1,000"},
		{50000, "$50,000"},
		{1234567, "$1,234,567"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatAmount(tt.in))
	}
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", maskToken("abcd"))
	assert.Equal(t, "abcd****mnop", maskToken("abcdefghmnop"))
}

func TestAnalyzeFile(t *testing.T) {
	dir := t.TempDir()
	analyzer := assistant.NewAnalyzer(nil, assistant.AnalyzerOptions{}, nil)

	draft := filepath.Join(dir, "overview.txt")
	require.NoError(t, os.WriteFile(draft, []byte("We will reach 40% more students over 12 months with a $5000 budget."), 0o600))
	report, err := analyzeFile(context.Background(), analyzer, draft, assistant.GrantContext{Name: "Arts Projects"})
	require.NoError(t, err)
	assert.Equal(t, "overview.txt", report.File)
	assert.Equal(t, assistant.DefaultScore, report.Analysis.Clarity)
	assert.True(t, report.Quality.HasBudget)

	var buf bytes.Buffer
	renderAnalysis(&buf, report)
	assert.Contains(t, buf.String(), "Unable to analyze content at this time")

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = analyzeFile(context.Background(), analyzer, empty, assistant.GrantContext{})
	assert.Error(t, err)

	broken := filepath.Join(dir, "guidelines.pdf")
	require.NoError(t, os.WriteFile(broken, []byte("not a pdf"), 0o600))
	_, err = analyzeFile(context.Background(), analyzer, broken, assistant.GrantContext{})
	assert.Error(t, err)
}

func TestTokenCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "grantdesk.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("backend:\n  token_file: "+filepath.Join(dir, "t.json")+"\n"), 0o600))
	t.Setenv("GRANTDESK_BACKEND_TOKEN", "")

	run := func(args ...string) string {
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs(append(args, "--config", cfgPath))
		require.NoError(t, root.ExecuteContext(context.Background()))
		return out.String()
	}

	assert.Contains(t, run("token"), "none stored")
	assert.Contains(t, run("token", "set", "secret-token-1234"), "token saved")
	assert.Contains(t, run("token"), "secr*********1234")
	assert.Contains(t, run("token", "clear"), "token cleared")
	assert.Contains(t, run("token"), "none stored")
}

func TestSourcesCommands(t *testing.T) {
	out, err := execute(t, "sources", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "screen-australia")
	assert.Contains(t, out, "screen-australia-live")

	out, err = execute(t, "sources", "sync", "vicscreen")
	require.NoError(t, err)
	assert.Contains(t, out, "vicscreen")

	_, err = execute(t, "sources", "sync", "screen-australia-live")
	assert.Error(t, err, "disabled sources fail to sync")
}

func TestGrantsRequiresBackend(t *testing.T) {
	t.Setenv("GRANTDESK_BACKEND_BASE_URL", "")
	_, err := execute(t, "grants", "list")
	assert.Error(t, err)
}

func TestToggleRemote(t *testing.T) {
	var got struct {
		path, secret string
		body         map[string]bool
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.secret = r.Header.Get("X-Admin-Secret")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		if r.URL.Path == "/api/v1/admin/sources/missing/toggle" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"unknown source"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, toggleRemote(context.Background(), srv.URL+"/", "s3cret", "vicscreen", false))
	assert.Equal(t, "/api/v1/admin/sources/vicscreen/toggle", got.path)
	assert.Equal(t, "s3cret", got.secret)
	assert.Equal(t, map[string]bool{"enabled": false}, got.body)

	err := toggleRemote(context.Background(), srv.URL, "s3cret", "missing", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")

	assert.Error(t, toggleRemote(context.Background(), srv.URL, "", "vicscreen", true))
}
