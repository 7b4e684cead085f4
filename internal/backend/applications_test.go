package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/applications"
	"github.com/david/grant-desk/internal/models"
)

// fakeUpstream keeps one application and answers with its own owner id, the
// way the hosted API does.
type fakeUpstream struct {
	mu      sync.Mutex
	status  models.ApplicationStatus
	answers []map[string]any
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch r.Method + " " + r.URL.Path {
	case "POST /api/grant-applications":
		f.status = models.StatusDraft
		fmt.Fprint(w, `{"id":21,"grant_id":"g-1","user_id":"upstream-42","status":"draft","priority":"medium"}`)
	case "GET /api/grant-applications/21":
		fmt.Fprintf(w, `{"id":21,"grant_id":"g-1","user_id":"upstream-42","status":%q,"priority":"medium"}`, f.status)
	case "GET /api/grant-applications/21/answers":
		_ = json.NewEncoder(w).Encode(map[string]any{"answers": f.answers})
	case "GET /api/grant-applications/21/comments":
		fmt.Fprint(w, `{"comments":[]}`)
	case "POST /api/grant-applications/21/answers":
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		in["id"] = len(f.answers) + 1
		in["application_id"] = 21
		f.answers = append(f.answers, in)
		_ = json.NewEncoder(w).Encode(in)
	case "POST /api/grant-applications/21/comments":
		fmt.Fprint(w, `{"id":1,"application_id":21,"user_id":"upstream-42","comment":"ok"}`)
	case "PATCH /api/grant-applications/21":
		var in struct {
			Status models.ApplicationStatus `json:"status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Status != "" {
			f.status = in.Status
		}
		w.WriteHeader(http.StatusNoContent)
	case "POST /api/grant-applications/21/submit":
		if f.status == models.StatusSubmitted {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.status = models.StatusSubmitted
		w.WriteHeader(http.StatusNoContent)
	case "GET /api/grant-applications/stats":
		fmt.Fprintf(w, `{"total":1,"by_status":{%q:1},"by_priority":{"medium":1}}`, f.status)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestApplicationsServiceOverUpstream(t *testing.T) {
	up := &fakeUpstream{}
	c := newClient(t, up.ServeHTTP, "tok")
	svc := applications.NewService(c, nil, zap.NewNop())
	ctx := context.Background()

	app, err := svc.Start(ctx, "local-user", "g-1", "Doc", "")
	require.NoError(t, err)
	assert.Equal(t, "local-user", app.UserID)

	got, err := svc.Get(ctx, "local-user", app.ID)
	require.NoError(t, err)
	assert.Equal(t, "local-user", got.UserID)

	_, err = svc.SaveAnswer(ctx, "local-user", app.ID, "project_overview", "We tour regional towns.")
	require.NoError(t, err)
	_, err = svc.AddComment(ctx, "local-user", app.ID, "ok")
	require.NoError(t, err)

	submitted, err := svc.Submit(ctx, "local-user", app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, submitted.Status)

	_, err = svc.Submit(ctx, "local-user", app.ID)
	assert.ErrorIs(t, err, applications.ErrAlreadySubmitted)

	stats, err := svc.Stats(ctx, "local-user")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.StatusSubmitted])
}

func TestUpdateStatus_ConflictIsStale(t *testing.T) {
	up := &fakeUpstream{status: models.StatusSubmitted}
	c := newClient(t, up.ServeHTTP, "tok")

	err := c.UpdateStatus(context.Background(), 21, models.StatusInProgress, models.StatusSubmitted, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}
