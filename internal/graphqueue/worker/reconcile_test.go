package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphqueue/internal/graphqueue/upstream"
	"graphqueue/pkg/models"
)

func markRunningWithUpstreamID(t *testing.T, w *Worker, jobID, promptID int64, upstreamID string) {
	t.Helper()
	require.NoError(t, w.repos.UpdatePromptStatus(promptID, models.PromptRunning, promptUpdateWithUpstreamID(upstreamID)))
}

func TestReconcileOne_StartupMarksInterruptedWhenUnknown(t *testing.T) {
	repos := setupTestDB(t)
	jobID, promptID := enqueueOnePrompt(t, repos)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/history/u-1":
			json.NewEncoder(w).Encode(map[string]upstream.HistoryEntry{})
		case "/system_stats":
			w.WriteHeader(http.StatusOK)
		case "/queue":
			json.NewEncoder(w).Encode(map[string]interface{}{"queue_running": [][]interface{}{}, "queue_pending": [][]interface{}{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	w := New(repos, upstream.NewClient(srv.URL), nil, t.TempDir())
	markRunningWithUpstreamID(t, w, jobID, promptID, "u-1")

	prompts, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	w.reconcileOne(context.Background(), prompts[0], true)

	updated, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, models.PromptFailed, updated[0].Status)
	require.NotNil(t, updated[0].ExitStatus)
	assert.Equal(t, "interrupted", *updated[0].ExitStatus)
}

func TestReconcileOne_SteadyStateLeavesUnknownAlone(t *testing.T) {
	repos := setupTestDB(t)
	jobID, promptID := enqueueOnePrompt(t, repos)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/history/u-1":
			json.NewEncoder(w).Encode(map[string]upstream.HistoryEntry{})
		case "/system_stats":
			w.WriteHeader(http.StatusOK)
		case "/queue":
			json.NewEncoder(w).Encode(map[string]interface{}{"queue_running": [][]interface{}{}, "queue_pending": [][]interface{}{}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	w := New(repos, upstream.NewClient(srv.URL), nil, t.TempDir())
	markRunningWithUpstreamID(t, w, jobID, promptID, "u-1")

	prompts, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	w.reconcileOne(context.Background(), prompts[0], false)

	updated, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, models.PromptRunning, updated[0].Status)
}

func TestReconcileOne_CompletesFromHistory(t *testing.T) {
	repos := setupTestDB(t)
	jobID, promptID := enqueueOnePrompt(t, repos)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/history/u-1" {
			entry := upstream.HistoryEntry{Status: upstream.HistoryStatus{Completed: true, StatusStr: "success"}}
			json.NewEncoder(w).Encode(map[string]upstream.HistoryEntry{"u-1": entry})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	w := New(repos, upstream.NewClient(srv.URL), nil, t.TempDir())
	markRunningWithUpstreamID(t, w, jobID, promptID, "u-1")

	prompts, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	w.reconcileOne(context.Background(), prompts[0], true)

	updated, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, models.PromptSucceeded, updated[0].Status)
}
