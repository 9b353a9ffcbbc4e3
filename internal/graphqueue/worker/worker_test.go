package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphqueue/internal/db"
	"graphqueue/internal/db/repositories"
	"graphqueue/internal/graphqueue/materializer"
	"graphqueue/internal/graphqueue/upstream"
	"graphqueue/pkg/models"
)

func setupTestDB(t *testing.T) *repositories.Repositories {
	t.Helper()
	tempFile := filepath.Join(t.TempDir(), "test.db")
	testDB, err := db.New(tempFile)
	require.NoError(t, err)
	require.NoError(t, testDB.Migrate())
	return repositories.New(testDB)
}

func promptUpdateWithUpstreamID(upstreamID string) repositories.PromptUpdate {
	return repositories.PromptUpdate{UpstreamPromptID: &upstreamID}
}

func repositoryUpdateNoop() repositories.PromptUpdate {
	return repositories.PromptUpdate{}
}

func enqueueOnePrompt(t *testing.T, repos *repositories.Repositories) (int64, int64) {
	t.Helper()
	specs := []materializer.Spec{{PromptJSON: json.RawMessage(`{"1":{}}`)}}
	jobID, err := repos.Jobs.CreateJob("wf", nil, "/in", nil, specs, 0, false)
	require.NoError(t, err)
	prompts, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	return jobID, prompts[0].ID
}

func TestClassifyUpstreamError_MapsSentinels(t *testing.T) {
	cases := []struct {
		err      error
		expected string
	}{
		{upstream.ErrValidation, "validation_error"},
		{upstream.ErrUnreachable, "unreachable"},
		{upstream.ErrServerError, "error"},
		{upstream.ErrUpstream, "error"},
		{errors.New("boom"), "exception"},
	}
	for _, c := range cases {
		status, detail := classifyUpstreamError(c.err)
		assert.Equal(t, c.expected, status)
		assert.NotEmpty(t, detail)
	}
}

func TestProcessPrompt_SucceedsAndRecordsOutputs(t *testing.T) {
	repos := setupTestDB(t)
	jobID, promptID := enqueueOnePrompt(t, repos)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/prompt":
			json.NewEncoder(w).Encode(map[string]string{"prompt_id": "u-1"})
		case r.URL.Path == "/history/u-1":
			entry := upstream.HistoryEntry{
				Status: upstream.HistoryStatus{Completed: true, StatusStr: "success"},
				Outputs: map[string]json.RawMessage{
					"9": json.RawMessage(`{"images":[{"filename":"out.png","subfolder":""}]}`),
				},
			}
			json.NewEncoder(w).Encode(map[string]upstream.HistoryEntry{"u-1": entry})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	w := New(repos, upstream.NewClient(srv.URL), nil, t.TempDir())

	prompts, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	w.processPrompt(context.Background(), prompts[0])

	updated, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, models.PromptSucceeded, updated[0].Status)
	assert.Equal(t, []string{"out.png"}, updated[0].OutputPaths)
	_ = promptID
}

func TestProcessPrompt_SkipsCanceledJob(t *testing.T) {
	repos := setupTestDB(t)
	jobID, _ := enqueueOnePrompt(t, repos)
	_, err := repos.CancelJob(jobID)
	require.NoError(t, err)

	// cancel_requested cancels only pending prompts; put one back to pending to exercise the check.
	prompts, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	require.NoError(t, repos.UpdatePromptStatus(prompts[0].ID, models.PromptPending, repositories.PromptUpdate{}))

	w := New(repos, upstream.NewClient("http://127.0.0.1:1"), nil, t.TempDir())
	w.processPrompt(context.Background(), prompts[0])

	updated, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, models.PromptCanceled, updated[0].Status)
}

func TestProcessPrompt_MarksFailedOnSubmitError(t *testing.T) {
	repos := setupTestDB(t)
	jobID, _ := enqueueOnePrompt(t, repos)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "bad graph"})
	}))
	defer srv.Close()

	w := New(repos, upstream.NewClient(srv.URL), nil, t.TempDir())
	prompts, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	w.processPrompt(context.Background(), prompts[0])

	updated, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, models.PromptFailed, updated[0].Status)
	require.NotNil(t, updated[0].ExitStatus)
	assert.Equal(t, "validation_error", *updated[0].ExitStatus)
}
