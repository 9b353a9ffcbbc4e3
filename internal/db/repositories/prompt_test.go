package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphqueue/internal/graphqueue/materializer"
	"graphqueue/pkg/models"
)

func specsWithInput(path string) []materializer.Spec {
	return []materializer.Spec{{InputFile: path, PromptJSON: []byte(`{"1":{}}`)}}
}

func TestNextPendingPrompt_OrdersByPriority(t *testing.T) {
	_, repos := setupTestDB(t)

	_, err := repos.Jobs.CreateJob("a", nil, "/in", nil, sampleSpecs(1), 0, false)
	require.NoError(t, err)
	highID, err := repos.Jobs.CreateJob("b", nil, "/in", nil, sampleSpecs(1), 10, false)
	require.NoError(t, err)

	next, err := repos.NextPendingPrompt()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, highID, next.JobID)
}

func TestNextPendingPrompt_NilWhenPaused(t *testing.T) {
	_, repos := setupTestDB(t)
	_, err := repos.Jobs.CreateJob("a", nil, "/in", nil, sampleSpecs(1), 0, false)
	require.NoError(t, err)

	require.NoError(t, repos.Queue.Pause())

	next, err := repos.NextPendingPrompt()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNextPendingPrompt_SkipsJobsWithCancelRequested(t *testing.T) {
	_, repos := setupTestDB(t)
	jobID, err := repos.Jobs.CreateJob("a", nil, "/in", nil, sampleSpecs(1), 0, false)
	require.NoError(t, err)
	_, err = repos.CancelJob(jobID)
	require.NoError(t, err)

	next, err := repos.NextPendingPrompt()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestUpdatePromptStatus_WritesWhitelistedFields(t *testing.T) {
	_, repos := setupTestDB(t)
	jobID, err := repos.Jobs.CreateJob("a", nil, "/in", nil, sampleSpecs(1), 0, false)
	require.NoError(t, err)
	prompts, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)

	upstreamID := "u-1"
	seed := int64(42)
	err = repos.UpdatePromptStatus(prompts[0].ID, models.PromptRunning, PromptUpdate{
		UpstreamPromptID: &upstreamID,
		SeedUsed:         &seed,
	})
	require.NoError(t, err)

	updated, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, models.PromptRunning, updated[0].Status)
	require.NotNil(t, updated[0].UpstreamPromptID)
	assert.Equal(t, "u-1", *updated[0].UpstreamPromptID)
	require.NotNil(t, updated[0].SeedUsed)
	assert.Equal(t, int64(42), *updated[0].SeedUsed)
}

func TestHasActivePromptsForInput_TrueWhilePending(t *testing.T) {
	_, repos := setupTestDB(t)
	_, err := repos.Jobs.CreateJob("a", nil, "/in", nil, specsWithInput("/in/a.png"), 0, false)
	require.NoError(t, err)

	active, err := repos.HasActivePromptsForInput("/in/a.png", nil)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestHasActivePromptsForInput_FalseOnceTerminal(t *testing.T) {
	_, repos := setupTestDB(t)
	jobID, err := repos.Jobs.CreateJob("a", nil, "/in", nil, specsWithInput("/in/a.png"), 0, false)
	require.NoError(t, err)

	prompts, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	require.NoError(t, repos.UpdatePromptStatus(prompts[0].ID, models.PromptSucceeded, PromptUpdate{}))
	_, err = repos.UpdateJobStatus(jobID)
	require.NoError(t, err)

	active, err := repos.HasActivePromptsForInput("/in/a.png", nil)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestQueueCounts_CountsPendingAndRunning(t *testing.T) {
	_, repos := setupTestDB(t)
	jobID, err := repos.Jobs.CreateJob("a", nil, "/in", nil, sampleSpecs(2), 0, false)
	require.NoError(t, err)
	prompts, err := repos.GetPromptsForJob(jobID)
	require.NoError(t, err)
	require.NoError(t, repos.UpdatePromptStatus(prompts[0].ID, models.PromptRunning, PromptUpdate{}))

	counts, err := repos.QueueCounts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
	assert.Equal(t, 1, counts.Running)
}
