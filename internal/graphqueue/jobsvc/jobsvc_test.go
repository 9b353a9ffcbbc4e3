package jobsvc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphqueue/internal/db"
	"graphqueue/internal/db/repositories"
	"graphqueue/internal/graphqueue/params"
	"graphqueue/internal/workflows"
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

func noInputDefinition() *workflows.Definition {
	return &workflows.Definition{
		Name:      "no-input",
		InputType: workflows.InputNone,
		Template:  json.RawMessage(`{"1": {"class_type": "KSampler", "inputs": {"seed": 0}}}`),
		Parameters: map[string]workflows.ParameterDef{
			"seed": {Type: workflows.ParamInt, Default: 0, Nodes: []string{"1"}, Field: "seed"},
		},
	}
}

func imageDefinition() *workflows.Definition {
	return &workflows.Definition{
		Name:            "upscale",
		InputType:       workflows.InputImage,
		InputExtensions: []string{".png"},
		Template: json.RawMessage(`{
			"1": {"class_type": "LoadImage", "inputs": {}},
			"2": {"class_type": "SaveImage", "inputs": {}}
		}`),
		FileBindings: map[string]workflows.FileBinding{
			"load_image": {Nodes: []string{"1"}, Field: "image"},
		},
	}
}

func newServiceWithDef(t *testing.T, def *workflows.Definition) (*Service, *repositories.Repositories) {
	t.Helper()
	repos := setupTestDB(t)
	uploadRoot := t.TempDir()
	svc := New(repos, uploadRoot, "/upstream/inputs")
	svc.definitions = map[string]*workflows.Definition{def.Name: def}
	return svc, repos
}

func TestEnqueue_UnknownWorkflowIsError(t *testing.T) {
	svc, _ := newServiceWithDef(t, noInputDefinition())
	_, err := svc.Enqueue(EnqueueRequest{WorkflowName: "nope"})
	require.Error(t, err)
}

func TestEnqueue_NoInputWorkflowCreatesOneJob(t *testing.T) {
	svc, repos := newServiceWithDef(t, noInputDefinition())

	ids, err := svc.Enqueue(EnqueueRequest{WorkflowName: "no-input"})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	job, err := repos.Jobs.GetJob(ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)

	prompts, err := repos.GetPromptsForJob(ids[0])
	require.NoError(t, err)
	assert.Len(t, prompts, 1)
}

func TestEnqueue_PersistsResolvedParamsNotRawInput(t *testing.T) {
	svc, repos := newServiceWithDef(t, noInputDefinition())

	ids, err := svc.Enqueue(EnqueueRequest{WorkflowName: "no-input", Params: map[string]interface{}{"seed": "7"}})
	require.NoError(t, err)

	job, err := repos.Jobs.GetJob(ids[0])
	require.NoError(t, err)

	var params map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(job.ParamsJSON), &params))
	assert.Equal(t, float64(7), params["seed"])
}

func TestEnqueue_UnknownParamIsValidationError(t *testing.T) {
	svc, _ := newServiceWithDef(t, noInputDefinition())
	_, err := svc.Enqueue(EnqueueRequest{WorkflowName: "no-input", Params: map[string]interface{}{"bogus": 1}})
	require.Error(t, err)
}

func TestEnqueue_PerImagePromptModeRequiresPerFileParams(t *testing.T) {
	svc, _ := newServiceWithDef(t, noInputDefinition())

	_, err := svc.Enqueue(EnqueueRequest{WorkflowName: "no-input", PromptMode: PromptModePerImageManual})
	require.Error(t, err)
	var verr *params.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "per_file_params", verr.Param)
}

func TestEnqueue_PerImagePromptModeSucceedsWithPerFileParams(t *testing.T) {
	svc, _ := newServiceWithDef(t, noInputDefinition())

	ids, err := svc.Enqueue(EnqueueRequest{
		WorkflowName: "no-input",
		PromptMode:   PromptModePerImageManual,
		PerFileParams: map[string]map[string]interface{}{
			"a.png": {"seed": 1},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestEnqueue_SplitByInputCreatesOneJobPerFile(t *testing.T) {
	def := imageDefinition()
	svc, repos := newServiceWithDef(t, def)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.png"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.png"), []byte("b"), 0o644))

	base := "batch"
	ids, err := svc.Enqueue(EnqueueRequest{
		WorkflowName: "upscale",
		InputDir:     srcDir,
		SplitByInput: true,
		JobName:      &base,
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	for _, id := range ids {
		job, err := repos.Jobs.GetJob(id)
		require.NoError(t, err)
		require.NotNil(t, job.JobName)
		assert.Contains(t, *job.JobName, " | ")
	}
}

func TestEnqueue_WithoutSplitCreatesSingleMultiInputJob(t *testing.T) {
	def := imageDefinition()
	svc, repos := newServiceWithDef(t, def)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.png"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.png"), []byte("b"), 0o644))

	ids, err := svc.Enqueue(EnqueueRequest{
		WorkflowName: "upscale",
		InputDir:     srcDir,
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	prompts, err := repos.GetPromptsForJob(ids[0])
	require.NoError(t, err)
	assert.Len(t, prompts, 2)
}

func TestEnqueue_TouchesInputDirHistory(t *testing.T) {
	def := imageDefinition()
	svc, repos := newServiceWithDef(t, def)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.png"), []byte("a"), 0o644))

	_, err := svc.Enqueue(EnqueueRequest{WorkflowName: "upscale", InputDir: srcDir})
	require.NoError(t, err)

	history, err := repos.History.List(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, srcDir, history[0].Path)
}

func TestEnqueue_UnknownResolutionPresetIsError(t *testing.T) {
	def := imageDefinition()
	svc, _ := newServiceWithDef(t, def)

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.png"), []byte("a"), 0o644))

	_, err := svc.Enqueue(EnqueueRequest{
		WorkflowName:     "upscale",
		InputDir:         srcDir,
		ResolutionPreset: "not-a-preset",
	})
	require.Error(t, err)
}

func TestDeriveSplitJobName_FallsBackToStemWithoutBase(t *testing.T) {
	name := deriveSplitJobName(nil, "/in/photo.png")
	assert.Equal(t, "photo", name)
}

func TestDeriveSplitJobName_PrependsBase(t *testing.T) {
	base := "batch-1"
	name := deriveSplitJobName(&base, "/in/photo.png")
	assert.Equal(t, "batch-1 | photo", name)
}
