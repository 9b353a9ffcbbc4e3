// Package jobsvc is the orchestration layer the HTTP adapter calls into: it
// loads workflow definitions once at startup, and turns an enqueue request
// into staged inputs, a resolved parameter set, materialized prompt specs,
// and finally a durable Job + Prompt rows.
package jobsvc

import (
	"fmt"
	"path/filepath"
	"strings"

	"graphqueue/internal/db/repositories"
	"graphqueue/internal/graphqueue/materializer"
	"graphqueue/internal/graphqueue/params"
	"graphqueue/internal/graphqueue/presets"
	"graphqueue/internal/graphqueue/stage"
	"graphqueue/internal/workflows"
	"graphqueue/pkg/models"
)

// PromptMode mirrors the adapter-facing enum; per-image auto-captioning
// is not implemented, so PerImageAuto is accepted and treated the same
// as PerImageManual provided per_file_params is non-empty.
type PromptMode string

const (
	PromptModeManual         PromptMode = "manual"
	PromptModePerImageManual PromptMode = "per-image manual"
	PromptModePerImageAuto   PromptMode = "per-image auto"
)

// EnqueueRequest is the adapter-facing submission shape.
type EnqueueRequest struct {
	WorkflowName     string
	JobName          *string
	InputDir         string
	InputFile        string // set for a single-file job; takes precedence over InputDir listing
	Params           map[string]interface{}
	Priority         int
	ResolutionPreset string
	FlipOrientation  bool
	MoveProcessed    *bool
	SplitByInput     bool
	PerFileParams    map[string]map[string]interface{}
	PromptMode       PromptMode
}

// Service ties the definition loader, parameter resolver, materializer,
// input stager and queue store together behind the enqueue operation.
type Service struct {
	repos             *repositories.Repositories
	uploadRoot        string
	upstreamInputRoot string
	definitions       map[string]*workflows.Definition
}

func New(repos *repositories.Repositories, uploadRoot, upstreamInputRoot string) *Service {
	return &Service{
		repos:             repos,
		uploadRoot:        uploadRoot,
		upstreamInputRoot: upstreamInputRoot,
		definitions:       make(map[string]*workflows.Definition),
	}
}

// LoadDefinitions (re)loads every workflow definition from defsDir,
// replacing the in-memory set atomically on success.
func (s *Service) LoadDefinitions(defsDir string) error {
	loader := workflows.NewLoader(defsDir)
	defs, err := loader.LoadAll()
	if err != nil {
		return err
	}
	byName := make(map[string]*workflows.Definition, len(defs))
	for _, def := range defs {
		d := def
		byName[d.Name] = d
	}
	s.definitions = byName
	return nil
}

// Definitions returns every loaded workflow definition.
func (s *Service) Definitions() []*workflows.Definition {
	out := make([]*workflows.Definition, 0, len(s.definitions))
	for _, def := range s.definitions {
		out = append(out, def)
	}
	return out
}

// Definition looks up one workflow definition by name.
func (s *Service) Definition(name string) (*workflows.Definition, bool) {
	def, ok := s.definitions[name]
	return def, ok
}

// Resolutions returns the fixed resolution preset table.
func (s *Service) Resolutions() []models.ResolutionPreset {
	return presets.Resolutions
}

// Enqueue resolves parameters, stages inputs, materializes prompt specs and
// persists the result as one job — or, when SplitByInput is set, one job
// per input file. Returns the created job ids in submission order.
func (s *Service) Enqueue(req EnqueueRequest) ([]int64, error) {
	def, ok := s.Definition(req.WorkflowName)
	if !ok {
		return nil, &params.ValidationError{Param: "workflow_name", Message: fmt.Sprintf("unknown workflow %q", req.WorkflowName)}
	}

	if _, err := params.Resolve(def, req.Params); err != nil {
		return nil, err
	}

	mode := req.PromptMode
	if mode == "" {
		mode = PromptModeManual
	}
	if (mode == PromptModePerImageManual || mode == PromptModePerImageAuto) && len(req.PerFileParams) == 0 {
		return nil, &params.ValidationError{Param: "per_file_params", Message: "required when prompt_mode is per-image"}
	}
	req.PromptMode = mode

	sources, err := s.collectSources(def, req)
	if err != nil {
		return nil, err
	}

	var matOpts materializer.Options
	matOpts.UpstreamInputRoot = s.upstreamInputRoot
	matOpts.FlipOrientation = req.FlipOrientation
	if req.ResolutionPreset != "" {
		preset, ok := presets.Lookup(req.ResolutionPreset)
		if !ok {
			return nil, &params.ValidationError{Param: "resolution_preset", Message: fmt.Sprintf("unknown resolution preset %q", req.ResolutionPreset)}
		}
		matOpts.Resolution = &materializer.Resolution{Width: preset.Width, Height: preset.Height}
	}
	if len(req.PerFileParams) > 0 && (req.PromptMode == PromptModePerImageManual || req.PromptMode == PromptModePerImageAuto || req.PromptMode == "") {
		matOpts.PerFileOverrides = req.PerFileParams
	}

	moveProcessed := def.MoveProcessed
	if req.MoveProcessed != nil {
		moveProcessed = *req.MoveProcessed
	}

	touchDir := req.InputDir
	if touchDir == "" && req.InputFile != "" {
		touchDir = filepath.Dir(req.InputFile)
	}

	if !req.SplitByInput || len(sources) <= 1 {
		jobID, err := s.createOne(def, req, sources, matOpts, moveProcessed, req.JobName)
		if err != nil {
			return nil, err
		}
		if touchDir != "" {
			_ = s.repos.History.Touch(touchDir)
		}
		return []int64{jobID}, nil
	}

	var jobIDs []int64
	for _, src := range sources {
		jobName := deriveSplitJobName(req.JobName, src)
		jobID, err := s.createOne(def, req, []string{src}, matOpts, moveProcessed, &jobName)
		if err != nil {
			return jobIDs, err
		}
		jobIDs = append(jobIDs, jobID)
		if touchDir != "" {
			_ = s.repos.History.Touch(touchDir)
		}
	}
	return jobIDs, nil
}

func (s *Service) createOne(def *workflows.Definition, req EnqueueRequest, sources []string, matOpts materializer.Options, moveProcessed bool, jobName *string) (int64, error) {
	var inputsForBuild []string
	var originalOf map[string]string

	if def.InputType != workflows.InputNone && len(sources) > 0 {
		staged, err := stage.Stage(s.uploadRoot, sources)
		if err != nil {
			return 0, fmt.Errorf("staging inputs: %w", err)
		}
		inputsForBuild = staged.StagedPaths
		originalOf = staged.OriginalOf
	}

	resolved, err := params.Resolve(def, req.Params)
	if err != nil {
		return 0, err
	}

	specs, err := materializer.Build(def, inputsForBuild, resolved, matOpts)
	if err != nil {
		return 0, fmt.Errorf("materializing prompts: %w", err)
	}
	for i := range specs {
		if original, ok := originalOf[specs[i].InputFile]; ok {
			specs[i].InputFile = original
		}
	}

	inputDir := req.InputDir
	if inputDir == "" && len(sources) > 0 {
		inputDir = filepath.Dir(sources[0])
	}

	return s.repos.Jobs.CreateJob(def.Name, jobName, inputDir, resolved, specs, req.Priority, moveProcessed)
}

// collectSources resolves the flat list of absolute input paths a request
// refers to: a single file, or every matching file under InputDir.
func (s *Service) collectSources(def *workflows.Definition, req EnqueueRequest) ([]string, error) {
	if def.InputType == workflows.InputNone {
		return nil, nil
	}
	if req.InputFile != "" {
		return []string{req.InputFile}, nil
	}
	if req.InputDir == "" {
		return nil, &params.ValidationError{Param: "input_dir", Message: fmt.Sprintf("workflow %q requires an input file or directory", req.WorkflowName)}
	}
	return stage.ListInputs(req.InputDir, def.InputExtensions)
}

// deriveSplitJobName builds the "{base} | {stem}" name for one job of a
// split-by-input submission, falling back to just the stem when the
// caller supplied no base job name.
func deriveSplitJobName(base *string, source string) string {
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if base == nil || *base == "" {
		return stem
	}
	return fmt.Sprintf("%s | %s", *base, stem)
}
