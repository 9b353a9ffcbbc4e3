package workflows

import (
	"encoding/json"
	"fmt"

	"graphqueue/internal/graphqueue/errs"
)

// InputType constrains the kind of file a workflow expects, if any.
type InputType string

const (
	InputImage InputType = "image"
	InputVideo InputType = "video"
	InputNone  InputType = "none"
)

// ParamType is the declared coercion type of a definition parameter.
type ParamType string

const (
	ParamText  ParamType = "text"
	ParamBool  ParamType = "bool"
	ParamInt   ParamType = "int"
	ParamFloat ParamType = "float"
)

// FileBinding names a well-known slot (load_image, seed, output_prefix, ...)
// and the template node fields it writes.
type FileBinding struct {
	Nodes  []string `json:"nodes" yaml:"nodes"`
	Field  string   `json:"field,omitempty" yaml:"field,omitempty"`
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// ParameterDef is one user-facing knob declared by a WorkflowDefinition.
type ParameterDef struct {
	Label   string      `json:"label,omitempty" yaml:"label,omitempty"`
	Type    ParamType   `json:"type" yaml:"type"`
	Default interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Min     *float64    `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64    `json:"max,omitempty" yaml:"max,omitempty"`
	Nodes   []string    `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Field   string      `json:"field,omitempty" yaml:"field,omitempty"`
	Fields  []string    `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// SwitchState is a node field write applied unconditionally at materialization.
type SwitchState struct {
	NodeID string      `json:"node_id" yaml:"node_id"`
	Field  string      `json:"field" yaml:"field"`
	Value  interface{} `json:"value" yaml:"value"`
}

// Definition is a loaded, validated workflow definition: its template graph
// plus the bindings, parameters and switch states the materializer applies.
type Definition struct {
	Name            string                  `json:"name" yaml:"name"`
	DisplayName     string                  `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Group           string                  `json:"group,omitempty" yaml:"group,omitempty"`
	Category        string                  `json:"category,omitempty" yaml:"category,omitempty"`
	Description     string                  `json:"description,omitempty" yaml:"description,omitempty"`
	InputType       InputType               `json:"input_type" yaml:"input_type"`
	InputExtensions []string                `json:"input_extensions" yaml:"input_extensions"`
	Template        json.RawMessage         `json:"-" yaml:"-"`
	TemplateFile    string                  `json:"template_file,omitempty" yaml:"template_file,omitempty"`
	FileBindings    map[string]FileBinding  `json:"file_bindings,omitempty" yaml:"file_bindings,omitempty"`
	Parameters      map[string]ParameterDef `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	SwitchStates    []SwitchState           `json:"switch_states,omitempty" yaml:"switch_states,omitempty"`
	MoveProcessed   bool                    `json:"move_processed,omitempty" yaml:"move_processed,omitempty"`

	// SourceFile is the definition file this was loaded from, used only for
	// error messages; it is not part of the definition's identity.
	SourceFile string `json:"-" yaml:"-"`
}

// ValidationIssue is a structured validation error, naming the offending
// file and field path.
type ValidationIssue struct {
	File    string `json:"file,omitempty"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v ValidationIssue) Error() string {
	if v.File != "" {
		return fmt.Sprintf("%s: %s: %s", v.File, v.Path, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// ValidationResult aggregates every issue found while loading one file.
type ValidationResult struct {
	Errors []ValidationIssue `json:"errors"`
}

func (r ValidationResult) Error() string {
	if len(r.Errors) == 0 {
		return "no validation errors"
	}
	return r.Errors[0].Error()
}

// ErrValidation wraps any failed load/validate pass.
var ErrValidation = errs.ErrValidation

// DefinitionError is a load-time structural violation, fatal to startup.
// It is an alias of errs.DefinitionError: the workflows package raises it,
// but the HTTP adapter classifies it through the one shared taxonomy.
type DefinitionError = errs.DefinitionError
