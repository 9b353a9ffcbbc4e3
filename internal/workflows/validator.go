package workflows

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeDefinition maps the generic JSON mapping produced by the loader into
// a typed Definition, leaving def.Template as the raw (still-unresolved)
// template_prompt bytes for resolveTemplate to finish.
func decodeDefinition(raw map[string]interface{}, path string) (*Definition, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, &DefinitionError{File: path, Path: "<root>", Message: "re-encoding definition: " + err.Error()}
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, &DefinitionError{File: path, Path: "<root>", Message: "decoding definition: " + err.Error()}
	}
	def.SourceFile = path

	if tpl, ok := raw["template_prompt"]; ok {
		tplBytes, err := json.Marshal(tpl)
		if err != nil {
			return nil, &DefinitionError{File: path, Path: "template_prompt", Message: err.Error()}
		}
		def.Template = tplBytes
	}

	return &def, nil
}

var allowedInputTypes = map[InputType]bool{InputImage: true, InputVideo: true, InputNone: true}
var allowedParamTypes = map[ParamType]bool{ParamText: true, ParamBool: true, ParamInt: true, ParamFloat: true}

// validateDefinition enforces the structural invariants checked at load:
// node-id cross references, unique names (checked by the caller across
// files), extension/type/param-type shape.
func validateDefinition(def *Definition, path string) error {
	if def.Name == "" {
		return &DefinitionError{File: path, Path: "name", Message: "workflow name is required"}
	}

	if !allowedInputTypes[def.InputType] {
		return &DefinitionError{File: path, Path: "input_type", Message: fmt.Sprintf("input_type must be one of image, video, none, got %q", def.InputType)}
	}

	if def.InputType != InputNone {
		if len(def.InputExtensions) == 0 {
			return &DefinitionError{File: path, Path: "input_extensions", Message: "input_extensions must be non-empty for input_type " + string(def.InputType)}
		}
	}
	for i, ext := range def.InputExtensions {
		if !strings.HasPrefix(ext, ".") {
			return &DefinitionError{File: path, Path: fmt.Sprintf("input_extensions[%d]", i), Message: fmt.Sprintf("extension %q must start with '.'", ext)}
		}
	}

	nodeIDs, err := templateNodeIDs(def.Template)
	if err != nil {
		return &DefinitionError{File: path, Path: "template_prompt", Message: err.Error()}
	}

	for name, binding := range def.FileBindings {
		for _, n := range binding.Nodes {
			if !nodeIDs[n] {
				return &DefinitionError{File: path, Path: fmt.Sprintf("file_bindings.%s.nodes", name), Message: fmt.Sprintf("node id %q does not exist in template_prompt", n)}
			}
		}
	}

	for name, p := range def.Parameters {
		if !allowedParamTypes[p.Type] {
			return &DefinitionError{File: path, Path: fmt.Sprintf("parameters.%s.type", name), Message: fmt.Sprintf("unknown parameter type %q", p.Type)}
		}
		for _, n := range p.Nodes {
			if !nodeIDs[n] {
				return &DefinitionError{File: path, Path: fmt.Sprintf("parameters.%s.nodes", name), Message: fmt.Sprintf("node id %q does not exist in template_prompt", n)}
			}
		}
	}

	for i, sw := range def.SwitchStates {
		if !nodeIDs[sw.NodeID] {
			return &DefinitionError{File: path, Path: fmt.Sprintf("switch_states[%d].node_id", i), Message: fmt.Sprintf("node id %q does not exist in template_prompt", sw.NodeID)}
		}
	}

	return nil
}

func templateNodeIDs(template json.RawMessage) (map[string]bool, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(template, &m); err != nil {
		return nil, fmt.Errorf("template_prompt is not a JSON object: %w", err)
	}
	ids := make(map[string]bool, len(m))
	for k := range m {
		ids[k] = true
	}
	return ids, nil
}
