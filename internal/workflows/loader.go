package workflows

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads every definition file directly inside one directory, in
// sorted order, and returns the full set of validated definitions.
// Subdirectories are not searched.
type Loader struct {
	defsDir string
}

func NewLoader(defsDir string) *Loader {
	return &Loader{defsDir: defsDir}
}

// LoadAll loads every *.workflow.yaml/.yml/.json file under defsDir, sorted
// by filename, failing on the first structural violation. Duplicate names
// across files are fatal.
func (l *Loader) LoadAll() ([]*Definition, error) {
	if _, err := os.Stat(l.defsDir); os.IsNotExist(err) {
		return nil, nil
	}

	var files []string
	for _, pattern := range []string{"*.workflow.yaml", "*.workflow.yml", "*.workflow.json"} {
		matches, err := filepath.Glob(filepath.Join(l.defsDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	seen := make(map[string]string) // name -> file it was first seen in
	defs := make([]*Definition, 0, len(files))

	for _, path := range files {
		def, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prior, ok := seen[def.Name]; ok {
			return nil, &DefinitionError{File: path, Path: "name", Message: fmt.Sprintf("duplicate workflow name %q, already defined in %s", def.Name, prior)}
		}
		seen[def.Name] = path
		defs = append(defs, def)
	}

	return defs, nil
}

// LoadFile loads and validates a single definition file.
func (l *Loader) LoadFile(path string) (*Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw map[string]interface{}
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(content, &raw); err != nil {
			return nil, &DefinitionError{File: path, Path: "<root>", Message: "invalid JSON: " + err.Error()}
		}
	} else {
		var yamlData interface{}
		if err := yaml.Unmarshal(content, &yamlData); err != nil {
			return nil, &DefinitionError{File: path, Path: "<root>", Message: "invalid YAML: " + err.Error()}
		}
		converted := convertYAMLToJSON(yamlData)
		m, ok := converted.(map[string]interface{})
		if !ok {
			return nil, &DefinitionError{File: path, Path: "<root>", Message: "definition must be a mapping"}
		}
		raw = m
	}

	def, err := decodeDefinition(raw, path)
	if err != nil {
		return nil, err
	}

	if err := resolveTemplate(def, path); err != nil {
		return nil, err
	}

	if err := validateDefinition(def, path); err != nil {
		return nil, err
	}

	return def, nil
}

// resolveTemplate fills in def.Template, either from the inline
// "template_prompt" field or from an adjacent JSON file named by
// "template_file", relative to the definition file. A top-level "prompt"
// envelope is unwrapped either way.
func resolveTemplate(def *Definition, defPath string) error {
	if def.TemplateFile != "" {
		tplPath := def.TemplateFile
		if !filepath.IsAbs(tplPath) {
			tplPath = filepath.Join(filepath.Dir(defPath), tplPath)
		}
		content, err := os.ReadFile(tplPath)
		if err != nil {
			return &DefinitionError{File: defPath, Path: "template_file", Message: "cannot read template file: " + err.Error()}
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(content, &m); err != nil {
			return &DefinitionError{File: defPath, Path: "template_file", Message: "template file is not a JSON object: " + err.Error()}
		}
		if inner, ok := m["prompt"]; ok {
			def.Template = inner
		} else {
			def.Template = content
		}
		return nil
	}

	if len(def.Template) == 0 {
		return &DefinitionError{File: defPath, Path: "template_prompt", Message: "definition has neither an inline template_prompt nor a template_file"}
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(def.Template, &m); err != nil {
		return &DefinitionError{File: defPath, Path: "template_prompt", Message: "template_prompt is not a JSON object: " + err.Error()}
	}
	if inner, ok := m["prompt"]; ok {
		def.Template = inner
	}
	return nil
}

// convertYAMLToJSON recursively flattens map[interface{}]interface{} nodes
// (produced by some YAML decoders for non-string keys) into
// map[string]interface{} so the result round-trips through encoding/json.
func convertYAMLToJSON(input interface{}) interface{} {
	switch v := input.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			result[key] = convertYAMLToJSON(val)
		}
		return result
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			result[fmt.Sprintf("%v", key)] = convertYAMLToJSON(val)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = convertYAMLToJSON(val)
		}
		return result
	default:
		return v
	}
}
