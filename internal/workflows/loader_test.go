package workflows

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
name: upscale-basic
display_name: Upscale (basic)
input_type: image
input_extensions: [".png", ".jpg"]
template_prompt:
  "1":
    class_type: LoadImage
    inputs: {}
  "2":
    class_type: SaveImage
    inputs: {}
file_bindings:
  load_image:
    nodes: ["1"]
    field: image
parameters:
  denoise:
    type: float
    default: 0.5
    min: 0
    max: 1
    nodes: ["2"]
    field: denoise
switch_states:
  - node_id: "2"
    field: enabled
    value: true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_ValidDefinition(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "upscale.workflow.yaml", validYAML)

	def, err := NewLoader(dir).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "upscale-basic", def.Name)
	assert.Equal(t, InputImage, def.InputType)
	assert.Contains(t, def.Parameters, "denoise")
}

func TestLoadFile_UnknownNodeIDIsRejected(t *testing.T) {
	dir := t.TempDir()
	bad := `
name: bad
input_type: none
template_prompt:
  "1": {class_type: LoadImage, inputs: {}}
switch_states:
  - node_id: "99"
    field: enabled
    value: true
`
	path := writeFile(t, dir, "bad.workflow.yaml", bad)

	_, err := NewLoader(dir).LoadFile(path)
	require.Error(t, err)

	var defErr *DefinitionError
	require.ErrorAs(t, err, &defErr)
}

func TestLoadFile_MissingInputExtensionsIsRejected(t *testing.T) {
	dir := t.TempDir()
	bad := `
name: bad
input_type: image
template_prompt:
  "1": {class_type: LoadImage, inputs: {}}
`
	path := writeFile(t, dir, "bad.workflow.yaml", bad)

	_, err := NewLoader(dir).LoadFile(path)
	require.Error(t, err)
}

func TestLoadAll_RejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.workflow.yaml", validYAML)
	writeFile(t, dir, "b.workflow.yaml", validYAML)

	_, err := NewLoader(dir).LoadAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate workflow name")
}

func TestLoadAll_MissingDirReturnsEmpty(t *testing.T) {
	defs, err := NewLoader(filepath.Join(t.TempDir(), "missing")).LoadAll()
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestLoadFile_TemplateFileReference(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "template.json", `{"prompt": {"1": {"class_type": "LoadImage", "inputs": {}}}}`)
	def := `
name: via-template-file
input_type: none
template_file: template.json
`
	path := writeFile(t, dir, "via.workflow.yaml", def)

	loaded, err := NewLoader(dir).LoadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1": {"class_type": "LoadImage", "inputs": {}}}`, string(loaded.Template))
}
