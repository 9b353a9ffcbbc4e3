package stage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSourceFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))
	return path
}

func TestStage_CopiesAndRecordsOriginal(t *testing.T) {
	srcDir := t.TempDir()
	uploadRoot := t.TempDir()
	src := writeSourceFile(t, srcDir, "photo.png")

	result, err := Stage(uploadRoot, []string{src})
	require.NoError(t, err)
	require.Len(t, result.StagedPaths, 1)

	staged := result.StagedPaths[0]
	assert.FileExists(t, staged)
	assert.Equal(t, src, result.OriginalOf[staged])
	assert.True(t, filepath.IsAbs(staged))
}

func TestStage_SanitizesUnsafeCharacters(t *testing.T) {
	srcDir := t.TempDir()
	uploadRoot := t.TempDir()
	src := writeSourceFile(t, srcDir, "my photo #1 (final).png")

	result, err := Stage(uploadRoot, []string{src})
	require.NoError(t, err)

	name := filepath.Base(result.StagedPaths[0])
	assert.NotContains(t, name, " ")
	assert.NotContains(t, name, "#")
	assert.NotContains(t, name, "(")
}

func TestStage_DeduplicatesCollidingNames(t *testing.T) {
	aDir := t.TempDir()
	bDir := t.TempDir()
	uploadRoot := t.TempDir()
	a := writeSourceFile(t, aDir, "image.png")
	b := writeSourceFile(t, bDir, "image.png")

	result, err := Stage(uploadRoot, []string{a, b})
	require.NoError(t, err)
	require.Len(t, result.StagedPaths, 2)
	assert.NotEqual(t, result.StagedPaths[0], result.StagedPaths[1])
	assert.Contains(t, filepath.Base(result.StagedPaths[1]), "__2")
}

func TestListInputs_FiltersByExtensionAndSkipsDirs(t *testing.T) {
	dir := t.TempDir()
	writeSourceFile(t, dir, "a.png")
	writeSourceFile(t, dir, "b.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	paths, err := ListInputs(dir, []string{".png"})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "a.png", filepath.Base(paths[0]))
}

func TestListInputs_NoExtensionsReturnsEverything(t *testing.T) {
	dir := t.TempDir()
	writeSourceFile(t, dir, "a.png")
	writeSourceFile(t, dir, "b.txt")

	paths, err := ListInputs(dir, nil)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}
