// Package stage implements the Input Stager: copying user-specified input
// files into an upstream-visible staging directory under a fresh batch
// token, sanitizing filenames and deduplicating collisions.
package stage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

// NewBatchToken generates the "<unix_ms>_<6-digit nanosecond remainder>"
// token that names one staging directory.
func NewBatchToken() string {
	now := time.Now()
	return fmt.Sprintf("%d_%06d", now.UnixMilli(), now.Nanosecond()%1_000_000)
}

// Result is the outcome of staging one batch of input files.
type Result struct {
	StagedPaths []string          // paths to use in materialization, upstream-visible
	OriginalOf  map[string]string // staged path -> original source path
}

// Stage copies each source file into {uploadRoot}/staging/<batchToken>/,
// sanitizing names and de-duplicating collisions with "__2", "__3", ...
// before the extension.
func Stage(uploadRoot string, sources []string) (Result, error) {
	token := NewBatchToken()
	dir := filepath.Join(uploadRoot, "staging", token)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating staging dir: %w", err)
	}

	result := Result{OriginalOf: make(map[string]string, len(sources))}
	used := make(map[string]bool)

	for _, src := range sources {
		name := sanitizeFilename(filepath.Base(src))
		dest := uniqueName(dir, name, used)

		if err := copyFile(src, dest); err != nil {
			return Result{}, fmt.Errorf("staging %s: %w", src, err)
		}

		result.StagedPaths = append(result.StagedPaths, dest)
		result.OriginalOf[dest] = src
	}

	return result, nil
}

func sanitizeFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	stem = unsafeChars.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "._")
	if stem == "" {
		stem = "file"
	}
	return stem + ext
}

func uniqueName(dir, name string, used map[string]bool) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for n := 2; used[candidate] || fileExists(filepath.Join(dir, candidate)); n++ {
		candidate = fmt.Sprintf("%s__%d%s", stem, n, ext)
	}
	used[candidate] = true
	return filepath.Join(dir, candidate)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	info, err := os.Stat(src)
	if err == nil {
		_ = os.Chtimes(dest, time.Now(), info.ModTime())
	}
	return nil
}

// ListInputs returns the sorted, extension-filtered contents of a
// directory — the batch-discovery path for directory-style submissions.
func ListInputs(dir string, extensions []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		allowed[strings.ToLower(e)] = true
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(allowed) > 0 && !allowed[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

