package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"graphqueue/internal/logging"
	"graphqueue/pkg/models"
)

// moveProcessed relocates every distinct input file a succeeded job used
// into {input_dir}/_processed/, skipping files another active prompt still
// needs. Best-effort: a failure to move one file never aborts the rest.
func (w *Worker) moveProcessed(job *models.Job) {
	prompts, err := w.repos.GetPromptsForJob(job.ID)
	if err != nil {
		logging.Error("move-processed: listing prompts for job %d: %v", job.ID, err)
		return
	}

	processedDir := filepath.Join(job.InputDir, "_processed")
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		logging.Error("move-processed: creating %s: %v", processedDir, err)
		return
	}

	seen := make(map[string]bool)
	for _, prompt := range prompts {
		if prompt.InputFile == "" || seen[prompt.InputFile] {
			continue
		}
		seen[prompt.InputFile] = true
		w.moveOneProcessed(job.ID, prompt.InputFile, processedDir)
	}
}

func (w *Worker) moveOneProcessed(jobID int64, inputFile, processedDir string) {
	if _, err := os.Stat(inputFile); err != nil {
		return
	}

	active, err := w.repos.HasActivePromptsForInput(inputFile, &jobID)
	if err != nil {
		logging.Error("move-processed: checking active prompts for %s: %v", inputFile, err)
		return
	}
	if active {
		return
	}

	name := filepath.Base(inputFile)
	dest := filepath.Join(processedDir, name)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		dest = filepath.Join(processedDir, fmt.Sprintf("%s_%d%s", stem, time.Now().Unix(), ext))
	}

	if err := os.Rename(inputFile, dest); err != nil {
		logging.Error("move-processed: moving %s to %s: %v", inputFile, dest, err)
	}
}
