package repositories

import (
	"database/sql"
	"time"

	"graphqueue/internal/db"
	"graphqueue/pkg/models"
)

type InputDirHistoryRepo struct {
	db *sql.DB
}

// Touch upserts one directory's history row, bumping use_count and
// last_used_at. Called once per enqueue (once per split job, when
// split_by_input produced several).
func (r *InputDirHistoryRepo) Touch(path string) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	_, err := r.db.Exec(
		`INSERT INTO input_dir_history (path, last_used_at, use_count)
		 VALUES (?, CURRENT_TIMESTAMP, 1)
		 ON CONFLICT(path) DO UPDATE SET
		   last_used_at = CURRENT_TIMESTAMP,
		   use_count = use_count + 1`, path)
	return err
}

// List returns the most recently used directories. If the history table is
// empty (e.g. a fresh database backed by jobs predating this feature), it
// falls back to the distinct input_dir values seen across jobs.
func (r *InputDirHistoryRepo) List(limit int) ([]models.InputDirHistory, error) {
	rows, err := r.db.Query(
		`SELECT path, last_used_at, use_count FROM input_dir_history
		 ORDER BY last_used_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.InputDirHistory
	for rows.Next() {
		var h models.InputDirHistory
		if err := rows.Scan(&h.Path, &h.LastUsedAt, &h.UseCount); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(history) > 0 {
		return history, nil
	}

	fallbackRows, err := r.db.Query(
		`SELECT input_dir, MAX(created_at), COUNT(*) FROM jobs
		 WHERE input_dir != '' GROUP BY input_dir ORDER BY MAX(created_at) DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer fallbackRows.Close()

	for fallbackRows.Next() {
		var h models.InputDirHistory
		// MAX(created_at) has no declared column type, so the driver returns
		// it as text rather than as a time value.
		var lastUsed string
		if err := fallbackRows.Scan(&h.Path, &lastUsed, &h.UseCount); err != nil {
			return nil, err
		}
		for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano} {
			if t, err := time.Parse(layout, lastUsed); err == nil {
				h.LastUsedAt = t
				break
			}
		}
		history = append(history, h)
	}
	return history, fallbackRows.Err()
}
