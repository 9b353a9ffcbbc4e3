package repositories

import (
	"database/sql"

	"graphqueue/internal/db"
)

type QueueStateRepo struct {
	db *sql.DB
}

// IsPaused reports the single-row pause flag.
func (r *QueueStateRepo) IsPaused() (bool, error) {
	var paused bool
	err := r.db.QueryRow(`SELECT paused FROM queue_state WHERE id = 1`).Scan(&paused)
	return paused, err
}

// Pause sets the pause flag.
func (r *QueueStateRepo) Pause() error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()
	_, err := r.db.Exec(`UPDATE queue_state SET paused = 1 WHERE id = 1`)
	return err
}

// Resume clears the pause flag.
func (r *QueueStateRepo) Resume() error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()
	_, err := r.db.Exec(`UPDATE queue_state SET paused = 0 WHERE id = 1`)
	return err
}

// Clear removes every job and its prompts (cascade), used by the "clear
// queue" admin action. The pause flag is untouched.
func (r *QueueStateRepo) Clear() error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()
	_, err := r.db.Exec(`DELETE FROM jobs`)
	return err
}
