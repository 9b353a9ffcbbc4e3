package repositories

import (
	"database/sql"
	"encoding/json"

	"graphqueue/internal/db"
	"graphqueue/pkg/models"
)

type PresetRepo struct {
	db *sql.DB
}

// ListPromptPresets returns the most recently updated prompt presets,
// optionally filtered by mode.
func (r *PresetRepo) ListPromptPresets(limit int, mode *string) ([]models.PromptPreset, error) {
	query := `SELECT name, mode, positive, negative, updated_at FROM prompt_presets`
	args := []interface{}{}
	if mode != nil {
		query += " WHERE mode = ?"
		args = append(args, *mode)
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var presets []models.PromptPreset
	for rows.Next() {
		var p models.PromptPreset
		if err := rows.Scan(&p.Name, &p.Mode, &p.Positive, &p.Negative, &p.UpdatedAt); err != nil {
			return nil, err
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

// SavePromptPreset upserts a named prompt preset.
func (r *PresetRepo) SavePromptPreset(name, mode, positive, negative string) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	_, err := r.db.Exec(
		`INSERT INTO prompt_presets (name, mode, positive, negative, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET
		   mode = excluded.mode, positive = excluded.positive, negative = excluded.negative,
		   updated_at = CURRENT_TIMESTAMP`, name, mode, positive, negative)
	return err
}

// ListSettingsPresets returns the most recently updated settings presets.
func (r *PresetRepo) ListSettingsPresets(limit int) ([]models.SettingsPreset, error) {
	rows, err := r.db.Query(
		`SELECT name, payload, updated_at FROM settings_presets ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var presets []models.SettingsPreset
	for rows.Next() {
		var p models.SettingsPreset
		var payload string
		if err := rows.Scan(&p.Name, &payload, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Payload = json.RawMessage(payload)
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

// SaveSettingsPreset upserts a named opaque settings payload.
func (r *PresetRepo) SaveSettingsPreset(name string, payload json.RawMessage) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	_, err := r.db.Exec(
		`INSERT INTO settings_presets (name, payload, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP`,
		name, string(payload))
	return err
}
