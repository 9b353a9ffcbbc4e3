// Package repositories is the durable Queue Store: jobs, prompts, the
// pause flag, input-dir history and the two preset tables, each behind
// transactional methods so no raw connection ever leaks to a caller.
package repositories

import (
	"database/sql"

	"go.opentelemetry.io/otel/trace"

	"graphqueue/internal/db"
	"graphqueue/internal/telemetry"
)

// Repositories aggregates the Queue Store's per-aggregate repos over one
// shared connection pool.
type Repositories struct {
	Jobs     *JobRepo
	Prompts  *PromptRepo
	Queue    *QueueStateRepo
	History  *InputDirHistoryRepo
	Presets  *PresetRepo

	db     db.Database
	tracer trace.Tracer
}

func New(database db.Database) *Repositories {
	conn := database.Conn()
	tracer := telemetry.Tracer("graphqueue-db")
	return &Repositories{
		Jobs:    &JobRepo{db: conn, tracer: tracer},
		Prompts: &PromptRepo{db: conn},
		Queue:   &QueueStateRepo{db: conn},
		History: &InputDirHistoryRepo{db: conn},
		Presets: &PresetRepo{db: conn},
		db:      database,
		tracer:  tracer,
	}
}

// BeginTx starts a database transaction; every cross-table status
// transition runs inside one.
func (r *Repositories) BeginTx() (*sql.Tx, error) {
	return r.db.Conn().Begin()
}

// Conn exposes the pooled connection for read-only listing queries, which
// don't need the serialized-writer discipline a transaction buys.
func (r *Repositories) Conn() *sql.DB {
	return r.db.Conn()
}
