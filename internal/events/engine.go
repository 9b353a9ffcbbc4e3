// Package events publishes job and prompt lifecycle events over an optional
// embedded NATS JetStream stream for external subscribers (dashboards, a
// status stream on the HTTP adapter). It is disabled by default; every
// publish is a no-op when the engine is nil or was never started.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Options configures the embedded engine. Enabled gates everything else.
type Options struct {
	Enabled       bool
	Embedded      bool
	URL           string
	Stream        string
	SubjectPrefix string
}

func DefaultOptions() Options {
	return Options{
		Enabled:       false,
		Embedded:      true,
		Stream:        "GRAPHQUEUE_EVENTS",
		SubjectPrefix: "graphqueue",
	}
}

// Engine publishes job/prompt status events. A nil *Engine, or one created
// with Options{Enabled: false}, turns every publish into a no-op.
type Engine struct {
	opts   Options
	server *natsserver.Server
	conn   *nats.Conn
	js     nats.JetStreamContext
}

// NewEngine starts (or connects to) the configured NATS JetStream stream.
// It returns (nil, nil) when events are disabled so callers can treat the
// zero value as "no publisher configured".
func NewEngine(opts Options) (*Engine, error) {
	if !opts.Enabled {
		return nil, nil
	}

	e := &Engine{opts: opts}
	if opts.Embedded {
		srv, err := natsserver.NewServer(&natsserver.Options{Port: -1, JetStream: true})
		if err != nil {
			return nil, fmt.Errorf("starting embedded nats: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(5 * time.Second) {
			return nil, fmt.Errorf("embedded nats failed to become ready")
		}
		e.server = srv
		e.opts.URL = fmt.Sprintf("nats://%s", srv.Addr().String())
	}

	conn, err := nats.Connect(e.opts.URL)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	e.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("initializing jetstream: %w", err)
	}
	e.js = js

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     opts.Stream,
		Subjects: []string{fmt.Sprintf("%s.>", opts.SubjectPrefix)},
		Storage:  nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		e.Close()
		return nil, fmt.Errorf("creating stream: %w", err)
	}

	return e, nil
}

// JobEvent is published whenever a job's derived status changes.
type JobEvent struct {
	JobID     int64     `json:"job_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// PromptEvent is published on every prompt status transition.
type PromptEvent struct {
	JobID     int64     `json:"job_id"`
	PromptID  int64     `json:"prompt_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishJobEvent best-effort publishes a job status change. A nil engine
// is always a no-op, matching the "events disabled" default.
func (e *Engine) PublishJobEvent(evt JobEvent) error {
	if e == nil || e.js == nil {
		return nil
	}
	subject := fmt.Sprintf("%s.jobs.%d.status", e.opts.SubjectPrefix, evt.JobID)
	return e.publishJSON(subject, evt)
}

// PublishPromptEvent best-effort publishes a prompt status change.
func (e *Engine) PublishPromptEvent(evt PromptEvent) error {
	if e == nil || e.js == nil {
		return nil
	}
	subject := fmt.Sprintf("%s.prompts.%d.status", e.opts.SubjectPrefix, evt.PromptID)
	return e.publishJSON(subject, evt)
}

func (e *Engine) publishJSON(subject string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = e.js.Publish(subject, data)
	return err
}

// Close drains the connection and, for an embedded engine, shuts the
// in-process NATS server down. Safe to call on a nil Engine.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.conn != nil {
		e.conn.Drain()
		e.conn.Close()
	}
	if e.server != nil {
		e.server.Shutdown()
	}
}
