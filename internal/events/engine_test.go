package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine_DisabledReturnsNilNil(t *testing.T) {
	opts := DefaultOptions()
	opts.Enabled = false

	engine, err := NewEngine(opts)
	require.NoError(t, err)
	assert.Nil(t, engine)
}

func TestNilEngine_PublishIsNoOp(t *testing.T) {
	var engine *Engine
	assert.NoError(t, engine.PublishJobEvent(JobEvent{JobID: 1, Status: "running", Timestamp: time.Now()}))
	assert.NoError(t, engine.PublishPromptEvent(PromptEvent{JobID: 1, PromptID: 2, Status: "running", Timestamp: time.Now()}))
	assert.NotPanics(t, func() { engine.Close() })
}

func TestNewEngine_EmbeddedStartsAndPublishes(t *testing.T) {
	opts := DefaultOptions()
	opts.Enabled = true

	engine, err := NewEngine(opts)
	require.NoError(t, err)
	require.NotNil(t, engine)
	defer engine.Close()

	err = engine.PublishJobEvent(JobEvent{JobID: 1, Status: "succeeded", Timestamp: time.Now()})
	assert.NoError(t, err)
}
