package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_BuildsUsableTelemetry(t *testing.T) {
	tel, err := New()
	require.NoError(t, err)
	require.NotNil(t, tel)
}

func TestStartAndEndPromptSpan_RecordsErrorWhenPresent(t *testing.T) {
	tel, err := New()
	require.NoError(t, err)

	ctx, span := tel.StartPromptSpan(context.Background(), 1, 2, "running")
	assert.NotNil(t, span)

	assert.NotPanics(t, func() { tel.EndPromptSpan(ctx, span, "failed", errors.New("boom")) })
}

func TestNilTelemetry_IsNoOp(t *testing.T) {
	var tel *Telemetry
	ctx, span := tel.StartPromptSpan(context.Background(), 1, 2, "running")
	assert.Nil(t, span)
	assert.NotPanics(t, func() { tel.EndPromptSpan(ctx, span, "running", nil) })
}
