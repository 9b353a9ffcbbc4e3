package repositories

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptPresets_SaveAndListFiltersByMode(t *testing.T) {
	_, repos := setupTestDB(t)

	require.NoError(t, repos.Presets.SavePromptPreset("warm", "image", "golden hour", "blurry"))
	require.NoError(t, repos.Presets.SavePromptPreset("cool", "video", "cold tone", "warped"))

	imageMode := "image"
	presets, err := repos.Presets.ListPromptPresets(10, &imageMode)
	require.NoError(t, err)
	require.Len(t, presets, 1)
	assert.Equal(t, "warm", presets[0].Name)
}

func TestPromptPresets_SaveUpserts(t *testing.T) {
	_, repos := setupTestDB(t)

	require.NoError(t, repos.Presets.SavePromptPreset("warm", "image", "golden hour", "blurry"))
	require.NoError(t, repos.Presets.SavePromptPreset("warm", "image", "sunset glow", "dull"))

	presets, err := repos.Presets.ListPromptPresets(10, nil)
	require.NoError(t, err)
	require.Len(t, presets, 1)
	assert.Equal(t, "sunset glow", presets[0].Positive)
}

func TestSettingsPresets_SaveAndListRoundTripsPayload(t *testing.T) {
	_, repos := setupTestDB(t)

	payload := json.RawMessage(`{"steps":30,"cfg":7.5}`)
	require.NoError(t, repos.Presets.SaveSettingsPreset("default", payload))

	presets, err := repos.Presets.ListSettingsPresets(10)
	require.NoError(t, err)
	require.Len(t, presets, 1)
	assert.JSONEq(t, string(payload), string(presets[0].Payload))
}
