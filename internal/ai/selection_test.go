package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectModel_PrefersFlashAndExcludesExperimental(t *testing.T) {
	id, err := SelectModel([]string{"gemini-exp-foo", "gemini-1.5-pro", "gemini-1.5-flash"}, SelectionOptions{
		Prefer:  []string{"flash", "pro"},
		Exclude: []string{"exp"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash", id)
}

func TestSelectModel_FallsBackToPro(t *testing.T) {
	id, err := SelectModel([]string{"gemini-1.0-ultra", "gemini-1.5-pro"}, DefaultSelectionOptions())
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", id)
}

func TestSelectModel_FallsBackToFirst(t *testing.T) {
	id, err := SelectModel([]string{"models/text-bison", "models/chat-bison"}, DefaultSelectionOptions())
	require.NoError(t, err)
	assert.Equal(t, "text-bison", id)
}

func TestSelectModel_FirstMatchWins(t *testing.T) {
	ids := []string{"gemini-1.5-flash-8b", "gemini-1.5-flash"}
	id, err := SelectModel(ids, DefaultSelectionOptions())
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash-8b", id)

	again, err := SelectModel(ids, DefaultSelectionOptions())
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestSelectModel_ExcludedVersionTag(t *testing.T) {
	id, err := SelectModel([]string{"gemini-2.5-flash", "gemini-1.5-flash"}, SelectionOptions{
		Prefer:  []string{"flash"},
		Exclude: []string{"exp", "2.5"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash", id)
}

func TestSelectModel_NoCandidates(t *testing.T) {
	_, err := SelectModel(nil, DefaultSelectionOptions())
	assert.ErrorIs(t, err, ErrNoModels)

	_, err = SelectModel([]string{"gemini-exp-1206"}, DefaultSelectionOptions())
	assert.ErrorIs(t, err, ErrNoModels)
}

func TestNewModelHandle_Fixed(t *testing.T) {
	backend := &fakeBackend{listErr: errors.New("should not be called")}

	handle, err := NewModelHandle(context.Background(), backend, HandleConfig{
		Model:             "gemini-1.5-pro",
		SystemInstruction: "tutor",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", handle.Name)
	assert.Equal(t, "tutor", handle.SystemInstruction)
}

func TestNewModelHandle_Auto(t *testing.T) {
	backend := &fakeBackend{models: []string{"gemini-exp-foo", "gemini-1.5-pro", "gemini-1.5-flash"}}

	handle, err := NewModelHandle(context.Background(), backend, HandleConfig{
		Model:     AutoModel,
		Selection: DefaultSelectionOptions(),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash", handle.Name)
}

func TestNewModelHandle_ListFailure(t *testing.T) {
	backend := &fakeBackend{listErr: errors.New("network down")}

	handle, err := NewModelHandle(context.Background(), backend, HandleConfig{Model: AutoModel}, nil)
	assert.Nil(t, handle)

	var unavailable *ModelUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, AutoModel, unavailable.Model)
}

func TestNewModelHandle_NoModelConfigured(t *testing.T) {
	_, err := NewModelHandle(context.Background(), nil, HandleConfig{}, nil)

	var unavailable *ModelUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}
