package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobRoundTripIsPrettyPrinted(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	_, err := store.ReadBlob(BlobLicensing)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.WriteBlob(BlobLicensing, []byte(`{"key":"abc","seats":5,"extra":{"a":[1,2]}}`)))

	raw, err := store.ReadBlob(BlobLicensing)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"key\": \"abc\",\n  \"seats\": 5,\n  \"extra\": {\n    \"a\": [\n      1,\n      2\n    ]\n  }\n}", string(raw))

	onDisk, err := os.ReadFile(filepath.Join(dir, "licensing.json"))
	require.NoError(t, err)
	assert.Equal(t, raw, onDisk)
}

func TestBlobRejectsBadInput(t *testing.T) {
	store := New(t.TempDir())
	assert.ErrorIs(t, store.WriteBlob(BlobTheming, []byte(`{not json`)), ErrInvalidInput)
	assert.ErrorIs(t, store.WriteBlob("../../etc/passwd", []byte(`{}`)), ErrInvalidInput)
	_, err := store.ReadBlob("unknown")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGeneralDefaultsAndMerge(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	merged, err := store.General()
	require.NoError(t, err)
	assert.Equal(t, "Open Sans", merged["font"])
	assert.Equal(t, "system", merged["theme"])
	assert.Equal(t, false, merged["preventUserRegistration"])
	assert.FileExists(t, filepath.Join(dir, "settings.json"))
	assert.FileExists(t, filepath.Join(dir, "generalsettings.json"))

	update := map[string]json.RawMessage{
		"theme":                   json.RawMessage(`"dark"`),
		"preventUserRegistration": json.RawMessage(`true`),
		"ignored":                 json.RawMessage(`1`),
	}
	require.NoError(t, store.UpdateGeneral(update))

	merged, err = store.General()
	require.NoError(t, err)
	assert.Equal(t, "dark", merged["theme"])
	assert.Equal(t, "Open Sans", merged["font"])
	assert.NotContains(t, merged, "ignored")

	prevent, err := store.PreventUserRegistration()
	require.NoError(t, err)
	assert.True(t, prevent)
}

func TestUpdateGeneralValidatesFlag(t *testing.T) {
	store := New(t.TempDir())
	err := store.UpdateGeneral(map[string]json.RawMessage{"preventUserRegistration": json.RawMessage(`"yes"`)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
