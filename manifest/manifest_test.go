package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowmesh/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	writeFile(t, path, `{
		"type": "extension",
		"name": "stt",
		"version": "0.1.0",
		"api": {
			"cmd_in": [{"name": "start", "property": {"lang": {"type": "string", "required": true}}}],
			"audio_frame_in": [{"name": "pcm"}]
		}
	}`)

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "extension", m.Type)
	assert.Equal(t, "stt", m.Name)

	decl, ok := m.CmdInDecl("start")
	require.True(t, ok)
	assert.True(t, decl.Property["lang"].Required)

	_, ok = m.CmdInDecl("missing")
	assert.False(t, ok)

	_, ok = m.AudioFrameInDecl("pcm")
	assert.True(t, ok)
}

func TestLoadManifestInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	writeFile(t, path, `{"type": "extension"}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestScan(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "stt", "manifest.json"),
		`{"type": "extension", "name": "stt", "version": "1.0.0"}`)
	writeFile(t, filepath.Join(base, "stt", "property.json"),
		`{"lang": "en"}`)
	writeFile(t, filepath.Join(base, "tts", "manifest.json"),
		`{"type": "extension", "name": "tts", "version": "1.0.0"}`)
	// Directory without a manifest is skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(base, "scratch"), 0o755))

	entries, err := Scan(base)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Manifest.Name] = e
	}
	assert.Equal(t, "en", byName["stt"].Property["lang"])
	assert.Nil(t, byName["tts"].Property)
}

func TestPropertySchemaValidate(t *testing.T) {
	schema := PropertySchema{
		"lang":  {Type: "string", Required: true},
		"rate":  {Type: "int"},
		"debug": {Type: "bool"},
	}

	assert.NoError(t, schema.Validate(map[string]any{"lang": "en"}))
	assert.NoError(t, schema.Validate(map[string]any{"lang": "en", "rate": float64(16000)}))

	err := schema.Validate(map[string]any{"rate": "fast", "debug": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchemaMismatch))
	// All three violations are reported, not just the first.
	assert.Contains(t, err.Error(), "lang")
	assert.Contains(t, err.Error(), "rate")
	assert.Contains(t, err.Error(), "debug")
}

func TestPropertySchemaEmpty(t *testing.T) {
	assert.NoError(t, PropertySchema{}.Validate(map[string]any{"anything": 1}))
	assert.NoError(t, PropertySchema(nil).Validate(nil))
}

func TestLoadPropertiesJSON(t *testing.T) {
	t.Setenv("FLOWMESH_TEST_KEY", "secret")

	dir := t.TempDir()
	path := filepath.Join(dir, "property.json")
	writeFile(t, path, `{
		"api_key": "${env:FLOWMESH_TEST_KEY}",
		"nested": {"token": "x-${env:FLOWMESH_TEST_KEY}-y"},
		"list": ["${env:FLOWMESH_TEST_KEY}"],
		"plain": 42
	}`)

	props, err := LoadProperties(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", props["api_key"])
	assert.Equal(t, "x-secret-y", props["nested"].(map[string]any)["token"])
	assert.Equal(t, "secret", props["list"].([]any)[0])
	assert.Equal(t, float64(42), props["plain"])
}

func TestLoadPropertiesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "property.yaml")
	writeFile(t, path, "lang: en\nrate: 16000\n")

	props, err := LoadProperties(path)
	require.NoError(t, err)
	assert.Equal(t, "en", GetString(props, "lang", ""))
	assert.Equal(t, 16000, GetInt(props, "rate", 0))
}

func TestSubstituteEnvUnset(t *testing.T) {
	props := SubstituteEnv(map[string]any{"k": "${env:FLOWMESH_DEFINITELY_UNSET_VAR}"})
	assert.Equal(t, "", props["k"])
}

func TestGetters(t *testing.T) {
	props := map[string]any{"s": "v", "i": float64(3), "b": true}
	assert.Equal(t, "v", GetString(props, "s", ""))
	assert.Equal(t, "d", GetString(props, "x", "d"))
	assert.Equal(t, 3, GetInt(props, "i", 0))
	assert.Equal(t, 9, GetInt(props, "x", 9))
	assert.True(t, GetBool(props, "b", false))
	assert.False(t, GetBool(props, "x", false))
}
