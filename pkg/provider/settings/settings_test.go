package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSettingsAppliesDefaults(t *testing.T) {
	s, err := ParseSettings([]byte(`
name: local
provider: openai
base_url: http://localhost:8080/v1
model: local-model
`))
	require.NoError(t, err)
	assert.Equal(t, "local", s.Name)
	assert.Equal(t, KindOpenAI, s.Provider)
	assert.True(t, s.Streaming)
	require.NotNil(t, s.MaxResponseTokens)
	assert.Equal(t, 512, *s.MaxResponseTokens)
}

func TestParseSettingsRejectsUnknownKind(t *testing.T) {
	_, err := ParseSettings([]byte("name: x\nprovider: carrier-pigeon\nmodel: m\n"))
	require.Error(t, err)
}

func TestParseSettingsRequiresModel(t *testing.T) {
	_, err := ParseSettings([]byte("name: x\nprovider: openai\n"))
	require.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	s, err := ParseSettings([]byte("name: a\nprovider: openai\nmodel: gpt-4\ntemperature: 0.5\n"))
	require.NoError(t, err)

	c := s.Clone()
	*c.Temperature = 0.9
	c.Name = "b"

	assert.Equal(t, 0.5, *s.Temperature)
	assert.Equal(t, "a", s.Name)
}

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "10-main.yaml", "name: main\nprovider: openai\nmodel: gpt-4\nenabled: true\n")
	writeConfig(t, dir, "20-backup.yaml", "name: backup\nprovider: ollama\nmodel: mistral\nenabled: true\n")
	writeConfig(t, dir, "30-off.yaml", "name: off\nprovider: openai\nmodel: gpt-4\nenabled: false\n")
	writeConfig(t, dir, "garbage.yaml", "provider: [broken\n")
	writeConfig(t, dir, "notes.txt", "not a config")

	r, err := LoadDirectory(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"backup", "main"}, r.Names())

	// first enabled config in file name order wins
	def, ok := r.Default()
	require.True(t, ok)
	assert.Equal(t, "main", def.Name)

	_, ok = r.Get("off")
	assert.False(t, ok)
}

func TestLoadDirectoryMissing(t *testing.T) {
	_, err := LoadDirectory(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestDefaultEmptyRegistry(t *testing.T) {
	_, ok := NewRegistry().Default()
	assert.False(t, ok)
}
