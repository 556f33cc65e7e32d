package query

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultStrategy(t *testing.T) {
	s := DefaultStrategy()
	require.NoError(t, s.Validate())
	assert.Equal(t, 5, s.TopK)
	assert.Equal(t, 0.8, s.RelevanceThreshold)
	assert.Len(t, s.Greetings, 9)
}

func TestLoadStrategy_OverlaysFile(t *testing.T) {
	path := writeFile(t, `
top_k: 8
relevance_threshold: 0.5
generation_timeout: 15s
greetings: ["yo", "good day"]
`)
	s, err := LoadStrategy(path, DefaultStrategy())
	require.NoError(t, err)
	assert.Equal(t, 8, s.TopK)
	assert.Equal(t, 0.5, s.RelevanceThreshold)
	assert.Equal(t, 15*time.Second, s.GenerationTimeout)
	assert.Equal(t, []string{"yo", "good day"}, s.Greetings)
	assert.Equal(t, defaultPromptTemplate, s.PromptTemplate, "unset keys keep defaults")
}

func TestLoadStrategy_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "top_k: [",
		"bad top_k":    "top_k: 0",
		"bad template": "prompt_template: '{{.Topic'",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadStrategy(writeFile(t, content), DefaultStrategy())
			assert.Error(t, err)
		})
	}

	_, err := LoadStrategy(filepath.Join(t.TempDir(), "missing.yaml"), DefaultStrategy())
	assert.Error(t, err)
}
