package qos_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agent-publisher/pkg/qos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const libraryYAML = `
libraries:
  - name: cavecanem
    profiles:
      - name: reliable
        writer:
          reliability: reliable
          durability: transient_local
          history_depth: 10
      - name: sparse
        writer:
          reliability: best_effort
`

func writeLibrary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(libraryYAML), 0o644))
	return path
}

func TestProviderResolve(t *testing.T) {
	file, err := qos.LoadFile(writeLibrary(t))
	require.NoError(t, err)

	p, err := qos.NewProvider(file, "cavecanem", "reliable")
	require.NoError(t, err)

	t.Run("session default", func(t *testing.T) {
		w := p.SessionDefault()
		assert.Equal(t, qos.Reliable, w.Reliability)
		assert.Equal(t, 10, w.HistoryDepth)
	})

	t.Run("empty selection uses session defaults", func(t *testing.T) {
		w, err := p.Resolve(qos.Selection{})
		require.NoError(t, err)
		assert.Equal(t, qos.TransientLocal, w.Durability)
	})

	t.Run("profile defaults are filled", func(t *testing.T) {
		w, err := p.Resolve(qos.Selection{Library: "cavecanem", Profile: "sparse"})
		require.NoError(t, err)
		assert.Equal(t, qos.Volatile, w.Durability)
		assert.Equal(t, 1, w.HistoryDepth)
	})

	t.Run("default profile is transport default", func(t *testing.T) {
		w, err := p.Resolve(qos.Selection{Library: "nowhere", Profile: "default"})
		require.NoError(t, err)
		assert.Equal(t, qos.Default(), w)
	})

	t.Run("explicit writer qos is used verbatim", func(t *testing.T) {
		explicit := qos.WriterQoS{Reliability: qos.Reliable, Durability: qos.Persistent, HistoryDepth: 3, Priority: 2}
		w, err := p.Resolve(qos.Selection{Library: "missing", Profile: "missing", Writer: &explicit})
		require.NoError(t, err)
		assert.Equal(t, explicit, w)
	})

	t.Run("unknown library", func(t *testing.T) {
		_, err := p.Resolve(qos.Selection{Library: "missing", Profile: "reliable"})
		assert.ErrorIs(t, err, qos.ErrUnknownLibrary)
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, err := p.Resolve(qos.Selection{Library: "cavecanem", Profile: "missing"})
		assert.ErrorIs(t, err, qos.ErrUnknownProfile)
	})
}

func TestNewProviderWithoutFile(t *testing.T) {
	p, err := qos.NewProvider(nil, "", "")
	require.NoError(t, err)
	assert.Equal(t, qos.Default(), p.SessionDefault())

	_, err = qos.NewProvider(nil, "cavecanem", "reliable")
	assert.ErrorIs(t, err, qos.ErrUnknownLibrary)
}

func TestWriterQoSValidate(t *testing.T) {
	assert.NoError(t, qos.WriterQoS{}.Validate())
	assert.Error(t, qos.WriterQoS{Reliability: "sometimes"}.Validate())
	assert.Error(t, qos.WriterQoS{Durability: "forever"}.Validate())
	assert.Error(t, qos.WriterQoS{HistoryDepth: -1}.Validate())
	assert.NoError(t, qos.WriterQoS{Reliability: qos.Reliable, Priority: 9}.Validate())
	assert.Error(t, qos.WriterQoS{Reliability: qos.Reliable, Priority: 300}.Validate())
	assert.Error(t, qos.WriterQoS{Priority: -1}.Validate())
}
