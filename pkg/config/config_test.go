package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-publisher/pkg/config"
	"github.com/agent-publisher/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func generalYAML(root, logs string) string {
	return `
agent:
  publishing_period_sec: 5
  plugin_root: ` + root + `
  plugin_libraries:
    - dir: default
      plugins: [cpu, memory]
    - dir: extra
      plugins: [disk]
bus:
  driver: memory
  domain_id: 3
  publish_timeout: 2s
server:
  enable: false
log:
  path: ` + logs + `
`
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "agent.yaml"), generalYAML(dir, filepath.Join(dir, "logs")))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Agent.PublishingPeriodSec)
	assert.Equal(t, 5*time.Second, cfg.Agent.Tick())
	assert.Equal(t, 3, cfg.Bus.DomainID)
	assert.Equal(t, 2*time.Second, cfg.Bus.PublishTimeout)
	assert.Equal(t, "default", cfg.Bus.QoSProfile)
	assert.Equal(t, []string{"default", "extra"}, cfg.Agent.GroupNames())
	assert.Equal(t, []string{"cpu", "memory"}, cfg.Agent.Groups()["default"])
	assert.False(t, cfg.Server.Enable)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileClampsTick(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "agent.yaml"), `
agent:
  publishing_period_sec: -4
server:
  enable: false
log:
  path: `+filepath.Join(dir, "logs")+`
`)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Agent.PublishingPeriodSec)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	logs := filepath.Join(dir, "logs")
	cases := map[string]string{
		"unknown driver": "bus:\n  driver: carrier-pigeon\nserver:\n  enable: false\nlog:\n  path: " + logs,
		"missing url":    "bus:\n  driver: nats\nserver:\n  enable: false\nlog:\n  path: " + logs,
		"bad match":      "agent:\n  plugin_libraries:\n    - dir: x\n      match: '('\nserver:\n  enable: false\nlog:\n  path: " + logs,
		"escaping dir":   "agent:\n  plugin_libraries:\n    - dir: ../etc\nserver:\n  enable: false\nlog:\n  path: " + logs,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, filepath.Join(t.TempDir(), "agent.yaml"), content)
			_, err := config.LoadFile(path)
			assert.Error(t, err)
		})
	}

	_, err := config.LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestStoreLoadGeneralWrapsParseError(t *testing.T) {
	store := config.NewStore(nil)
	_, err := store.LoadGeneral(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, errs.ErrConfigParse)
}

func TestClampPeriodProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sec := rapid.IntRange(-1000, 1000).Draw(t, "sec")
		got := config.ClampPeriod(sec)
		assert.GreaterOrEqual(t, got, 1)
		if sec >= 1 {
			assert.Equal(t, sec, got)
		}

		a := config.AgentConfig{PublishingPeriodSec: sec}
		a.Normalize()
		assert.GreaterOrEqual(t, a.PublishingPeriodSec, 1)
		assert.GreaterOrEqual(t, a.Tick(), time.Second)
	})
}

func TestGroupsLaterDirWins(t *testing.T) {
	a := config.AgentConfig{PluginLibraries: []config.PluginLibrary{
		{Dir: "default", Plugins: []string{"cpu"}},
		{Dir: "default", Plugins: []string{"disk"}},
	}}
	assert.Equal(t, map[string][]string{"default": {"disk"}}, a.Groups())
}
