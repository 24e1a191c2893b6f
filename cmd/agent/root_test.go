package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-publisher/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	content := `
agent:
  plugin_root: /opt/agent/plugins
  plugin_libraries:
    - dir: default
      plugins: [cpu, memory]
bus:
  driver: memory
  domain_id: 4
log:
  path: ` + filepath.Join(dir, "logs") + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.NoError(t, rootCmd.ParseFlags([]string{
		"-c", path,
		"--bus.domain-id", "9",
		"--agent.publishing-period-sec", "5",
		"--bus.breaker.max-failures", "3",
		"--server.enable=false",
	}))
	cfg, err := config.LoadConfigWithCli(rootCmd)
	require.NoError(t, err)

	assert.Equal(t, "/opt/agent/plugins", cfg.Agent.PluginRoot)
	assert.Equal(t, 9, cfg.Bus.DomainID)
	assert.Equal(t, 5*time.Second, cfg.Agent.Tick())
	assert.Equal(t, uint32(3), cfg.Bus.Breaker.MaxFailures)
	assert.False(t, cfg.Server.Enable)
	require.Len(t, cfg.Agent.PluginLibraries, 1)
	assert.Equal(t, []string{"cpu", "memory"}, cfg.Agent.PluginLibraries[0].Plugins)
}
