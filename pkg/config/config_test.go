package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadNoConfigFileReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfg, err := Load(filepath.Join(tmpDir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestLoadParsesHumanReadableSizesAndDurations(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
logging:
  level: DEBUG
shutdown_timeout: 5s
transport:
  max_io_size: 256Ki
  io_unit_size: 256Ki
  default_kato: 30s
  max_queue_depth: 64
  max_qpairs_per_ctrlr: 16
  max_aq_depth: 32
  num_shared_buffers: 128
  poll_group_count: 2
  scheduling_policy: host_ip
listeners:
  - address: "0.0.0.0:4420"
subsystems:
  - nqn: "nqn.2026-01.io.nvmftcpd:cnode1"
    serial: "SERIAL0001"
    model: "test-model"
    allow_any_host: true
    namespaces:
      - nsid: 1
        backend: memory
        memory:
          block_size: 512
          block_count: 2048
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.EqualValues(t, 256*1024, cfg.Transport.MaxIOSize)
	assert.Equal(t, 30*time.Second, cfg.Transport.DefaultKATO)
	assert.Equal(t, 2, cfg.Transport.PollGroupCount)
	assert.Equal(t, "host_ip", cfg.Transport.SchedulingPolicy)
	require.Len(t, cfg.Subsystems, 1)
	assert.Equal(t, "nqn.2026-01.io.nvmftcpd:cnode1", cfg.Subsystems[0].NQN)
}

func TestLoadInvalidYAMLErrors(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("not: valid: yaml: content:"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoadMissingRequiredFieldFailsValidation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: INFO\n"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err, "no listeners or subsystems configured should fail validation")
}

func TestLoadEnvironmentVariableOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
logging:
  level: INFO
listeners:
  - address: "0.0.0.0:4420"
subsystems:
  - nqn: "nqn.2026-01.io.nvmftcpd:cnode1"
    serial: "S1"
    model: "M1"
    allow_any_host: true
    namespaces:
      - nsid: 1
        backend: memory
        memory: {block_size: 512, block_count: 1024}
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	t.Setenv("NVMFTCPD_LOGGING_LEVEL", "ERROR")
	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestSaveConfigRoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Subsystems[0].NQN, loaded.Subsystems[0].NQN)
	assert.Equal(t, cfg.Transport.MaxIOSize, loaded.Transport.MaxIOSize)
}

func TestGetDefaultConfigPathUsesXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/xdg")
	assert.Equal(t, "/custom/xdg/nvmftcpd/config.yaml", GetDefaultConfigPath())
}

func TestMustLoadWithoutConfigFileFailsHelpfully(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	_, err := MustLoad("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nvmfctl config init")
}
