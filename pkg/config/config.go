// Package config loads the nvmftcpd server configuration, following a
// precedence chain (CLI flags > environment variables > config file >
// defaults) via spf13/viper and mitchellh/mapstructure, validated with
// go-playground/validator/v10 struct tags: a Load/MustLoad/SaveConfig
// shape, a viper.DecodeHook composition for human-readable size/duration
// strings, and a $XDG_CONFIG_HOME/<app>/config.yaml default location.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nvmftcpd/nvmftcpd/internal/bytesize"
)

// envPrefix is the prefix every environment variable override uses, e.g.
// NVMFTCPD_TRANSPORT_MAX_IO_SIZE.
const envPrefix = "NVMFTCPD"

// Config is the complete nvmftcpd server configuration.
//
// Configuration sources, highest precedence first:
//  1. CLI flags (bound by cmd/nvmftcpd directly onto a loaded Config)
//  2. Environment variables (NVMFTCPD_*)
//  3. Configuration file (YAML)
//  4. Default values
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
	Profiling   ProfilingConfig   `mapstructure:"profiling" yaml:"profiling"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Transport   TransportConfig   `mapstructure:"transport" yaml:"transport"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`

	// ShutdownTimeout bounds how long the server waits for in-flight
	// requests and the poll-group reactors to drain on SIGTERM/SIGINT.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// ControlSocket is the Unix socket path nvmfctl connects to for
	// introspection (nvmfctl subsystem/ctrlr/qpair list). Empty disables
	// the control listener, but ApplyDefaults replaces an empty value with
	// GetDefaultControlSocketPath(), so a Config returned by Load always
	// has one.
	ControlSocket string `mapstructure:"control_socket" yaml:"control_socket,omitempty"`

	Listeners  []ListenerConfig  `mapstructure:"listeners" validate:"required,min=1,dive" yaml:"listeners"`
	Subsystems []SubsystemConfig `mapstructure:"subsystems" validate:"required,min=1,dive" yaml:"subsystems"`
}

// ListenerConfig is one TCP address the transport binds as a Port.
type ListenerConfig struct {
	// Address is a "host:port" pair, e.g. "0.0.0.0:4420". Port 0 binds an
	// ephemeral port, mainly useful for tests.
	Address string `mapstructure:"address" validate:"required" yaml:"address"`
}

// SubsystemConfig describes one NVM subsystem the target exposes.
type SubsystemConfig struct {
	// NQN is the subsystem's NVMe Qualified Name.
	NQN string `mapstructure:"nqn" validate:"required" yaml:"nqn"`

	Serial string `mapstructure:"serial" validate:"required" yaml:"serial"`
	Model  string `mapstructure:"model" validate:"required" yaml:"model"`

	// Discovery marks this subsystem as a discovery controller target
	// rather than an NVM subsystem exposing namespaces.
	Discovery bool `mapstructure:"discovery" yaml:"discovery,omitempty"`

	// AllowAnyHost admits any host NQN; when false, only AllowedHosts may
	// connect.
	AllowAnyHost bool     `mapstructure:"allow_any_host" yaml:"allow_any_host"`
	AllowedHosts []string `mapstructure:"allowed_hosts" yaml:"allowed_hosts,omitempty"`

	ANAReporting bool `mapstructure:"ana_reporting" yaml:"ana_reporting,omitempty"`

	Namespaces []NamespaceConfig `mapstructure:"namespaces" validate:"dive" yaml:"namespaces"`
}

// NamespaceConfig describes one namespace's backing store. Exactly one of
// Memory or S3 is populated, selected by Backend, a "type" discriminator
// over a per-backend sub-struct.
type NamespaceConfig struct {
	NSID    uint32 `mapstructure:"nsid" validate:"required" yaml:"nsid"`
	Backend string `mapstructure:"backend" validate:"required,oneof=memory s3" yaml:"backend"`

	Memory *MemoryBackendConfig `mapstructure:"memory" yaml:"memory,omitempty"`
	S3     *S3BackendConfig     `mapstructure:"s3" yaml:"s3,omitempty"`
}

// MemoryBackendConfig configures an internal/nvmf/bdev.Memory namespace.
type MemoryBackendConfig struct {
	BlockSize  uint32 `mapstructure:"block_size" yaml:"block_size"`
	BlockCount uint64 `mapstructure:"block_count" yaml:"block_count"`
}

// S3BackendConfig configures an internal/nvmf/bdev/s3.Store namespace.
type S3BackendConfig struct {
	Bucket         string `mapstructure:"bucket" validate:"required" yaml:"bucket"`
	Region         string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	KeyPrefix      string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`

	ChunkSize  bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`
	BlockSize  uint32            `mapstructure:"block_size" yaml:"block_size"`
	BlockCount uint64            `mapstructure:"block_count" yaml:"block_count"`
}

// PersistenceConfig selects whether per-namespace reservation state
// survives a restart in a BadgerDB-backed registry instead of the default
// in-memory one.
type PersistenceConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true" yaml:"path,omitempty"`
}

// LoggingConfig controls internal/log's package-level logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls internal/telemetry's OTLP tracer.
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string  `mapstructure:"service_version" yaml:"service_version"`
	Endpoint       string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure       bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate     float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// ProfilingConfig controls internal/telemetry's Pyroscope profiler.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP exporter.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// TransportConfig mirrors internal/nvmf/transport.Options (§6.4), using
// bytesize.ByteSize for size fields so config files can write "128Ki"
// instead of a raw byte count.
type TransportConfig struct {
	MaxQueueDepth     uint32            `mapstructure:"max_queue_depth" validate:"required,gt=0" yaml:"max_queue_depth"`
	MaxQpairsPerCtrlr uint32            `mapstructure:"max_qpairs_per_ctrlr" validate:"required,gt=0" yaml:"max_qpairs_per_ctrlr"`
	MaxAqDepth        uint32            `mapstructure:"max_aq_depth" validate:"required,gt=0" yaml:"max_aq_depth"`
	InCapsuleDataSize bytesize.ByteSize `mapstructure:"in_capsule_data_size" yaml:"in_capsule_data_size"`
	MaxIOSize         bytesize.ByteSize `mapstructure:"max_io_size" validate:"required" yaml:"max_io_size"`
	IOUnitSize        bytesize.ByteSize `mapstructure:"io_unit_size" validate:"required" yaml:"io_unit_size"`
	NumSharedBuffers  uint32            `mapstructure:"num_shared_buffers" validate:"required,gt=0" yaml:"num_shared_buffers"`
	BufCacheSize      uint32            `mapstructure:"buf_cache_size" yaml:"buf_cache_size"`
	AbortTimeoutSec   uint32            `mapstructure:"abort_timeout_sec" yaml:"abort_timeout_sec"`
	C2HSuccess        bool              `mapstructure:"c2h_success" yaml:"c2h_success"`

	PollGroupCount   int    `mapstructure:"poll_group_count" validate:"required,gt=0" yaml:"poll_group_count"`
	SchedulingPolicy string `mapstructure:"scheduling_policy" validate:"required,oneof=round_robin host_ip transport_optimal" yaml:"scheduling_policy"`

	DefaultKATO           time.Duration `mapstructure:"default_kato" yaml:"default_kato"`
	DiscoveryKATO         time.Duration `mapstructure:"discovery_kato" yaml:"discovery_kato"`
	ShutdownTimeoutSec    uint32        `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
	CCTimeoutSec          uint32        `mapstructure:"cc_timeout_sec" yaml:"cc_timeout_sec"`
	AssociationTimeoutSec uint32        `mapstructure:"association_timeout_sec" yaml:"association_timeout_sec"`
}

// Load reads configuration from file, environment, and defaults, applying
// the same precedence order: env > file > defaults (CLI flags, the
// highest tier, are layered on afterward by cmd/nvmftcpd directly
// mutating the returned *Config). Environment variables override only keys
// that appear in the config file; when no config file is found,
// GetDefaultConfig() is returned and the environment is not consulted.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration, returning an actionable error (pointing at
// nvmfctl's init wizard) when no config file exists at all.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"initialize one first:\n"+
				"  nvmfctl config init\n\n"+
				"or point at an existing file:\n"+
				"  nvmftcpd start --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}
	return Load(configPath)
}

// SaveConfig writes cfg to path as YAML, creating parent directories as
// needed. Config files carry no secrets today, but 0600 costs nothing and
// matches the convention for anything under the config tree.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nvmftcpd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nvmftcpd")
}

// GetDefaultConfigPath returns the config file path Load uses when no
// explicit path is given.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at
// GetDefaultConfigPath.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir exposes the resolved config directory, e.g. for nvmfctl's
// init wizard to mkdir before writing the first config file.
func GetConfigDir() string {
	return getConfigDir()
}

func getStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "nvmftcpd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state", "nvmftcpd")
}

// GetDefaultControlSocketPath returns the Unix socket path the daemon
// binds and nvmfctl dials when cfg.ControlSocket isn't set explicitly.
func GetDefaultControlSocketPath() string {
	return filepath.Join(getStateDir(), "nvmftcpd.sock")
}

// GetDefaultPidFilePath returns the PID file path cmd/nvmftcpd's daemon
// mode writes to when --pid-file isn't given.
func GetDefaultPidFilePath() string {
	return filepath.Join(getStateDir(), "nvmftcpd.pid")
}
