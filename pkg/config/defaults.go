package config

import (
	"strings"
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/bytesize"
)

// ApplyDefaults fills unspecified fields with sensible defaults, the same
// "zero values get replaced, explicit values are preserved" strategy the
// the pkg/config/defaults.go documents.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyTransportDefaults(&cfg.Transport)
	applyPersistenceDefaults(&cfg.Persistence)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.ControlSocket == "" {
		cfg.ControlSocket = GetDefaultControlSocketPath()
	}

	for i := range cfg.Subsystems {
		applySubsystemDefaults(&cfg.Subsystems[i])
	}

	// No defaults for Listeners or Subsystems themselves: a target with no
	// bound address or no subsystem configured at all isn't runnable, so
	// Validate requires at least one of each rather than papering over it.
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "nvmftcpd"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "inuse_objects"}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyPersistenceDefaults(cfg *PersistenceConfig) {
	if cfg.Enabled && cfg.Path == "" {
		cfg.Path = "/var/lib/nvmftcpd/registry"
	}
}

// applyTransportDefaults mirrors internal/nvmf/transport.DefaultOptions,
// since TransportConfig is the config-file-shaped twin of Options.
func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.MaxQueueDepth == 0 {
		cfg.MaxQueueDepth = 128
	}
	if cfg.MaxQpairsPerCtrlr == 0 {
		cfg.MaxQpairsPerCtrlr = 128
	}
	if cfg.MaxAqDepth == 0 {
		cfg.MaxAqDepth = 128
	}
	if cfg.InCapsuleDataSize == 0 {
		cfg.InCapsuleDataSize = bytesize.ByteSize(4096)
	}
	if cfg.MaxIOSize == 0 {
		cfg.MaxIOSize = bytesize.ByteSize(131072)
	}
	if cfg.IOUnitSize == 0 {
		cfg.IOUnitSize = cfg.MaxIOSize
	}
	if cfg.NumSharedBuffers == 0 {
		cfg.NumSharedBuffers = 511
	}
	if cfg.BufCacheSize == 0 {
		cfg.BufCacheSize = 32
	}
	if cfg.AbortTimeoutSec == 0 {
		cfg.AbortTimeoutSec = 1
	}
	if cfg.PollGroupCount == 0 {
		cfg.PollGroupCount = 1
	}
	if cfg.SchedulingPolicy == "" {
		cfg.SchedulingPolicy = "round_robin"
	}
	if cfg.DefaultKATO == 0 {
		cfg.DefaultKATO = 10 * time.Second
	}
	if cfg.DiscoveryKATO == 0 {
		cfg.DiscoveryKATO = 120 * time.Second
	}
	if cfg.ShutdownTimeoutSec == 0 {
		cfg.ShutdownTimeoutSec = 15
	}
	if cfg.CCTimeoutSec == 0 {
		cfg.CCTimeoutSec = 10
	}
	if cfg.AssociationTimeoutSec == 0 {
		cfg.AssociationTimeoutSec = 120
	}
	// C2HSuccess's zero value (false) would silently disable an
	// optimization every compliant host implementation expects; unlike a
	// size or count, "unset" and "explicitly disabled" aren't
	// distinguishable through a bool zero value, so GetDefaultConfig sets
	// it explicitly instead of relying on this function.
}

func applySubsystemDefaults(cfg *SubsystemConfig) {
	for i := range cfg.Namespaces {
		ns := &cfg.Namespaces[i]
		if ns.Backend == "memory" && ns.Memory != nil && ns.Memory.BlockSize == 0 {
			ns.Memory.BlockSize = 512
		}
		if ns.Backend == "s3" && ns.S3 != nil {
			if ns.S3.BlockSize == 0 {
				ns.S3.BlockSize = 512
			}
			if ns.S3.ChunkSize == 0 {
				ns.S3.ChunkSize = bytesize.ByteSize(4 * 1024 * 1024)
			}
		}
	}
}

// GetDefaultConfig returns a complete, runnable default configuration: one
// in-memory namespace on one subsystem, listening on the well-known
// NVMe/TCP port. Used when Load finds no config file at all, and as the
// starting point for nvmfctl's `config init` wizard.
func GetDefaultConfig() *Config {
	cfg := &Config{
		ShutdownTimeout: 15 * time.Second,
		Listeners: []ListenerConfig{
			{Address: "0.0.0.0:4420"},
		},
		Subsystems: []SubsystemConfig{
			{
				NQN:          "nqn.2026-01.io.nvmftcpd:cnode1",
				Serial:       "NVMFTCPD0000001",
				Model:        "nvmftcpd",
				AllowAnyHost: true,
				ANAReporting: false,
				Namespaces: []NamespaceConfig{
					{
						NSID:    1,
						Backend: "memory",
						Memory: &MemoryBackendConfig{
							BlockSize:  512,
							BlockCount: 2097152, // 1GiB
						},
					},
				},
			},
		},
	}
	cfg.Transport.C2HSuccess = true
	ApplyDefaults(cfg)
	return cfg
}
