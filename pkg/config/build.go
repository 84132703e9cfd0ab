package config

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev/s3"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
	badgersubsystem "github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem/badger"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/transport"
	"github.com/nvmftcpd/nvmftcpd/pkg/metrics"
)

// BuildTransport wires a *transport.Transport from cfg: one poll-group set
// sized per cfg.Transport, every cfg.Subsystems entry registered with its
// namespaces attached to the backend cfg.Namespaces.Backend names,
// optionally backed by a persistent BadgerDB registry. Mirrors the
// the config.InitializeRegistry: construct each collaborator and register
// it, erroring out on the first failure. cfg is not validated here.
//
// The returned closer releases the persistent registry's BadgerDB handle
// (a no-op when persistence is disabled) and must be called after
// tr.Stop() during shutdown.
func BuildTransport(ctx context.Context, cfg *Config, m metrics.NVMfMetrics) (tr *transport.Transport, closer func() error, err error) {
	opts, err := transportOptions(cfg.Transport)
	if err != nil {
		return nil, nil, err
	}
	tr = transport.NewTransport(opts, m)
	closer = func() error { return nil }

	var store *badgersubsystem.Store
	if cfg.Persistence.Enabled {
		store, err = badgersubsystem.Open(cfg.Persistence.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("config: open persistent registry: %w", err)
		}
		closer = store.Close
	}

	for _, subCfg := range cfg.Subsystems {
		sub, err := buildSubsystem(ctx, store, subCfg)
		if err != nil {
			_ = closer()
			return nil, nil, fmt.Errorf("config: subsystem %q: %w", subCfg.NQN, err)
		}
		tr.AddSubsystem(sub)
	}
	return tr, closer, nil
}

func transportOptions(cfg TransportConfig) (transport.Options, error) {
	policy, err := parseSchedulingPolicy(cfg.SchedulingPolicy)
	if err != nil {
		return transport.Options{}, err
	}
	return transport.Options{
		MaxQueueDepth:         cfg.MaxQueueDepth,
		MaxQpairsPerCtrlr:     cfg.MaxQpairsPerCtrlr,
		MaxAqDepth:            cfg.MaxAqDepth,
		InCapsuleDataSize:     uint32(cfg.InCapsuleDataSize),
		MaxIOSize:             uint32(cfg.MaxIOSize),
		IOUnitSize:            uint32(cfg.IOUnitSize),
		NumSharedBuffers:      cfg.NumSharedBuffers,
		BufCacheSize:          cfg.BufCacheSize,
		AbortTimeoutSec:       cfg.AbortTimeoutSec,
		C2HSuccess:            cfg.C2HSuccess,
		PollGroupCount:        cfg.PollGroupCount,
		SchedulingPolicy:      policy,
		DefaultKATO:           cfg.DefaultKATO,
		DiscoveryKATO:         cfg.DiscoveryKATO,
		ShutdownTimeoutSec:    cfg.ShutdownTimeoutSec,
		CCTimeoutSec:          cfg.CCTimeoutSec,
		AssociationTimeoutSec: cfg.AssociationTimeoutSec,
	}, nil
}

func parseSchedulingPolicy(s string) (transport.SchedulingPolicy, error) {
	switch s {
	case "round_robin", "":
		return transport.PolicyRoundRobin, nil
	case "host_ip":
		return transport.PolicyHostIP, nil
	case "transport_optimal":
		return transport.PolicyTransportOptimal, nil
	default:
		return 0, fmt.Errorf("config: unknown scheduling_policy %q", s)
	}
}

func buildSubsystem(ctx context.Context, store *badgersubsystem.Store, cfg SubsystemConfig) (subsystem.Subsystem, error) {
	subtype := subsystem.SubsystemTypeNVMe
	if cfg.Discovery {
		subtype = subsystem.SubsystemTypeDiscovery
	}

	var sub interface {
		subsystem.Subsystem
		attachNamespace(nsid uint32, dev bdev.BlockDevice) error
	}

	if store != nil {
		persistent, err := badgersubsystem.OpenSubsystem(store, cfg.NQN, cfg.Serial, cfg.Model, subtype)
		if err != nil {
			return nil, err
		}
		sub = badgerAdapter{persistent}
	} else {
		sub = memAdapter{subsystem.NewMemSubsystem(cfg.NQN, cfg.Serial, cfg.Model, subtype)}
	}

	// Both adapters embed *subsystem.MemSubsystem, which provides these
	// setters regardless of whether the registry is persistent.
	if configurable, ok := sub.(interface {
		SetANAReporting(bool)
		SetAllowedHosts([]string)
	}); ok {
		configurable.SetANAReporting(cfg.ANAReporting)
		if !cfg.AllowAnyHost {
			configurable.SetAllowedHosts(cfg.AllowedHosts)
		}
	}

	for _, nsCfg := range cfg.Namespaces {
		dev, err := buildBlockDevice(ctx, nsCfg)
		if err != nil {
			return nil, fmt.Errorf("namespace %d: %w", nsCfg.NSID, err)
		}
		if err := sub.attachNamespace(nsCfg.NSID, dev); err != nil {
			return nil, fmt.Errorf("namespace %d: %w", nsCfg.NSID, err)
		}
	}
	return sub, nil
}

// memAdapter and badgerAdapter give buildSubsystem a uniform
// attachNamespace entry point over the two registry implementations,
// since MemSubsystem.AddNamespace takes a pre-built Namespace while
// badger.Subsystem.AttachNamespace builds and persists one itself.
type memAdapter struct{ *subsystem.MemSubsystem }

func (m memAdapter) attachNamespace(nsid uint32, dev bdev.BlockDevice) error {
	ns := subsystem.NewMemNamespace(nsid, dev)
	ns.SetIdentity(eui64For(nsid), nguidFor(nsid), uuidFor(nsid), 1)
	return m.AddNamespace(ns)
}

type badgerAdapter struct{ *badgersubsystem.Subsystem }

func (b badgerAdapter) attachNamespace(nsid uint32, dev bdev.BlockDevice) error {
	_, err := b.AttachNamespace(nsid, dev)
	return err
}

func buildBlockDevice(ctx context.Context, cfg NamespaceConfig) (bdev.BlockDevice, error) {
	switch cfg.Backend {
	case "memory":
		if cfg.Memory == nil {
			return nil, fmt.Errorf("backend is memory but no memory config given")
		}
		return bdev.NewMemory(cfg.Memory.BlockCount, cfg.Memory.BlockSize), nil
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("backend is s3 but no s3 config given")
		}
		s3Cfg := s3.Config{
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			KeyPrefix:      cfg.S3.KeyPrefix,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			ChunkSize:      uint32(cfg.S3.ChunkSize),
			BlockSize:      cfg.S3.BlockSize,
			BlockCount:     cfg.S3.BlockCount,
		}
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return s3.NewFromConfig(dialCtx, s3Cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// eui64For/nguidFor/uuidFor derive stable per-namespace identifiers from
// the configured nsid, so Identify Namespace responses are reproducible
// across restarts even for in-memory namespaces that have no other
// natural identity source.
func eui64For(nsid uint32) [8]byte {
	var b [8]byte
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("nvmftcpd-eui64-%d", nsid)))
	copy(b[:], u[:8])
	return b
}

func nguidFor(nsid uint32) [16]byte {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("nvmftcpd-nguid-%d", nsid)))
}

func uuidFor(nsid uint32) [16]byte {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("nvmftcpd-uuid-%d", nsid)))
}
