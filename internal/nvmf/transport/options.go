package transport

import (
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
)

// SchedulingPolicy selects how the acceptor assigns a newly accepted
// connection to a poll group, §4.7.
type SchedulingPolicy int

const (
	PolicyRoundRobin SchedulingPolicy = iota
	PolicyHostIP
	PolicyTransportOptimal
)

// Options is the full set of transport options enumerated in §6.4, plus
// the Go-specific poll-group/keep-alive knobs the reactor needs that the
// reference implementation derives from its thread/core count instead.
type Options struct {
	MaxQueueDepth     uint32
	MaxQpairsPerCtrlr uint32
	MaxAqDepth        uint32
	InCapsuleDataSize uint32
	MaxIOSize         uint32
	IOUnitSize        uint32
	NumSharedBuffers  uint32
	BufCacheSize      uint32
	DIFInsertOrStrip  bool
	AbortTimeoutSec   uint32
	SockPriority      uint8
	C2HSuccess        bool
	ControlMsgNum     uint32

	PollGroupCount   int
	SchedulingPolicy SchedulingPolicy

	// DefaultKATO is used for a Connect to a non-discovery subsystem that
	// requests kato==0; discovery controllers fall back to DiscoveryKATO.
	DefaultKATO           time.Duration
	DiscoveryKATO         time.Duration
	ShutdownTimeoutSec    uint32
	CCTimeoutSec          uint32
	AssociationTimeoutSec uint32
}

// DefaultOptions returns the §6.4-enumerated defaults plus this
// implementation's poll-group/timer knobs.
func DefaultOptions() Options {
	return Options{
		MaxQueueDepth:         128,
		MaxQpairsPerCtrlr:     128,
		MaxAqDepth:            128,
		InCapsuleDataSize:     4096,
		MaxIOSize:             131072,
		IOUnitSize:            131072,
		NumSharedBuffers:      511,
		BufCacheSize:          32,
		DIFInsertOrStrip:      false,
		AbortTimeoutSec:       1,
		SockPriority:          0,
		C2HSuccess:            true,
		ControlMsgNum:         32,
		PollGroupCount:        1,
		SchedulingPolicy:      PolicyRoundRobin,
		DefaultKATO:           10 * time.Second,
		DiscoveryKATO:         120 * time.Second,
		ShutdownTimeoutSec:    15,
		CCTimeoutSec:          10,
		AssociationTimeoutSec: 120,
	}
}

// ctrlrOptions narrows Options to the subset ctrlr.NewAdminController needs.
func (o Options) ctrlrOptions() ctrlr.Options {
	return ctrlr.Options{
		MaxQueueDepth:     o.MaxQueueDepth,
		MaxQpairsPerCtrlr: o.MaxQpairsPerCtrlr,
		MaxAqDepth:        o.MaxAqDepth,
		InCapsuleDataSize: o.InCapsuleDataSize,
		MaxIOSize:         o.MaxIOSize,
		AbortTimeoutSec:   o.AbortTimeoutSec,
	}
}
