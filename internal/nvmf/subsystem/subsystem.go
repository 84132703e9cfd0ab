// Package subsystem defines the Subsystem/Namespace collaborator
// interfaces a controller session is bound against, plus an in-memory
// reference registry. Subsystem state is consulted from goroutines other
// than its own (I/O qpairs issuing reservation commands against an admin
// qpair's subsystem), so every registry method is safe for concurrent use
// and reservation state is guarded by its own mutex rather than shared with
// the owning poll group's state.
package subsystem

import (
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
)

// SubsystemType distinguishes a discovery controller target from an NVM
// subsystem exposing namespaces.
type SubsystemType int

const (
	SubsystemTypeNVMe SubsystemType = iota
	SubsystemTypeDiscovery
)

// SubsystemState models the pause/resume lifecycle a subsystem goes
// through while namespaces are being attached or detached.
type SubsystemState int

const (
	StateInactive SubsystemState = iota
	StateActivating
	StateActive
	StatePausing
	StatePaused
	StateResuming
	StateDeactivating
)

func (s SubsystemState) String() string {
	switch s {
	case StateInactive:
		return "INACTIVE"
	case StateActivating:
		return "ACTIVATING"
	case StateActive:
		return "ACTIVE"
	case StatePausing:
		return "PAUSING"
	case StatePaused:
		return "PAUSED"
	case StateResuming:
		return "RESUMING"
	case StateDeactivating:
		return "DEACTIVATING"
	default:
		return "UNKNOWN"
	}
}

// ANAState is the per-namespace, per-group asymmetric access state.
type ANAState int

const (
	ANAOptimized ANAState = iota
	ANANonOptimized
	ANAInaccessible
	ANAPersistentLoss
	ANAChange
)

func (s ANAState) String() string {
	switch s {
	case ANAOptimized:
		return "OPTIMIZED"
	case ANANonOptimized:
		return "NON_OPTIMIZED"
	case ANAInaccessible:
		return "INACCESSIBLE"
	case ANAPersistentLoss:
		return "PERSISTENT_LOSS"
	case ANAChange:
		return "CHANGE"
	default:
		return "UNKNOWN"
	}
}

// ANAGroup is one asymmetric-access group; namespaces are assigned to a
// group id, and the group's state applies uniformly to its members.
type ANAGroup struct {
	GroupID uint32
	State   ANAState
}

// TransportID identifies a listener a host connected through, used for
// listener admission checks on Connect.
type TransportID struct {
	AddressFamily string // "ipv4" | "ipv6"
	Address       string
	ServiceID     string // port
}

// ReservationType mirrors the NVMe Reservation Type field.
type ReservationType uint8

const (
	ReservationWriteExclusive ReservationType = 1
	ReservationExclusiveAccess ReservationType = 3
	ReservationWriteExclusiveRegsOnly ReservationType = 5
	ReservationExclusiveAccessRegsOnly ReservationType = 6
	ReservationWriteExclusiveAllRegs ReservationType = 7
	ReservationExclusiveAccessAllRegs ReservationType = 8
)

// Namespace is one addressable logical unit within a subsystem.
type Namespace interface {
	NSID() uint32
	BlockDevice() bdev.BlockDevice
	EUI64() [8]byte
	NGUID() [16]byte
	UUID() [16]byte
	ANAGroupID() uint32

	// Reservation state, consulted by internal/nvmf/io before admitting a
	// Read/Write/Compare/Flush/WriteZeroes/DatasetManagement command.
	ReservationHolder() (hostID [16]byte, rtype ReservationType, held bool)
	RegisteredHosts() map[[16]byte]uint64 // hostID -> registration key
	Register(hostID [16]byte, key uint64)
	Unregister(hostID [16]byte)
	Acquire(hostID [16]byte, rtype ReservationType) error
	Release(hostID [16]byte)
}

// Subsystem is the collaborator a Controller's admission and admin-command
// logic is bound against.
type Subsystem interface {
	NQN() string
	SerialNumber() string
	ModelNumber() string
	Subtype() SubsystemType
	State() SubsystemState
	MaxNSID() uint32
	ANAReporting() bool
	ANAGroups() []ANAGroup

	FindNamespace(nsid uint32) (Namespace, bool)
	IterateNamespaces(fn func(Namespace) bool)

	HostAllowed(hostNQN string) bool
	ListenerAllowed(trid TransportID) bool

	// AddController registers a freshly connected admin controller against
	// this subsystem (§4.4's "post a subsystemAddController message"); it
	// is how a later I/O qpair's Connect, or the Abort/async-event admin
	// paths, look a controller back up by cntlid.
	AddController(c *ctrlr.Controller) error
	GetController(cntlid uint16) (*ctrlr.Controller, bool)

	// RemoveController drops a controller's cntlid registration once its
	// association has been torn down for good (shutdown complete and the
	// association timer has expired with no reconnect).
	RemoveController(cntlid uint16)

	// IterateControllers visits every currently registered controller in
	// no particular order, stopping early if fn returns false. Used by
	// introspection callers (nvmfctl ctrlr list) that have no other way
	// to enumerate cntlids.
	IterateControllers(fn func(cntlid uint16, c *ctrlr.Controller) bool)
}
