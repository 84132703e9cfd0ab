package subsystem

import (
	"fmt"
	"sync"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
)

// MemNamespace is an in-memory reference Namespace, holding reservation
// state behind its own mutex since it is consulted concurrently by every
// I/O qpair bound to the owning subsystem.
type MemNamespace struct {
	nsid       uint32
	dev        bdev.BlockDevice
	eui64      [8]byte
	nguid      [16]byte
	uuid       [16]byte
	anaGroupID uint32

	mu          sync.Mutex
	registered  map[[16]byte]uint64
	holder      [16]byte
	holderValid bool
	rtype       ReservationType
}

// NewMemNamespace creates a namespace backed by dev, identified by nsid.
func NewMemNamespace(nsid uint32, dev bdev.BlockDevice) *MemNamespace {
	return &MemNamespace{
		nsid:       nsid,
		dev:        dev,
		anaGroupID: 1,
		registered: make(map[[16]byte]uint64),
	}
}

func (n *MemNamespace) NSID() uint32                { return n.nsid }
func (n *MemNamespace) BlockDevice() bdev.BlockDevice { return n.dev }
func (n *MemNamespace) EUI64() [8]byte              { return n.eui64 }
func (n *MemNamespace) NGUID() [16]byte             { return n.nguid }
func (n *MemNamespace) UUID() [16]byte              { return n.uuid }
func (n *MemNamespace) ANAGroupID() uint32          { return n.anaGroupID }

// SetIdentity lets a registry builder assign EUI64/NGUID/UUID/ANA group
// after construction, mirroring how Identify Namespace fields are usually
// populated from configuration rather than computed.
func (n *MemNamespace) SetIdentity(eui64 [8]byte, nguid [16]byte, uuid [16]byte, anaGroupID uint32) {
	n.eui64 = eui64
	n.nguid = nguid
	n.uuid = uuid
	n.anaGroupID = anaGroupID
}

func (n *MemNamespace) ReservationHolder() (hostID [16]byte, rtype ReservationType, held bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.holder, n.rtype, n.holderValid
}

func (n *MemNamespace) RegisteredHosts() map[[16]byte]uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[[16]byte]uint64, len(n.registered))
	for k, v := range n.registered {
		out[k] = v
	}
	return out
}

func (n *MemNamespace) Register(hostID [16]byte, key uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registered[hostID] = key
}

func (n *MemNamespace) Unregister(hostID [16]byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.registered, hostID)
	if n.holderValid && n.holder == hostID {
		n.holderValid = false
	}
}

// Acquire grants hostID the reservation if none is held, or if the
// existing holder is the same host (re-acquire with a new type is
// permitted, matching the Reservation Acquire "acquire" action).
func (n *MemNamespace) Acquire(hostID [16]byte, rtype ReservationType) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.registered[hostID]; !ok {
		return status.New(status.SCTGeneric, status.SCReservationConflict, "host is not registered")
	}
	if n.holderValid && n.holder != hostID {
		return status.New(status.SCTGeneric, status.SCReservationConflict, "namespace already reserved")
	}
	n.holder = hostID
	n.rtype = rtype
	n.holderValid = true
	return nil
}

func (n *MemNamespace) Release(hostID [16]byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.holderValid && n.holder == hostID {
		n.holderValid = false
	}
}

// MemSubsystem is an in-memory reference Subsystem used by tests and by
// the default standalone server configuration.
type MemSubsystem struct {
	nqn          string
	serial       string
	model        string
	subtype      SubsystemType
	state        SubsystemState
	anaReporting bool

	mu         sync.RWMutex
	namespaces map[uint32]Namespace
	anaGroups  []ANAGroup
	hosts      map[string]bool // nil map + allowAny = any-host mode
	allowAny   bool
	listeners  []TransportID

	controllers map[uint16]*ctrlr.Controller
}

// NewMemSubsystem creates an active subsystem with no attached namespaces
// or host restrictions (any host may connect, matching an NQN with no
// explicit allowed-host list configured).
func NewMemSubsystem(nqn, serial, model string, subtype SubsystemType) *MemSubsystem {
	return &MemSubsystem{
		nqn:        nqn,
		serial:     serial,
		model:      model,
		subtype:    subtype,
		state:      StateActive,
		namespaces:  make(map[uint32]Namespace),
		allowAny:    true,
		anaGroups:   []ANAGroup{{GroupID: 1, State: ANAOptimized}},
		controllers: make(map[uint16]*ctrlr.Controller),
	}
}

func (s *MemSubsystem) NQN() string                 { return s.nqn }
func (s *MemSubsystem) SerialNumber() string        { return s.serial }
func (s *MemSubsystem) ModelNumber() string         { return s.model }
func (s *MemSubsystem) Subtype() SubsystemType      { return s.subtype }
func (s *MemSubsystem) State() SubsystemState       { return s.state }
func (s *MemSubsystem) ANAReporting() bool          { return s.anaReporting }

func (s *MemSubsystem) SetANAReporting(enabled bool) { s.anaReporting = enabled }

func (s *MemSubsystem) SetState(state SubsystemState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *MemSubsystem) MaxNSID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max uint32
	for nsid := range s.namespaces {
		if nsid > max {
			max = nsid
		}
	}
	return max
}

func (s *MemSubsystem) ANAGroups() []ANAGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ANAGroup, len(s.anaGroups))
	copy(out, s.anaGroups)
	return out
}

// SetANAGroupState transitions one group's state, e.g. in response to an
// administrative failover.
func (s *MemSubsystem) SetANAGroupState(groupID uint32, state ANAState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.anaGroups {
		if s.anaGroups[i].GroupID == groupID {
			s.anaGroups[i].State = state
			return nil
		}
	}
	return fmt.Errorf("subsystem: unknown ANA group %d", groupID)
}

func (s *MemSubsystem) FindNamespace(nsid uint32) (Namespace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[nsid]
	return ns, ok
}

func (s *MemSubsystem) IterateNamespaces(fn func(Namespace) bool) {
	s.mu.RLock()
	nss := make([]Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		nss = append(nss, ns)
	}
	s.mu.RUnlock()
	for _, ns := range nss {
		if !fn(ns) {
			return
		}
	}
}

// AddNamespace attaches ns at its own NSID, rejecting a second namespace
// using the same NSID.
func (s *MemSubsystem) AddNamespace(ns Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.namespaces[ns.NSID()]; exists {
		return fmt.Errorf("subsystem: nsid %d already attached", ns.NSID())
	}
	s.namespaces[ns.NSID()] = ns
	return nil
}

func (s *MemSubsystem) RemoveNamespace(nsid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, nsid)
}

func (s *MemSubsystem) HostAllowed(hostNQN string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.allowAny {
		return true
	}
	return s.hosts[hostNQN]
}

// SetAllowedHosts restricts Connect admission to exactly this set of host
// NQNs, matching an explicit "allow_any_host: false" subsystem config.
func (s *MemSubsystem) SetAllowedHosts(nqns []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowAny = false
	s.hosts = make(map[string]bool, len(nqns))
	for _, n := range nqns {
		s.hosts[n] = true
	}
}

func (s *MemSubsystem) AddListener(trid TransportID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, trid)
}

func (s *MemSubsystem) ListenerAllowed(trid TransportID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.listeners) == 0 {
		return true
	}
	for _, l := range s.listeners {
		if l == trid {
			return true
		}
	}
	return false
}

// AddController registers c under its cntlid, rejecting a cntlid collision
// (the dynamic-cntlid allocator in the admin package is responsible for
// never generating one).
func (s *MemSubsystem) AddController(c *ctrlr.Controller) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.controllers[c.CNTLID]; exists {
		return fmt.Errorf("subsystem: cntlid %d already in use", c.CNTLID)
	}
	s.controllers[c.CNTLID] = c
	return nil
}

func (s *MemSubsystem) GetController(cntlid uint16) (*ctrlr.Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.controllers[cntlid]
	return c, ok
}

// RemoveController drops cntlid's registration, freeing it for reuse by the
// dynamic-cntlid allocator.
func (s *MemSubsystem) RemoveController(cntlid uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.controllers, cntlid)
}

// IterateControllers visits a snapshot of the controller map so fn is free
// to call back into the subsystem (e.g. RemoveController) without
// deadlocking on s.mu.
func (s *MemSubsystem) IterateControllers(fn func(cntlid uint16, c *ctrlr.Controller) bool) {
	s.mu.RLock()
	snapshot := make(map[uint16]*ctrlr.Controller, len(s.controllers))
	for id, c := range s.controllers {
		snapshot[id] = c
	}
	s.mu.RUnlock()

	for id, c := range snapshot {
		if !fn(id, c) {
			return
		}
	}
}

var (
	_ Namespace = (*MemNamespace)(nil)
	_ Subsystem = (*MemSubsystem)(nil)
)
