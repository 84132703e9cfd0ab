package transport

import (
	"sync"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/admin"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
	"github.com/nvmftcpd/nvmftcpd/pkg/metrics"
)

// Transport owns the poll groups, ports and subsystem registry that make up
// one running NVMe/TCP target, §4.7. Only its port/poll-group/subsystem
// bookkeeping needs a lock; per-qpair and per-controller state lives
// entirely on its owning poll group's goroutine.
type Transport struct {
	opts    Options
	metrics metrics.NVMfMetrics

	mu         sync.Mutex
	pollGroups []*PollGroup
	ports      []*Port
	subsystems map[string]subsystem.Subsystem

	controllerHomes  map[*ctrlr.Controller]*PollGroup
	controllerStops  map[*ctrlr.Controller]chan struct{}
	associationStops map[*ctrlr.Controller]chan struct{}
	nextCntlidVal    uint16
	rrNext           int
}

// NewTransport builds a Transport with opts.PollGroupCount poll-group
// goroutines already running (at least one).
func NewTransport(opts Options, m metrics.NVMfMetrics) *Transport {
	tr := &Transport{
		opts:             opts,
		metrics:          m,
		subsystems:       make(map[string]subsystem.Subsystem),
		controllerHomes:  make(map[*ctrlr.Controller]*PollGroup),
		controllerStops:  make(map[*ctrlr.Controller]chan struct{}),
		associationStops: make(map[*ctrlr.Controller]chan struct{}),
	}
	n := opts.PollGroupCount
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		pg := newPollGroup(i, tr)
		tr.pollGroups = append(tr.pollGroups, pg)
		go pg.run()
	}
	return tr
}

// AddSubsystem registers sub so Connect requests can target it by NQN.
func (tr *Transport) AddSubsystem(sub subsystem.Subsystem) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.subsystems[sub.NQN()] = sub
}

func (tr *Transport) findSubsystem(nqn string) subsystem.Subsystem {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.subsystems[nqn]
}

// Subsystems returns a snapshot of every registered subsystem, for
// introspection callers (nvmfctl subsystem list, nvmfctl ctrlr list).
func (tr *Transport) Subsystems() []subsystem.Subsystem {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]subsystem.Subsystem, 0, len(tr.subsystems))
	for _, sub := range tr.subsystems {
		out = append(out, sub)
	}
	return out
}

// Ports returns a snapshot of every bound listener, for introspection
// callers (nvmfctl qpair list needs each port's live qpair count).
func (tr *Transport) Ports() []*Port {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]*Port, len(tr.ports))
	copy(out, tr.ports)
	return out
}

// nextCntlid hands out controller IDs from a wrapping counter, skipping the
// reserved 0 and 0xffff (dynamic/static controller ID special values), §4.4.
func (tr *Transport) nextCntlid() uint16 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.nextCntlidVal++
	if tr.nextCntlidVal == 0 || tr.nextCntlidVal == 0xffff {
		tr.nextCntlidVal = 1
	}
	return tr.nextCntlidVal
}

func (tr *Transport) registerControllerHome(c *ctrlr.Controller, pg *PollGroup) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.controllerHomes[c] = pg
}

func (tr *Transport) homeOf(c *ctrlr.Controller) *PollGroup {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.controllerHomes[c]
}

func (tr *Transport) trackControllerStop(c *ctrlr.Controller, stop chan struct{}) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.controllerStops[c] = stop
}

// stopKeepAlive halts a controller's keep-alive ticker goroutine without
// dropping its poll-group home, used when the admin qpair closes but the
// controller's state is kept around for the association-timer grace period.
func (tr *Transport) stopKeepAlive(c *ctrlr.Controller) {
	tr.mu.Lock()
	stop := tr.controllerStops[c]
	delete(tr.controllerStops, c)
	tr.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (tr *Transport) trackAssociationStop(c *ctrlr.Controller, stop chan struct{}) {
	tr.mu.Lock()
	tr.associationStops[c] = stop
	tr.mu.Unlock()
}

// forgetControllerHome drops a torn-down controller's bookkeeping and stops
// its keep-alive and association timer goroutines.
func (tr *Transport) forgetControllerHome(c *ctrlr.Controller) {
	tr.mu.Lock()
	delete(tr.controllerHomes, c)
	stop := tr.controllerStops[c]
	delete(tr.controllerStops, c)
	assocStop := tr.associationStops[c]
	delete(tr.associationStops, c)
	tr.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if assocStop != nil {
		close(assocStop)
	}
}

// callOnController runs fn against c's state. If caller is already c's home
// poll group the call happens inline; otherwise fn is posted to the home
// poll group and callOnController blocks for its result. This is the only
// path by which an I/O qpair's poll group touches an admin controller that
// lives on a different poll group, §5.
func (tr *Transport) callOnController(c *ctrlr.Controller, caller *PollGroup, fn func() *status.Status) *status.Status {
	home := tr.homeOf(c)
	if home == nil || home == caller {
		return fn()
	}
	result := make(chan *status.Status, 1)
	home.Post(func() { result <- fn() })
	return <-result
}

// disconnectAllQpairs fans a controller teardown (CC disabled, shutdown
// notification, or keep-alive expiry) out to every poll group so each of
// the controller's qpairs is closed by its own owning goroutine. Always
// invoked from the controller's home poll group (via Controller.post), so
// posting back to that same poll group here is safe: Post never blocks.
func (tr *Transport) disconnectAllQpairs(c *ctrlr.Controller) {
	tr.mu.Lock()
	pgs := append([]*PollGroup{}, tr.pollGroups...)
	tr.mu.Unlock()

	for _, pg := range pgs {
		pg := pg
		pg.Post(func() {
			for qc := range pg.qpairs {
				if qc.ctrl == c {
					qc.close()
					pg.teardownQpair(qc)
				}
			}
		})
	}
}

// abortCommand implements admin.AbortHook: it looks for a parked async
// event request or an in-progress write awaiting R2T matching (sqid, cid)
// on every poll group, running the check inline for caller (to avoid
// self-deadlock) and via a blocking Post/response round trip for every
// other poll group.
func (tr *Transport) abortCommand(caller *PollGroup, sqid, cid uint16) bool {
	tr.mu.Lock()
	pgs := append([]*PollGroup{}, tr.pollGroups...)
	tr.mu.Unlock()

	for _, pg := range pgs {
		if pg == caller {
			if pg.tryAbort(sqid, cid) {
				return true
			}
			continue
		}
		result := make(chan bool, 1)
		pg := pg
		pg.Post(func() { result <- pg.tryAbort(sqid, cid) })
		if <-result {
			return true
		}
	}
	return false
}

func (tr *Transport) identifyOptions() admin.IdentifyOptions {
	return admin.IdentifyOptions{
		MaxIOSize:       tr.opts.MaxIOSize,
		MaxQueueDepth:   tr.opts.MaxQueueDepth,
		ANAReporting:    true,
		FirmwareVersion: "1.0.0",
	}
}

// pickPollGroup assigns a freshly accepted connection to a poll group per
// the configured SchedulingPolicy, §4.7. PolicyTransportOptimal has no
// TCP-specific locality signal to exploit over plain round robin, so it
// falls back to it.
func (tr *Transport) pickPollGroup(remoteAddr string) *PollGroup {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.opts.SchedulingPolicy == PolicyHostIP {
		if idx, ok := hostIPIndex(remoteAddr, len(tr.pollGroups)); ok {
			return tr.pollGroups[idx]
		}
	}
	pg := tr.pollGroups[tr.rrNext%len(tr.pollGroups)]
	tr.rrNext++
	return pg
}

// Stop closes every listening port, then stops each poll group; closures
// still queued in a poll group's inbox are not run. Structured like the
// gracefulShutdown/forceCloseConnections
// sequence generalized to poll groups instead of per-connection goroutines.
func (tr *Transport) Stop() {
	tr.mu.Lock()
	ports := append([]*Port{}, tr.ports...)
	pgs := append([]*PollGroup{}, tr.pollGroups...)
	tr.mu.Unlock()

	for _, p := range ports {
		if err := p.Close(); err != nil {
			log.Debug("port close error", "addr", p.addr, "error", err)
		}
	}
	for _, pg := range pgs {
		pg.stop()
	}
}
