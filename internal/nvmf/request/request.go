package request

import (
	"fmt"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/pdu"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
)

// XferDirection classifies the data movement direction computed from the
// decoded command's opcode at the NEW -> NEED_BUFFER transition.
type XferDirection int

const (
	XferNone XferDirection = iota
	XferHostToController
	XferControllerToHost
)

// BufferSource records which of the buffer resolution rules in §4.3 was
// used to satisfy NEED_BUFFER, mainly for observability/testing.
type BufferSource int

const (
	BufferNone BufferSource = iota
	BufferZeroCopy
	BufferSharedPool
	BufferInCapsule
	BufferControlMessage
)

// Request (tcp_req) tracks one NVMe command from capsule arrival through
// completion. A Request is owned exclusively by its qpair's poll-group
// goroutine; nothing outside that goroutine may call SetState or mutate
// its fields.
type Request struct {
	QID  uint16
	TTag uint16 // transfer tag, unique among live requests on this qpair

	Cmd nvme.Command
	CQE nvme.Completion

	state State

	Dir        XferDirection
	BufSrc     BufferSource
	IOVs       [][]byte
	SGL        pdu.SGL
	H2COffset  uint32 // bytes of host-to-controller data received so far
	RWOffset   uint32 // bdev progress offset, for partial-completion bookkeeping
	Length     uint32 // total data transfer length for this command

	Fused        bool
	FirstFused   *Request // set on the Write half of a fused pair, pointing at the parked Compare

	RespStatus *status.Status // nil means success
	ZcopyBuf   []byte
}

// New allocates a Request in the FREE state. The qpair's request pool
// constructs one per resource slot at startup and recycles it via Reset.
func New(qid uint16) *Request {
	return &Request{QID: qid, state: StateFree}
}

func (r *Request) State() State { return r.state }

// SetState validates and applies a transition, logging it at debug level.
// An illegal edge is a programmer error (a bug in the calling dispatch
// logic, not a protocol violation from the host) and is returned as an
// error rather than silently applied.
func (r *Request) SetState(to State) error {
	if !CanTransition(r.state, to) {
		return &TransitionError{From: r.state, To: to}
	}
	log.Debug("request state transition", "qid", r.QID, "ttag", r.TTag, "cid", r.Cmd.CID, "from", r.state.String(), "to", to.String())
	r.state = to
	return nil
}

// Reset returns the Request to FREE, clearing all per-command state so
// the slot is safe to reuse for the next capsule.
func (r *Request) Reset() {
	*r = Request{QID: r.QID, state: StateFree}
}

// Allocate transitions FREE -> NEW, binding the newly decoded command.
func (r *Request) Allocate(cmd nvme.Command) error {
	if err := r.SetState(StateNew); err != nil {
		return err
	}
	r.Cmd = cmd
	r.CQE = nvme.Completion{CID: cmd.CID}
	if cmd.IsWrite() {
		r.Dir = XferHostToController
	} else if cmd.IsRead() {
		r.Dir = XferControllerToHost
	} else {
		r.Dir = XferNone
	}
	r.Length = cmd.SGLLength
	return nil
}

// Fail records a non-success status and advances to EXECUTED, matching
// the spec's "Success or failure recorded" entry condition. Every
// non-terminal state has a direct failure edge to EXECUTED (see
// validEdges), so this never needs to bypass SetState.
func (r *Request) Fail(st *status.Status) error {
	r.RespStatus = st
	if r.state == StateExecuted {
		return nil
	}
	return r.SetState(StateExecuted)
}

// Succeed records success (zeroed CQE status) and advances to EXECUTED.
func (r *Request) Succeed() error {
	r.RespStatus = nil
	if r.state == StateExecuted {
		return nil
	}
	return r.SetState(StateExecuted)
}

// Pool is a fixed-size, per-qpair set of Request slots indexed by ttag: a
// pre-sized per-connection resource pool (alongside pkg/bufpool's tiered
// free lists) rather than per-command allocation, so a busy qpair never
// pressures the garbage collector.
type Pool struct {
	slots []*Request
	free  []uint16
}

// NewPool allocates resourceCount Request slots, all initially FREE with
// ttags 0..resourceCount-1.
func NewPool(qid uint16, resourceCount int) *Pool {
	p := &Pool{slots: make([]*Request, resourceCount), free: make([]uint16, resourceCount)}
	for i := 0; i < resourceCount; i++ {
		r := New(qid)
		r.TTag = uint16(i)
		p.slots[i] = r
		p.free[i] = uint16(i)
	}
	return p
}

// Claim removes a Request from the free list, or reports ok=false if the
// qpair's resource_count requests are all in flight.
func (p *Pool) Claim() (*Request, bool) {
	if len(p.free) == 0 {
		return nil, false
	}
	ttag := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return p.slots[ttag], true
}

// Release returns r to the free list after it reaches COMPLETED, rolling
// it back to FREE.
func (p *Pool) Release(r *Request) error {
	if r.state != StateCompleted {
		return fmt.Errorf("request: cannot release ttag %d from state %s", r.TTag, r.state)
	}
	if err := r.SetState(StateFree); err != nil {
		return err
	}
	r.Reset()
	p.free = append(p.free, r.TTag)
	return nil
}

// InFlight reports how many slots are currently claimed.
func (p *Pool) InFlight() int { return len(p.slots) - len(p.free) }

// Capacity is the qpair's configured resource_count.
func (p *Pool) Capacity() int { return len(p.slots) }
