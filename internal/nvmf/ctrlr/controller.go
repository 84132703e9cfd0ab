package ctrlr

import (
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
)

// Options is the subset of transport options (§6.4) the controller
// admission path needs; the transport package owns the full set and passes
// this view down at Connect time.
type Options struct {
	MaxQueueDepth     uint32
	MaxQpairsPerCtrlr uint32
	MaxAqDepth        uint32
	InCapsuleDataSize uint32
	MaxIOSize         uint32
	AbortTimeoutSec   uint32
}

// CData is the controller-data snapshot computed at Connect time and
// reused by the admin package's Identify CNS=1 response, §4.4.
type CData struct {
	OUI        [3]byte
	KASUnits   uint16 // Keep Alive Support, 100ms units
	AERL       uint8
	SGLKeyedOffset bool
	IOCCSZ     uint32 // (sizeof(nvme_cmd)+icd)/16
	IORCSZ     uint32 // sizeof(nvme_cpl)/16
	ICDOFF     uint16
	MSDBD      uint8
}

// NewCData computes the cdata snapshot for a freshly connected controller.
func NewCData(opts Options) CData {
	const nvmeCmdLen = 64
	const nvmeCplLen = 16
	return CData{
		OUI:            [3]byte{0xE4, 0xD2, 0x5C},
		KASUnits:       1, // 100ms units; KATO itself lives on the controller
		AERL:           3,
		SGLKeyedOffset: true,
		IOCCSZ:         (nvmeCmdLen + opts.InCapsuleDataSize) / 16,
		IORCSZ:         nvmeCplLen / 16,
		ICDOFF:         0,
		MSDBD:          1,
	}
}

// FeatureBlock holds the Get/Set Features-addressable controller state,
// §3.1's "feature block" entity.
type FeatureBlock struct {
	Arbitration        uint32
	PowerManagementPS  uint32
	TemperatureThreshold uint32
	ErrorRecoveryDULBE bool
	VolatileWriteCache bool
	NumberOfQueues     uint32 // packed (nsqr<<16)|ncqr, fixed at Connect time
	InterruptCoalescing uint32
	InterruptVectorConf uint32
	WriteAtomicityDisableNormal bool
	AsyncEventConfig   uint32
	KeepAliveTimeoutMs uint32
	HostIdentifier     [16]byte
	ReservationPersist bool
	ACRE               bool
}

// AsyncEvent is a queued async-event value awaiting delivery to the next
// outstanding Async Event Request.
type AsyncEvent struct {
	CDW0 uint32
	Kind string // "ns_attr" | "ana_change" | "reservation_log_avail" | "discovery_log_change" | "error"
}

const maxOutstandingAER = 4

// Controller is one host<->subsystem association. Owned by its admin
// qpair's poll-group goroutine; all field mutation happens there. I/O
// qpairs on other goroutines interact with it only via the message-passing
// hook installed through SetPostFunc.
type Controller struct {
	CNTLID uint16

	QpairMask []bool // size max_qpairs_per_ctrlr; bit per qid

	Registers RegisterBar
	Features  FeatureBlock
	CData     CData

	HostNQN string
	HostID  [16]byte
	SubNQN  string

	pendingEvents    []AsyncEvent
	outstandingAERs  []uint16 // CIDs of queued Async Event Request commands
	aenMask          map[string]bool

	lastKeepAliveTick time.Time
	kato              time.Duration

	opts Options

	// postFunc delivers a closure to the owning poll group's goroutine;
	// tests supply a synchronous implementation. nil means "run inline",
	// which is also correct when called from the owning goroutine itself.
	postFunc func(func())

	// OnDisconnectQpairs is invoked (via postFunc) to fan out a qpair
	// teardown across all poll groups holding this controller's qpairs.
	OnDisconnectQpairs func(c *Controller)

	// OnCCTransition is invoked whenever CC.EN is cleared or CC.SHN is set,
	// so the owning poll group can arm the 10s cc-timeout poller that
	// bounds the reset/shutdown fan-out.
	OnCCTransition func(c *Controller)
}

// NewAdminController builds a fresh Controller for a Fabrics Connect on
// qid=0, per §4.4's admin-Connect rules. The subsystem and host/listener
// admission checks happen in the caller (the admin package), since they
// need the Subsystem collaborator; this constructor only builds state.
func NewAdminController(cntlid uint16, opts Options, data ConnectData, kato time.Duration, now time.Time) *Controller {
	c := &Controller{
		CNTLID:            cntlid,
		QpairMask:         make([]bool, opts.MaxQpairsPerCtrlr),
		Registers:         NewRegisterBar(opts.MaxQueueDepth),
		CData:             NewCData(opts),
		HostNQN:           data.HostNQN,
		HostID:            data.HostID,
		kato:              kato,
		lastKeepAliveTick: now,
		opts:              opts,
		aenMask:           make(map[string]bool),
	}
	c.QpairMask[0] = true
	c.Features.HostIdentifier = data.HostID
	return c
}

// SetPostFunc installs the cross-goroutine delivery hook used by post.
// The transport package installs none, so there post runs each closure
// inline on the calling goroutine.
func (c *Controller) SetPostFunc(f func(func())) { c.postFunc = f }

func (c *Controller) post(fn func()) {
	if c.postFunc != nil {
		c.postFunc(fn)
		return
	}
	fn()
}

// ConnectIO validates and admits an I/O qpair Connect against an existing
// admin controller, §4.4 "Fabrics Connect (qid>0)".
func (c *Controller) ConnectIO(params ConnectParams) *status.Status {
	if !c.Registers.CCEnabled() {
		return status.ConnectInvalidParam
	}
	if params.SQSize == 0 || uint32(params.SQSize) >= c.opts.MaxQueueDepth {
		return status.ConnectInvalidParam
	}
	if int(params.QID) <= 0 || int(params.QID) >= len(c.QpairMask) {
		return status.ConnectInvalidParam
	}
	if c.QpairMask[params.QID] {
		return status.New(status.SCTCommandSpecific, status.SCConnectInvalidParam, "duplicate qid")
	}
	c.QpairMask[params.QID] = true
	return nil
}

// DisconnectQpair clears a qid's bit in the mask, e.g. on socket close.
func (c *Controller) DisconnectQpair(qid uint16) {
	if int(qid) < len(c.QpairMask) {
		c.QpairMask[qid] = false
	}
}

// ActiveQpairCount reports how many qids (including qid 0) are attached.
func (c *Controller) ActiveQpairCount() int {
	n := 0
	for _, b := range c.QpairMask {
		if b {
			n++
		}
	}
	return n
}

// PropertyGet reads one of the seven Fabrics properties.
func (c *Controller) PropertyGet(offset uint32) (uint64, *status.Status) {
	switch offset {
	case PropOffsetCAP:
		return c.Registers.CAP, nil
	case PropOffsetVS:
		return uint64(c.Registers.VS), nil
	case PropOffsetCC:
		return uint64(c.Registers.CC), nil
	case PropOffsetCSTS:
		return uint64(c.Registers.CSTS), nil
	case PropOffsetAQA:
		return uint64(c.Registers.AQA), nil
	case PropOffsetASQ:
		return c.Registers.ASQ, nil
	case PropOffsetACQ:
		return c.Registers.ACQ, nil
	default:
		return 0, status.InvalidField
	}
}

// PropertySet writes one of the writable Fabrics properties (CC, AQA, ASQ,
// ACQ; CAP/VS/CSTS are read-only). CC writes drive the enable/shutdown
// state machine described in §4.4.
func (c *Controller) PropertySet(offset uint32, value uint64) *status.Status {
	switch offset {
	case PropOffsetAQA:
		c.Registers.AQA = uint32(value)
		return nil
	case PropOffsetASQ:
		c.Registers.ASQ = value
		return nil
	case PropOffsetACQ:
		c.Registers.ACQ = value
		return nil
	case PropOffsetCC:
		return c.setCC(uint32(value))
	case PropOffsetCAP, PropOffsetVS, PropOffsetCSTS:
		return status.New(status.SCTGeneric, status.SCInvalidField, "property is read-only")
	default:
		return status.InvalidField
	}
}

func (c *Controller) setCC(newCC uint32) *status.Status {
	old := c.Registers
	if (newCC&ccAMSMask) != 0 || (newCC&ccMPSMask) != 0 || (newCC&ccCSSMask) != 0 {
		return status.New(status.SCTGeneric, status.SCInvalidField, "AMS/MPS/CSS must be zero")
	}

	wasEnabled := old.CCEnabled()
	c.Registers.CC = newCC
	nowEnabled := c.Registers.CCEnabled()
	shn := c.Registers.CCShn()

	switch {
	case !wasEnabled && nowEnabled:
		log.Debug("controller enabled", "cntlid", c.CNTLID)
		c.Registers.setReady(true)

	case wasEnabled && !nowEnabled:
		log.Debug("controller reset requested", "cntlid", c.CNTLID)
		if c.OnCCTransition != nil {
			c.OnCCTransition(c)
		}
		c.armShutdown(false)

	case shn != ShnNone && old.CCShn() == ShnNone:
		log.Debug("controller shutdown requested", "cntlid", c.CNTLID, "abrupt", shn == ShnAbrupt)
		if c.OnCCTransition != nil {
			c.OnCCTransition(c)
		}
		c.armShutdown(true)
	}
	return nil
}

// armShutdown disconnects every I/O qpair (fanned out via OnDisconnectQpairs,
// delivered through postFunc so the actual teardown happens on each qpair's
// owning poll group), then clears CC/CSTS or marks CSTS.SHST complete.
func (c *Controller) armShutdown(isShutdownNotification bool) {
	c.post(func() {
		if c.OnDisconnectQpairs != nil {
			c.OnDisconnectQpairs(c)
		}
		if isShutdownNotification {
			c.Registers.setShst(ShstComplete)
		} else {
			c.Registers.CC = 0
			c.Registers.CSTS = 0
		}
	})
}

// NoteKeepAlive resets the keep-alive clock; called on every admin-qpair
// command arrival as well as explicit KEEP_ALIVE commands.
func (c *Controller) NoteKeepAlive(now time.Time) {
	c.lastKeepAliveTick = now
}

// CheckKeepAlive reports whether the association has expired (now minus
// the last tick exceeds KATO), latching CSTS.CFS and invoking
// OnDisconnectQpairs if so. Driven by a time.Ticker in the owning poll
// group per §4.4; exposed as a pure check here so it is deterministically
// testable without real timers.
func (c *Controller) CheckKeepAlive(now time.Time) bool {
	if c.kato <= 0 {
		return false
	}
	if now.Sub(c.lastKeepAliveTick) <= c.kato {
		return false
	}
	c.Registers.setFatal(true)
	if c.OnDisconnectQpairs != nil {
		c.OnDisconnectQpairs(c)
	}
	return true
}

// KATO returns the negotiated keep-alive timeout.
func (c *Controller) KATO() time.Duration { return c.kato }

// QueueAsyncEvent appends a pending event, or immediately completes the
// oldest outstanding AER if one exists (§4.4 "Async events"). Returns the
// CID to complete and true if an AER was satisfied inline.
func (c *Controller) QueueAsyncEvent(ev AsyncEvent) (cid uint16, ok bool) {
	if c.aenMask[ev.Kind] {
		return 0, false
	}
	c.aenMask[ev.Kind] = true
	if len(c.outstandingAERs) > 0 {
		cid = c.outstandingAERs[0]
		c.outstandingAERs = c.outstandingAERs[1:]
		return cid, true
	}
	c.pendingEvents = append(c.pendingEvents, ev)
	return 0, false
}

// UnmaskEvent clears the duplicate-suppression mask for an event kind,
// called when its log page is re-read with RAE=0.
func (c *Controller) UnmaskEvent(kind string) { delete(c.aenMask, kind) }

// SubmitAER registers a new Async Event Request CID, immediately completing
// it with a pending event if one is queued, otherwise parking it.
func (c *Controller) SubmitAER(cid uint16) (ev AsyncEvent, ok bool, rejected *status.Status) {
	if len(c.outstandingAERs) >= maxOutstandingAER {
		return AsyncEvent{}, false, status.New(status.SCTCommandSpecific, status.SCAsyncEventRequestLimitExceeded, "AER limit exceeded")
	}
	if len(c.pendingEvents) > 0 {
		ev = c.pendingEvents[0]
		c.pendingEvents = c.pendingEvents[1:]
		return ev, true, nil
	}
	c.outstandingAERs = append(c.outstandingAERs, cid)
	return AsyncEvent{}, false, nil
}

// AbortAER completes a parked AER with ABORTED_BY_REQUEST if cid is found
// outstanding, for use by the Abort admin command (§4.5).
func (c *Controller) AbortAER(cid uint16) bool {
	for i, c2 := range c.outstandingAERs {
		if c2 == cid {
			c.outstandingAERs = append(c.outstandingAERs[:i], c.outstandingAERs[i+1:]...)
			return true
		}
	}
	return false
}
