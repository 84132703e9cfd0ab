// Package transport implements the acceptor and poll-group reactor that
// bind the pdu/qpair/request/ctrlr/admin/io packages to real TCP sockets,
// §4.7 and §5. One goroutine per PollGroup runs a select-driven loop
// consuming closures from an inbox channel; per-qpair reader goroutines
// block in qpair.Qpair.ReadPDU and post decoded PDUs back as closures, so
// all qpair/request/controller state mutation happens on a single
// goroutine per poll group without locks, generalized from one goroutine
// per connection to one goroutine per poll group fanning in many qpairs.
package transport

import (
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/pdu"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/qpair"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/request"
	"github.com/nvmftcpd/nvmftcpd/pkg/bufpool"
)

// PollGroup is the single-goroutine owner of a set of qpairs, §3's
// PollGroup entity. Its shared-buffer pool and control-message pool back
// the buffer resolution rules in §4.3; neither needs a lock since only
// this poll group's goroutine ever draws from them.
type PollGroup struct {
	id int
	tr *Transport

	inbox chan func()
	done  chan struct{}

	shared  *bufpool.Pool
	control *bufpool.Pool

	qpairs map[*qpairConn]struct{}
}

func newPollGroup(id int, tr *Transport) *PollGroup {
	return &PollGroup{
		id:      id,
		tr:      tr,
		inbox:   make(chan func(), 256),
		done:    make(chan struct{}),
		shared:  bufpool.NewPool(&bufpool.Config{LargeSize: int(tr.opts.IOUnitSize)}),
		control: bufpool.NewPool(&bufpool.Config{MediumSize: bufpool.DefaultMediumSize}),
		qpairs:  make(map[*qpairConn]struct{}),
	}
}

// run is the poll group's reactor loop: it drains closures posted by
// reader goroutines, timers, and cross-poll-group controller messages
// until Stop is called.
func (pg *PollGroup) run() {
	for {
		select {
		case fn := <-pg.inbox:
			fn()
		case <-pg.done:
			return
		}
	}
}

// Post delivers a closure to this poll group's goroutine; safe to call
// from any goroutine, including pg's own (it will simply run after
// whatever is presently being processed drains the channel).
func (pg *PollGroup) Post(fn func()) {
	select {
	case pg.inbox <- fn:
	case <-pg.done:
	}
}

func (pg *PollGroup) stop() {
	close(pg.done)
}

func (pg *PollGroup) addQpair(qc *qpairConn) {
	pg.qpairs[qc] = struct{}{}
}

func (pg *PollGroup) removeQpair(qc *qpairConn) {
	delete(pg.qpairs, qc)
}

// handleReadError tears a qpair down after its reader goroutine observed
// a framing violation or a closed/broken socket.
func (pg *PollGroup) handleReadError(qc *qpairConn, err error) {
	if fe, ok := err.(*qpair.FramingError); ok {
		log.Debug("qpair framing error", "qid", qc.qp.QID, "error", fe)
		qc.sendTermReq(fe)
	} else {
		log.Debug("qpair read error", "qid", qc.qp.QID, "error", err)
		qc.close()
	}
	pg.teardownQpair(qc)
}

// teardownQpair removes qc from this poll group. For an admin qpair close,
// the controller isn't dropped immediately: its keep-alive ticker is
// stopped and a 2-minute association timer is armed instead, §4.4.
func (pg *PollGroup) teardownQpair(qc *qpairConn) {
	pg.removeQpair(qc)
	if qc.ctrl != nil {
		qc.ctrl.DisconnectQpair(qc.qp.QID)
		if qc.qp.QID == 0 {
			pg.tr.stopKeepAlive(qc.ctrl)
			if qc.sub != nil {
				stopCh := make(chan struct{})
				pg.tr.trackAssociationStop(qc.ctrl, stopCh)
				pg.armAssociationTimer(qc.ctrl, qc.sub, stopCh)
			} else {
				pg.tr.forgetControllerHome(qc.ctrl)
			}
		}
	}
	if pg.tr.metrics != nil {
		kind := "io"
		if qc.qp.IsAdmin {
			kind = "admin"
		}
		nqn := ""
		if qc.sub != nil {
			nqn = qc.sub.NQN()
		}
		pg.tr.metrics.RecordQpairClosed(nqn, kind, "disconnect")
	}
}

// handlePDU is the single entry point reader goroutines funnel decoded
// PDUs through; it runs on pg's own goroutine.
func (pg *PollGroup) handlePDU(qc *qpairConn, p *pdu.PDU, req *request.Request) {
	switch {
	case p.ICReq != nil:
		pg.handleICReq(qc, p)
	case p.CapsuleCmd != nil:
		pg.handleCapsuleCmd(qc, p, req)
	case p.H2CData != nil:
		pg.handleH2CData(qc, p)
	case p.TermReq != nil:
		log.Debug("host sent term req", "qid", qc.qp.QID, "fes", p.TermReq.FES)
		qc.close()
		pg.teardownQpair(qc)
	default:
		log.Debug("unexpected PDU on qpair", "qid", qc.qp.QID, "type", p.Header.PDUType.String())
		qc.sendTermReq(&qpair.FramingError{FES: pdu.FESPDUSequenceError, FEI: 0, Msg: "unexpected PDU type"})
		pg.teardownQpair(qc)
	}
}

// armKeepAlive starts the periodic keep-alive poller for a freshly
// connected controller, §4.4. The ticker goroutine never touches
// controller state directly; it posts a check to the owning poll group
// on every tick and exits when stopCh is closed (controller torn down).
func (pg *PollGroup) armKeepAlive(c *ctrlr.Controller, period time.Duration, stopCh <-chan struct{}) {
	if period <= 0 {
		period = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case now := <-ticker.C:
				pg.Post(func() {
					if c.CheckKeepAlive(now) {
						log.Warn("controller keep-alive expired", "cntlid", c.CNTLID)
						if pg.tr.metrics != nil {
							pg.tr.metrics.RecordAssociationTimeout("")
						}
					}
				})
			}
		}
	}()
}
