package transport

import (
	"io"
	"net"
	"sync"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/qpair"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/request"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
)

// pendingWrite tracks a WRITE/COMPARE capsule whose data hasn't fully
// arrived yet: one or more R2T grants followed by H2C_DATA PDUs, assembled
// into buf until h2cOffset reaches the command's full SGL length.
type pendingWrite struct {
	cmd       nvme.Command
	req       *request.Request
	buf       []byte
	h2cOffset uint32
	granted   uint32 // bytes granted via R2T so far, including this one

	recvRanges [][2]uint32 // half-open [start,end) byte ranges of buf received so far
}

// recordH2CRange validates an incoming H2C_DATA payload's [start, end) range
// against buf's bounds and every range already received for this ttag,
// §8 testable property 4: a grant may not run past the buffer, and no two
// grants may cover the same byte. Returns false on either violation without
// recording the range.
func (pw *pendingWrite) recordH2CRange(start, end uint32) bool {
	if end < start || end > uint32(len(pw.buf)) {
		return false
	}
	for _, r := range pw.recvRanges {
		if start < r[1] && r[0] < end {
			return false
		}
	}
	pw.recvRanges = append(pw.recvRanges, [2]uint32{start, end})
	return true
}

// fullyReceived reports whether the recorded ranges cover the whole buffer.
// Ranges are known non-overlapping (recordH2CRange rejects overlap), so
// their lengths sum to exact coverage rather than double-counting.
func (pw *pendingWrite) fullyReceived() bool {
	var total uint32
	for _, r := range pw.recvRanges {
		total += r[1] - r[0]
	}
	return total >= uint32(len(pw.buf))
}

// qpairConn binds a qpair.Qpair's framing state machine to its TCP socket
// and the poll group that owns it. A dedicated reader goroutine blocks in
// qp.ReadPDU() and posts decoded PDUs back to the poll group; everything
// else (including writing responses) happens on the poll-group goroutine
// that owns this qpairConn, per §5's "reactor owns qpair state" rule.
type qpairConn struct {
	conn net.Conn
	qp   *qpair.Qpair
	pg   *PollGroup

	sub  subsystem.Subsystem
	ctrl *ctrlr.Controller // nil until Fabrics Connect completes

	remoteAddr string

	pendingWrites map[uint16]*pendingWrite // keyed by ttag
	pendingAERs   map[uint16]*request.Request // keyed by command id, admin qpair only

	fusedFirst *fusedPending // parked Compare half of a fused pair, qp.FirstFused's sibling state

	closeOnce sync.Once
	closed    bool
}

// fusedPending holds the admitted, fully-buffered Compare half of a fused
// Compare-and-Write pair while the qpair awaits its Write half, §4.3.
type fusedPending struct {
	req *request.Request
	ns  subsystem.Namespace
	cmd nvme.Command
	buf []byte
}

func newQpairConn(conn net.Conn, pg *PollGroup, qid uint16, isAdmin bool, resourceCount, icdSize int) *qpairConn {
	return &qpairConn{
		conn:          conn,
		qp:            qpair.New(qid, isAdmin, conn, resourceCount, icdSize),
		pg:            pg,
		remoteAddr:    conn.RemoteAddr().String(),
		pendingWrites: make(map[uint16]*pendingWrite),
		pendingAERs:   make(map[uint16]*request.Request),
	}
}

// startReader launches the per-qpair blocking reader goroutine. Every
// successful or failed read is delivered to the owning poll group as a
// closure, never touching qc's fields from this goroutine.
func (qc *qpairConn) startReader() {
	go func() {
		for {
			p, req, err := qc.qp.ReadPDU()
			if err != nil {
				qc.pg.Post(func() { qc.pg.handleReadError(qc, err) })
				return
			}
			pp, rr := p, req
			qc.pg.Post(func() { qc.pg.handlePDU(qc, pp, rr) })
		}
	}()
}

// write sends raw PDU bytes on the connection. Called only from the
// owning poll group's goroutine.
func (qc *qpairConn) write(buf []byte) error {
	_, err := qc.conn.Write(buf)
	return err
}

func (qc *qpairConn) close() {
	qc.closeOnce.Do(func() {
		qc.closed = true
		if err := qc.conn.Close(); err != nil && err != io.EOF {
			log.Debug("qpair close error", "qid", qc.qp.QID, "error", err)
		}
	})
}

// sendTermReq emits a C2H_TERM_REQ for a framing violation and closes the
// connection, §4.2/§7.
func (qc *qpairConn) sendTermReq(fe *qpair.FramingError) {
	if err := qc.write(qpair.BuildTermReq(fe)); err != nil {
		log.Debug("failed to send term req", "qid", qc.qp.QID, "error", err)
	}
	qc.close()
}
