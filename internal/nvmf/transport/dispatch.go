package transport

import (
	"context"
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/admin"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/io"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/pdu"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/qpair"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/request"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
)

// handleCapsuleCmd decodes the SQE carried by a CAPSULE_CMD PDU, binds it
// to the Request claimed at read time, and routes it to the Fabrics, admin
// (qid==0) or I/O (qid>0) command set, §4.4/§4.5/§4.6.
func (pg *PollGroup) handleCapsuleCmd(qc *qpairConn, p *pdu.PDU, req *request.Request) {
	cmd := nvme.Decode(p.CapsuleCmd.SQE[:])
	if err := req.Allocate(cmd); err != nil {
		log.Warn("cannot allocate request", "qid", qc.qp.QID, "error", err)
		return
	}

	var inCapsule []byte
	if len(p.Data) > 0 {
		inCapsule = p.Data[0]
	}

	switch {
	case cmd.Opcode == nvme.OpcodeFabrics:
		pg.dispatchFabrics(qc, req, cmd, inCapsule)
	case qc.qp.IsAdmin:
		pg.dispatchAdmin(qc, req, cmd, inCapsule)
	default:
		pg.dispatchIO(qc, req, cmd, inCapsule)
	}
}

func (pg *PollGroup) dispatchFabrics(qc *qpairConn, req *request.Request, cmd nvme.Command, data []byte) {
	switch cmd.Fctype {
	case nvme.FctypeConnect:
		cdw0, st := pg.handleFabricsConnect(qc, cmd, data)
		pg.completeAdmin(qc, req, cdw0, 0, st)
	case nvme.FctypePropertyGet:
		cdw0, dw1, st := pg.handlePropertyGet(qc, cmd)
		pg.completeAdmin(qc, req, cdw0, dw1, st)
	case nvme.FctypePropertySet:
		st := pg.handlePropertySet(qc, cmd)
		pg.completeAdmin(qc, req, 0, 0, st)
	default:
		pg.completeAdmin(qc, req, 0, 0, status.InvalidOpcode)
	}
}

// dispatchAdmin routes a command on the admin qpair (qid==0), §4.5.
// Identify and Get Log Page return data to the host, so a response buffer
// is drawn from this poll group's control-message pool and handed to
// admin.Dispatch as the fill target rather than whatever arrived in the
// capsule.
func (pg *PollGroup) dispatchAdmin(qc *qpairConn, req *request.Request, cmd nvme.Command, data []byte) {
	out := data
	if req.Dir == request.XferControllerToHost && req.Length > 0 {
		out = pg.control.Get(int(req.Length))[:req.Length]
	}

	opts := admin.DispatchOptions{
		Identify: pg.tr.identifyOptions(),
		Abort:    func(sqid, cid uint16) bool { return pg.tr.abortCommand(pg, sqid, cid) },
		Now:      time.Now(),
	}
	cdw0, st, aerPending := admin.Dispatch(qc.ctrl, qc.sub, cmd, out, opts)
	if aerPending {
		qc.pendingAERs[cmd.CID] = req
		return
	}

	if st == nil && req.Dir == request.XferControllerToHost && req.Length > 0 {
		pg.completeWithData(qc, req, cdw0, out)
		return
	}
	pg.completeAdmin(qc, req, cdw0, 0, st)
}

// dispatchIO routes a command on an I/O qpair (qid>0), §4.6: the four
// admission checks, then either the reservation command set or a
// translation into a bdev.BlockRequest.
func (pg *PollGroup) dispatchIO(qc *qpairConn, req *request.Request, cmd nvme.Command, data []byte) {
	ns, st := io.Admit(qc.ctrl, qc.sub, qc.ctrl.HostID, cmd)
	if st != nil {
		pg.completeAdmin(qc, req, 0, 0, st)
		return
	}

	switch cmd.Opcode {
	case nvme.OpcodeReservationReg:
		pg.completeAdmin(qc, req, 0, 0, io.ReservationRegister(ns, qc.ctrl.HostID, cmd, data))
		return
	case nvme.OpcodeReservationAcq:
		rtype := subsystem.ReservationType((cmd.CDW10 >> 8) & 0xff)
		pg.completeAdmin(qc, req, 0, 0, io.ReservationAcquire(ns, qc.ctrl.HostID, cmd, rtype, data))
		return
	case nvme.OpcodeReservationRel:
		pg.completeAdmin(qc, req, 0, 0, io.ReservationRelease(ns, qc.ctrl.HostID))
		return
	case nvme.OpcodeReservationRep:
		buf := pg.control.Get(int(req.Length))[:req.Length]
		if st := io.ReservationReport(ns, buf); st != nil {
			pg.completeAdmin(qc, req, 0, 0, st)
			return
		}
		pg.completeWithData(qc, req, 0, buf)
		return
	}

	if req.Dir == request.XferHostToController && uint32(len(data)) < req.Length {
		pg.beginR2T(qc, req, cmd, ns, data)
		return
	}

	buf := data
	if req.Dir == request.XferControllerToHost {
		buf = pg.bufferFor(req.Length)
	}
	pg.readyForSubmit(qc, req, ns, cmd, buf)
}

// readyForSubmit is the single chokepoint a command's data reaches once
// fully buffered, whether that buffer arrived in-capsule/from the shared
// pool (dispatchIO) or via R2T (handleH2CData). It applies the fused
// Compare-and-Write admission rules of §4.3 before handing off to submitIO:
// a FuseFirst command (Compare) is parked rather than submitted; a
// FuseSecond command (Write) triggers atomic submission of the pair;
// anything else flushes a stale parked first with ABORTED_MISSING_FUSED.
func (pg *PollGroup) readyForSubmit(qc *qpairConn, req *request.Request, ns subsystem.Namespace, cmd nvme.Command, buf []byte) {
	switch cmd.Fuse {
	case nvme.FuseFirst:
		pg.flushStaleFused(qc)
		if cmd.Opcode != nvme.OpcodeCompare {
			pg.completeAdmin(qc, req, 0, 0, status.AbortedFailedFused)
			return
		}
		// Left in NEW rather than advanced to READY_TO_EXECUTE: the Compare
		// half may still need to fail straight to EXECUTED via completeAdmin
		// (flushStaleFused, a malformed second) before it ever reaches the
		// bdev, and NEW->EXECUTED is the legal failure edge for that.
		qc.fusedFirst = &fusedPending{req: req, ns: ns, cmd: cmd, buf: buf}
		qc.qp.FirstFused = req

	case nvme.FuseSecond:
		first := qc.fusedFirst
		if first == nil {
			pg.completeAdmin(qc, req, 0, 0, status.AbortedMissingFused)
			return
		}
		qc.fusedFirst = nil
		qc.qp.FirstFused = nil
		if cmd.Opcode != nvme.OpcodeWrite {
			pg.completeAdmin(qc, first.req, 0, 0, status.AbortedMissingFused)
			pg.completeAdmin(qc, req, 0, 0, status.AbortedFailedFused)
			return
		}
		req.Fused = true
		req.FirstFused = first.req
		pg.submitFusedPair(qc, first, req, ns, cmd, buf)

	default:
		pg.flushStaleFused(qc)
		pg.submitIO(qc, req, ns, cmd, buf)
	}
}

// flushStaleFused completes a parked Compare half with ABORTED_MISSING_FUSED
// when the expected Write half never arrives as the very next command.
func (pg *PollGroup) flushStaleFused(qc *qpairConn) {
	if qc.fusedFirst == nil {
		return
	}
	first := qc.fusedFirst
	qc.fusedFirst = nil
	qc.qp.FirstFused = nil
	pg.completeAdmin(qc, first.req, 0, 0, status.AbortedMissingFused)
}

// submitFusedPair executes a Compare-and-Write fused pair: the Compare
// half runs to completion first, and only on success is the Write half
// submitted. Per §4.3/§8 property 5, any failure along the way — a
// mismatched Compare or a failed Write — completes both halves with
// ABORTED_FAILED_FUSED rather than leaving one half silently unattempted.
func (pg *PollGroup) submitFusedPair(qc *qpairConn, first *fusedPending, second *request.Request, ns subsystem.Namespace, cmd nvme.Command, buf []byte) {
	if err := first.req.SetState(request.StateReadyToExecute); err != nil {
		log.Warn("illegal request transition", "error", err)
	}
	if err := first.req.SetState(request.StateExecuting); err != nil {
		log.Warn("illegal request transition", "error", err)
	}
	ch, st := io.Submit(context.Background(), first.ns, first.cmd, first.buf)
	if st != nil {
		pg.completeAdmin(qc, first.req, 0, 0, status.AbortedFailedFused)
		pg.completeAdmin(qc, second, 0, 0, status.AbortedFailedFused)
		return
	}
	go func() {
		comp := <-ch
		pg.Post(func() {
			if comp.Err != nil {
				pg.completeAdmin(qc, first.req, 0, 0, status.AbortedFailedFused)
				pg.completeAdmin(qc, second, 0, 0, status.AbortedFailedFused)
				return
			}
			if err := second.SetState(request.StateReadyToExecute); err != nil {
				log.Warn("illegal request transition", "error", err)
			}
			if err := second.SetState(request.StateExecuting); err != nil {
				log.Warn("illegal request transition", "error", err)
			}
			ch2, st2 := io.Submit(context.Background(), ns, cmd, buf)
			if st2 != nil {
				pg.completeAdmin(qc, first.req, 0, 0, status.AbortedFailedFused)
				pg.completeAdmin(qc, second, 0, 0, status.AbortedFailedFused)
				return
			}
			go func() {
				comp2 := <-ch2
				pg.Post(func() {
					if comp2.Err != nil {
						pg.completeAdmin(qc, first.req, 0, 0, status.AbortedFailedFused)
						pg.completeAdmin(qc, second, 0, 0, status.AbortedFailedFused)
						return
					}
					pg.completeAdmin(qc, first.req, 0, 0, nil)
					pg.completeAdmin(qc, second, 0, 0, nil)
				})
			}()
		})
	}()
}

// bufferFor draws a buffer sized to n from the shared pool, per §4.3's
// "large" buffer-resolution rule for I/O-sized transfers.
func (pg *PollGroup) bufferFor(n uint32) []byte {
	return pg.shared.Get(int(n))[:n]
}

// submitIO hands an admitted, fully-buffered command to the bdev layer and
// arranges for the completion to be posted back to this poll group; it
// never blocks the reactor goroutine itself.
func (pg *PollGroup) submitIO(qc *qpairConn, req *request.Request, ns subsystem.Namespace, cmd nvme.Command, buf []byte) {
	if err := req.SetState(request.StateReadyToExecute); err != nil {
		log.Warn("illegal request transition", "error", err)
	}
	ch, st := io.Submit(context.Background(), ns, cmd, buf)
	if st != nil {
		pg.completeAdmin(qc, req, 0, 0, st)
		return
	}
	if err := req.SetState(request.StateExecuting); err != nil {
		log.Warn("illegal request transition", "error", err)
	}

	go func() {
		comp := <-ch
		pg.Post(func() { pg.completeIO(qc, req, buf, comp) })
	}()
}

func (pg *PollGroup) completeIO(qc *qpairConn, req *request.Request, buf []byte, comp bdev.BlockCompletion) {
	if comp.Err != nil {
		pg.completeAdmin(qc, req, 0, 0, io.MapBlockError(comp.Err))
		return
	}
	if req.Dir == request.XferControllerToHost {
		pg.completeWithData(qc, req, 0, buf)
		return
	}
	pg.completeAdmin(qc, req, 0, 0, nil)
}

// beginR2T parks a write/compare request awaiting the rest of its data and
// grants the full remainder in a single R2T, §4.6/§7. Splitting a grant
// across multiple R2Ts (bounded by MaxR2TInFlight) is left to a future
// pass; a single grant is always legal per the wire format.
func (pg *PollGroup) beginR2T(qc *qpairConn, req *request.Request, cmd nvme.Command, ns subsystem.Namespace, partial []byte) {
	if err := req.SetState(request.StateNeedBuffer); err != nil {
		log.Warn("illegal request transition", "error", err)
	}
	buf := pg.bufferFor(req.Length)
	copy(buf, partial)

	qc.pendingWrites[req.TTag] = &pendingWrite{cmd: cmd, req: req, buf: buf, h2cOffset: uint32(len(partial))}

	if err := req.SetState(request.StateAwaitingR2TAck); err != nil {
		log.Warn("illegal request transition", "error", err)
	}
	r2t := pdu.EncodeR2T(pdu.R2T{
		CCCID:     cmd.CID,
		TTag:      req.TTag,
		R2TOffset: uint32(len(partial)),
		R2TLength: req.Length - uint32(len(partial)),
	}, qc.qp.HDGST, qc.qp.CPDA)
	if err := qc.write(r2t.Marshal()); err != nil {
		log.Debug("failed to send R2T", "qid", qc.qp.QID, "error", err)
		qc.close()
		pg.teardownQpair(qc)
		return
	}
	_ = ns
}

// handleH2CData accumulates write data streamed back by the host in
// response to an R2T, and submits the request once every granted byte has
// arrived. An H2C_DATA whose [datao, datao+datal) range runs past the
// buffer or overlaps a range already received is a framing violation,
// §8 testable property 4: the qpair goes to RecvError and the host gets a
// DATA_TRANSFER_OUT_OF_RANGE TERM_REQ rather than a panic or a short write.
func (pg *PollGroup) handleH2CData(qc *qpairConn, p *pdu.PDU) {
	pw, ok := qc.pendingWrites[p.H2CData.TTag]
	if !ok {
		log.Warn("H2C_DATA for unknown ttag", "qid", qc.qp.QID, "ttag", p.H2CData.TTag)
		return
	}

	start := p.H2CData.DataOffset
	end := start + p.H2CData.DataLength
	if !pw.recordH2CRange(start, end) {
		log.Warn("H2C_DATA out of range or overlapping", "qid", qc.qp.QID, "ttag", p.H2CData.TTag, "offset", start, "length", p.H2CData.DataLength)
		delete(qc.pendingWrites, p.H2CData.TTag)
		qc.qp.Recv = qpair.RecvError
		qc.sendTermReq(&qpair.FramingError{FES: pdu.FESDataTransferOutOfRange, FEI: start, Msg: "H2C_DATA out of range or overlapping"})
		pg.teardownQpair(qc)
		return
	}
	if len(p.Data) > 0 {
		copy(pw.buf[start:end], p.Data[0])
	}
	pw.h2cOffset = end

	if !pw.fullyReceived() {
		return
	}
	delete(qc.pendingWrites, p.H2CData.TTag)

	if err := pw.req.SetState(request.StateTransferringHostToController); err != nil {
		log.Warn("illegal request transition", "error", err)
	}
	ns, ok := qc.sub.FindNamespace(pw.cmd.NSID)
	if !ok {
		pg.completeAdmin(qc, pw.req, 0, 0, status.InvalidNamespace)
		return
	}
	pg.readyForSubmit(qc, pw.req, ns, pw.cmd, pw.buf)
}

// completeAdmin finishes req with a CAPSULE_RESP carrying cdw0/dw1 and st
// (nil meaning success), walking the request state machine through
// EXECUTED -> READY_TO_COMPLETE -> COMPLETED and releasing its ttag.
//
// dw1 carries the high 32 bits of an 8-byte Fabrics Property Get value;
// nvme.Completion only models a 32-bit DW0, so the extra bits are patched
// directly into the encoded CQE bytes here rather than widening that type.
func (pg *PollGroup) completeAdmin(qc *qpairConn, req *request.Request, cdw0, dw1 uint32, st *status.Status) {
	req.CQE.CDW0 = cdw0
	req.CQE.SQID = qc.qp.QID
	if st != nil {
		req.CQE.SCT, req.CQE.SC = st.Code()
		_ = req.Fail(st)
	} else {
		_ = req.Succeed()
	}

	if err := req.SetState(request.StateReadyToComplete); err != nil {
		log.Warn("illegal request transition", "error", err)
	}
	if err := req.SetState(request.StateCompleted); err != nil {
		log.Warn("illegal request transition", "error", err)
	}

	cqe := req.CQE.Encode()
	if dw1 != 0 {
		cqe[4] = byte(dw1)
		cqe[5] = byte(dw1 >> 8)
		cqe[6] = byte(dw1 >> 16)
		cqe[7] = byte(dw1 >> 24)
	}
	resp := pdu.EncodeCapsuleResp(pdu.CapsuleResp{CQE: cqe}, qc.qp.HDGST)
	if err := qc.write(resp.Marshal()); err != nil {
		log.Debug("failed to send CAPSULE_RESP", "qid", qc.qp.QID, "error", err)
		qc.close()
		pg.teardownQpair(qc)
		return
	}
	pg.releaseRequest(qc, req)
}

// completeWithData finishes a data-returning command by streaming buf back
// over C2H_DATA. When C2HSuccess is configured the PDU carries both the
// LAST_PDU and SUCCESS flags and no separate CAPSULE_RESP follows, §4.3;
// otherwise a zero-status CAPSULE_RESP is sent after the data.
func (pg *PollGroup) completeWithData(qc *qpairConn, req *request.Request, cdw0 uint32, buf []byte) {
	req.CQE.CDW0 = cdw0
	req.CQE.SQID = qc.qp.QID
	_ = req.Succeed()
	if err := req.SetState(request.StateReadyToComplete); err != nil {
		log.Warn("illegal request transition", "error", err)
	}
	if err := req.SetState(request.StateTransferringControllerToHost); err != nil {
		log.Warn("illegal request transition", "error", err)
	}

	flags := uint8(0)
	if pg.tr.opts.C2HSuccess {
		flags = pdu.FlagLastPDU | pdu.FlagSuccess
	} else {
		flags = pdu.FlagLastPDU
	}
	c2h := pdu.EncodeC2HData(pdu.C2HData{
		CCCID:      req.Cmd.CID,
		TTag:       req.TTag,
		DataOffset: 0,
		DataLength: uint32(len(buf)),
	}, [][]byte{buf}, qc.qp.DDGST, qc.qp.CPDA, flags)
	if err := qc.write(c2h.Marshal()); err != nil {
		log.Debug("failed to send C2H_DATA", "qid", qc.qp.QID, "error", err)
		qc.close()
		pg.teardownQpair(qc)
		return
	}

	if err := req.SetState(request.StateCompleted); err != nil {
		log.Warn("illegal request transition", "error", err)
	}
	if !pg.tr.opts.C2HSuccess {
		resp := pdu.EncodeCapsuleResp(pdu.CapsuleResp{CQE: req.CQE.Encode()}, qc.qp.HDGST)
		if err := qc.write(resp.Marshal()); err != nil {
			log.Debug("failed to send CAPSULE_RESP", "qid", qc.qp.QID, "error", err)
			qc.close()
			pg.teardownQpair(qc)
			return
		}
	}
	pg.releaseRequest(qc, req)
}

func (pg *PollGroup) releaseRequest(qc *qpairConn, req *request.Request) {
	if err := qc.qp.Requests.Release(req); err != nil {
		log.Warn("failed to release request", "qid", qc.qp.QID, "ttag", req.TTag, "error", err)
	}
}

// completeAER finishes a previously-parked Async Event Request with the
// event's cdw0 once a producer elsewhere (ANA change, namespace attribute
// change, reservation log) calls Controller.QueueAsyncEvent and gets back
// a CID to satisfy immediately.
func (pg *PollGroup) completeAER(qc *qpairConn, cid uint16, cdw0 uint32) {
	req, ok := qc.pendingAERs[cid]
	if !ok {
		return
	}
	delete(qc.pendingAERs, cid)
	pg.completeAdmin(qc, req, cdw0, 0, nil)
}

// tryAbort looks for a parked Async Event Request or an in-progress write
// awaiting R2T matching (sqid, cid) among this poll group's qpairs, and
// completes it with ABORTED_BY_REQUEST if found. Runs on pg's own goroutine.
func (pg *PollGroup) tryAbort(sqid, cid uint16) bool {
	for qc := range pg.qpairs {
		if qc.qp.QID != sqid {
			continue
		}
		if req, ok := qc.pendingAERs[cid]; ok {
			delete(qc.pendingAERs, cid)
			pg.completeAdmin(qc, req, 0, 0, status.AbortedByRequest)
			return true
		}
		for ttag, pw := range qc.pendingWrites {
			if pw.cmd.CID == cid {
				delete(qc.pendingWrites, ttag)
				pg.completeAdmin(qc, pw.req, 0, 0, status.AbortedByRequest)
				return true
			}
		}
		return false
	}
	return false
}
