package transport

import (
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/pdu"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/qpair"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
)

// handleICReq completes the IC_REQ/IC_RESP handshake that must be the
// first PDU on every new connection, §4.2.
func (pg *PollGroup) handleICReq(qc *qpairConn, p *pdu.PDU) {
	req := p.ICReq
	if req.PFV != 0 {
		qc.sendTermReq(&qpair.FramingError{FES: pdu.FESInvalidPDUHeaderField, FEI: 2, Msg: "unsupported PFV"})
		pg.teardownQpair(qc)
		return
	}

	qc.qp.HDGST = req.DigestHDR
	qc.qp.DDGST = req.DigestData
	qc.qp.HPDA = req.HPDA
	qc.qp.CPDA = 0
	qc.qp.MaxH2CData = pg.tr.opts.IOUnitSize
	qc.qp.State = qpair.StateRunning

	resp := pdu.EncodeICResp(pdu.ICResp{
		PFV:        0,
		CPDA:       qc.qp.CPDA,
		DigestHDR:  req.DigestHDR,
		DigestData: req.DigestData,
		MaxH2CData: qc.qp.MaxH2CData,
	})
	if err := qc.write(resp); err != nil {
		log.Debug("failed to send IC_RESP", "error", err)
		qc.close()
		pg.teardownQpair(qc)
	}
}

// handleFabricsConnect implements the Connect Fabrics command, §4.4, for
// both qid==0 (new controller) and qid>0 (attaching an I/O qpair to an
// existing controller).
func (pg *PollGroup) handleFabricsConnect(qc *qpairConn, cmd nvme.Command, data []byte) (cdw0 uint32, st *status.Status) {
	params := ctrlr.DecodeConnectParams(cmd.CDW10, cmd.CDW11, cmd.CDW12)
	connData, ok := ctrlr.DecodeConnectData(data)
	if !ok {
		return 0, status.ConnectFormatInvalid
	}
	if params.RecFmt != 0 {
		return 0, status.ConnectFormatInvalid
	}

	if params.QID == 0 {
		return pg.connectAdmin(qc, params, connData)
	}
	return pg.connectIO(qc, params, connData)
}

func (pg *PollGroup) connectAdmin(qc *qpairConn, params ctrlr.ConnectParams, connData ctrlr.ConnectData) (uint32, *status.Status) {
	sub := pg.tr.findSubsystem(connData.SubNQN)
	if sub == nil {
		return 0, status.ConnectInvalidParam
	}
	if sub.State() != subsystem.StateActive {
		return 0, status.ConnectControllerBusy
	}
	if !sub.HostAllowed(connData.HostNQN) {
		return 0, status.ConnectInvalidHost
	}
	if params.SQSize == 0 || uint32(params.SQSize) >= pg.tr.opts.MaxAqDepth {
		return 0, status.ConnectInvalidParam
	}

	kato := time.Duration(params.KATO) * time.Millisecond
	if sub.Subtype() == subsystem.SubsystemTypeDiscovery {
		if kato <= 0 {
			kato = pg.tr.opts.DiscoveryKATO
		}
	} else if kato <= 0 {
		kato = pg.tr.opts.DefaultKATO
	}

	cntlid := pg.tr.nextCntlid()
	c := ctrlr.NewAdminController(cntlid, pg.tr.opts.ctrlrOptions(), connData, kato, time.Now())
	c.SubNQN = connData.SubNQN
	c.HostNQN = connData.HostNQN
	c.OnDisconnectQpairs = func(ctl *ctrlr.Controller) { pg.tr.disconnectAllQpairs(ctl) }

	if err := sub.AddController(c); err != nil {
		return 0, status.New(status.SCTCommandSpecific, status.SCConnectControllerBusy, err.Error())
	}

	qc.qp.QID = params.QID
	qc.qp.IsAdmin = true
	qc.sub = sub
	qc.ctrl = c
	pg.tr.registerControllerHome(c, pg)

	stopCh := make(chan struct{})
	pg.tr.trackControllerStop(c, stopCh)
	keepAlivePeriod := kato
	if keepAlivePeriod < 10*time.Second {
		keepAlivePeriod = 10 * time.Second
	}
	pg.armKeepAlive(c, keepAlivePeriod, stopCh)
	c.OnCCTransition = func(ctl *ctrlr.Controller) { pg.armCCTimeoutPoller(ctl, stopCh) }

	if pg.tr.metrics != nil {
		pg.tr.metrics.RecordQpairAccepted(sub.NQN(), "admin")
	}

	return uint32(c.CNTLID), nil
}

func (pg *PollGroup) connectIO(qc *qpairConn, params ctrlr.ConnectParams, connData ctrlr.ConnectData) (uint32, *status.Status) {
	sub := pg.tr.findSubsystem(connData.SubNQN)
	if sub == nil {
		return 0, status.ConnectInvalidParam
	}
	c, ok := sub.GetController(connData.CNTLID)
	if !ok {
		return 0, status.ConnectInvalidParam
	}

	st := pg.tr.callOnController(c, pg, func() *status.Status {
		return c.ConnectIO(params)
	})
	if st != nil {
		return 0, st
	}

	qc.qp.QID = params.QID
	qc.qp.IsAdmin = false
	qc.sub = sub
	qc.ctrl = c

	if pg.tr.metrics != nil {
		pg.tr.metrics.RecordQpairAccepted(sub.NQN(), "io")
	}

	return uint32(c.CNTLID), nil
}

// handlePropertyGet/Set implement the Fabrics Property Get/Set commands,
// §4.4. 8-byte properties (CAP, ASQ, ACQ) need the full 64-bit value
// split across CDW0 and the completion's reserved DW1, which
// nvme.Completion doesn't model; the caller patches the extra 4 bytes
// into the encoded CQE directly (see dispatch.go's completeAdmin).
func (pg *PollGroup) handlePropertyGet(qc *qpairConn, cmd nvme.Command) (cdw0 uint32, dw1 uint32, st *status.Status) {
	offset := cmd.CDW11
	value, st := qc.ctrl.PropertyGet(offset)
	if st != nil {
		return 0, 0, st
	}
	return uint32(value), uint32(value >> 32), nil
}

func (pg *PollGroup) handlePropertySet(qc *qpairConn, cmd nvme.Command) *status.Status {
	offset := cmd.CDW11
	var value uint64
	if ctrlr.PropertySize(offset) == 8 {
		value = uint64(cmd.CDW12) | uint64(cmd.CDW13)<<32
	} else {
		value = uint64(cmd.CDW12)
	}
	return pg.tr.callOnController(qc.ctrl, pg, func() *status.Status {
		return qc.ctrl.PropertySet(offset, value)
	})
}
