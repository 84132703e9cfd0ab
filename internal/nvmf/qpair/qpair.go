// Package qpair implements the per-connection NVMe/TCP receive state
// machine: it turns a byte stream into framed, digest-validated PDUs and
// owns the Request pool and in-capsule arena the request state machine
// draws buffers from. Modeled on pkg/adapter/smb.Connection
// read loop (one goroutine per connection, framing delegated to a small
// ReadRequest-style function, disconnect-on-framing-error), generalized
// from SMB2's length-prefixed records to NVMe/TCP's common-header/PSH/
// payload/digest framing.
package qpair

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/pdu"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/request"
)

// RecvState is the qpair's per-PDU receive state, §4.2.
type RecvState int

const (
	RecvAwaitReady RecvState = iota
	RecvAwaitCH
	RecvAwaitPSH
	RecvAwaitReq
	RecvAwaitPayload
	RecvReady
	RecvError
)

func (s RecvState) String() string {
	switch s {
	case RecvAwaitReady:
		return "AWAIT_READY"
	case RecvAwaitCH:
		return "AWAIT_CH"
	case RecvAwaitPSH:
		return "AWAIT_PSH"
	case RecvAwaitReq:
		return "AWAIT_REQ"
	case RecvAwaitPayload:
		return "AWAIT_PAYLOAD"
	case RecvReady:
		return "READY"
	default:
		return "ERROR"
	}
}

// State is the qpair's connection lifecycle state.
type State int

const (
	StateInvalid State = iota
	StateInitializing
	StateRunning
	StateExiting
	StateExited
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "INVALID"
	case StateInitializing:
		return "INITIALIZING"
	case StateRunning:
		return "RUNNING"
	case StateExiting:
		return "EXITING"
	case StateExited:
		return "EXITED"
	default:
		return "UNKNOWN"
	}
}

// FramingError carries enough information to build a C2H_TERM_REQ: the
// fatal error status and the byte offset of the offending field within
// the PDU under construction.
type FramingError struct {
	FES uint16
	FEI uint32
	Msg string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("qpair: framing error fes=0x%x fei=%d: %s", e.FES, e.FEI, e.Msg)
}

// Qpair is one TCP connection's receive-side state: the PDU framer, the
// request pool, and the in-capsule data arena it binds buffers out of.
// All mutation happens on the owning poll group's goroutine.
type Qpair struct {
	QID   uint16
	IsAdmin bool
	State State
	Recv  RecvState

	r io.Reader

	// Digest negotiation, fixed for the lifetime of the connection once
	// IC_REQ/IC_RESP completes.
	HDGST bool
	DDGST bool
	CPDA  uint8 // controller (this target) PDU data alignment, told to the host in IC_RESP
	HPDA  uint8 // host PDU data alignment, learned from IC_REQ

	MaxH2CData uint32

	Requests       *request.Pool
	InCapsuleArena []byte

	FirstFused *request.Request

	header [8]byte
}

// New creates a qpair bound to r (the connection's read side) with a
// Request pool of resourceCount slots and an in-capsule arena of
// icdSize bytes.
func New(qid uint16, isAdmin bool, r io.Reader, resourceCount int, icdSize int) *Qpair {
	return &Qpair{
		QID:            qid,
		IsAdmin:        isAdmin,
		State:          StateInitializing,
		Recv:           RecvAwaitReady,
		r:              r,
		Requests:       request.NewPool(qid, resourceCount),
		InCapsuleArena: make([]byte, icdSize),
	}
}

// ReadPDU blocks until one full PDU is read, digest-validated, and
// claimed against a Request when it is a CAPSULE_CMD. On a framing
// violation it sets Recv to RecvError and returns a *FramingError; the
// caller is responsible for emitting C2H_TERM_REQ and tearing the
// connection down.
func (q *Qpair) ReadPDU() (*pdu.PDU, *request.Request, error) {
	q.Recv = RecvAwaitCH
	if _, err := io.ReadFull(q.r, q.header[:]); err != nil {
		q.Recv = RecvError
		return nil, nil, err
	}
	ch := pdu.DecodeCommonHeader(q.header[:])

	if err := q.validateCommonHeader(ch); err != nil {
		q.Recv = RecvError
		return nil, nil, err
	}

	q.Recv = RecvAwaitPSH
	pshLen, err := pdu.PSHLen(ch.PDUType)
	if err != nil {
		q.Recv = RecvError
		return nil, nil, &FramingError{FES: pdu.FESInvalidPDUHeaderField, FEI: 0, Msg: err.Error()}
	}

	hdgstExempt := ch.PDUType == pdu.TypeICReq || ch.PDUType == pdu.TypeICResp ||
		ch.PDUType == pdu.TypeH2CTermReq || ch.PDUType == pdu.TypeC2HTermReq
	carriesHDGST := q.HDGST && !hdgstExempt && ch.HasHDGST()

	psh := make([]byte, pshLen)
	if _, err := io.ReadFull(q.r, psh); err != nil {
		q.Recv = RecvError
		return nil, nil, err
	}

	var headerDigest uint32
	if carriesHDGST {
		var digestBuf [pdu.DigestLen]byte
		if _, err := io.ReadFull(q.r, digestBuf[:]); err != nil {
			q.Recv = RecvError
			return nil, nil, err
		}
		headerDigest = binary.LittleEndian.Uint32(digestBuf[:])
		full := append(append([]byte{}, q.header[:]...), psh...)
		if got := pdu.CRC32C(full); got != headerDigest {
			q.Recv = RecvError
			return nil, nil, &FramingError{FES: pdu.FESHeaderDigestError, FEI: 0, Msg: "header digest mismatch"}
		}
	}

	out := &pdu.PDU{Header: ch, HeaderDigest: headerDigest}
	var claimed *request.Request

	switch ch.PDUType {
	case pdu.TypeCapsuleCmd:
		out.CapsuleCmd, err = pdu.DecodeCapsuleCmd(psh)
		if err != nil {
			q.Recv = RecvError
			return nil, nil, &FramingError{FES: pdu.FESInvalidPDUHeaderField, FEI: pdu.CommonHeaderLen, Msg: err.Error()}
		}
		q.Recv = RecvAwaitReq
		r, ok := q.Requests.Claim()
		if !ok {
			q.Recv = RecvError
			return nil, nil, &FramingError{FES: pdu.FESInvalidPDUHeaderField, FEI: 0, Msg: "no free request slots"}
		}
		claimed = r

	case pdu.TypeH2CData:
		out.H2CData, err = pdu.DecodeH2CData(psh)
	case pdu.TypeC2HData:
		out.C2HData, err = pdu.DecodeC2HData(psh)
	case pdu.TypeH2CTermReq, pdu.TypeC2HTermReq:
		out.TermReq, err = pdu.DecodeTermReq(psh)
	case pdu.TypeICReq:
		out.ICReq, err = pdu.DecodeICReq(append(q.header[:], psh...))
	case pdu.TypeICResp:
		out.ICResp, err = pdu.DecodeICResp(append(q.header[:], psh...))
	case pdu.TypeCapsuleResp:
		out.CapsuleResp, err = pdu.DecodeCapsuleResp(psh)
	case pdu.TypeR2T:
		out.R2T, err = pdu.DecodeR2T(psh)
	}
	if err != nil {
		q.Recv = RecvError
		return nil, nil, &FramingError{FES: pdu.FESInvalidPDUHeaderField, FEI: pdu.CommonHeaderLen, Msg: err.Error()}
	}

	q.Recv = RecvAwaitPayload
	hlen := int(ch.HLen)
	if carriesHDGST {
		hlen += pdu.DigestLen
	}
	pdo := int(ch.PDO)
	plen := int(ch.PLen)
	if plen <= hlen {
		pdo = plen // header-only PDU: pdo carries no data offset (IC_REQ/IC_RESP send 0)
	}

	carriesDDGST := q.DDGST && !hdgstExempt && ch.HasDDGST()
	dataLen := plen - pdo
	if carriesDDGST {
		dataLen -= pdu.DigestLen
	}
	if dataLen < 0 {
		q.Recv = RecvError
		return nil, nil, &FramingError{FES: pdu.FESInvalidPDUHeaderField, FEI: uint32(pdo), Msg: "plen shorter than pdo"}
	}
	if dataLen > 0 {
		// Skip any reserved padding between the header and pdo.
		if skip := pdo - hlen; skip > 0 {
			if _, err := io.CopyN(io.Discard, q.r, int64(skip)); err != nil {
				q.Recv = RecvError
				return nil, nil, err
			}
		}
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(q.r, data); err != nil {
			q.Recv = RecvError
			return nil, nil, err
		}
		out.Data = [][]byte{data}

		if carriesDDGST {
			var digestBuf [pdu.DigestLen]byte
			if _, err := io.ReadFull(q.r, digestBuf[:]); err != nil {
				q.Recv = RecvError
				return nil, nil, err
			}
			out.DataDigest = binary.LittleEndian.Uint32(digestBuf[:])
			if got := pdu.CRC32CMulti(data, make([]byte, pdu.PadLen(len(data)))); got != out.DataDigest {
				q.Recv = RecvError
				return nil, nil, &FramingError{FES: pdu.FESHeaderDigestError, FEI: uint32(pdo), Msg: "data digest mismatch"}
			}
		}
	}

	q.Recv = RecvReady
	log.Debug("pdu received", "qid", q.QID, "type", ch.PDUType.String(), "plen", ch.PLen)
	q.Recv = RecvAwaitReady
	return out, claimed, nil
}

// validateCommonHeader enforces the §4.2 AWAIT_CH validation rules: the
// first PDU on a connection must be IC_REQ, and a PDU carrying data must
// have pdo at least hlen (plus the header digest length when carried).
func (q *Qpair) validateCommonHeader(ch pdu.CommonHeader) error {
	minPDO := int(ch.HLen)
	if q.HDGST && ch.HasHDGST() {
		minPDO += pdu.DigestLen
	}
	if int(ch.PLen) > minPDO && int(ch.PDO) < minPDO {
		return &FramingError{FES: pdu.FESInvalidPDUHeaderField, FEI: 3, Msg: "pdo shorter than hlen"}
	}
	if q.State == StateInitializing && ch.PDUType != pdu.TypeICReq {
		return &FramingError{FES: pdu.FESInvalidPDUHeaderField, FEI: 0, Msg: "first PDU on a connection must be IC_REQ"}
	}
	if q.State != StateInitializing && ch.PDUType == pdu.TypeICReq {
		return &FramingError{FES: pdu.FESPDUSequenceError, FEI: 0, Msg: "IC_REQ received on a running qpair"}
	}
	return nil
}

// BuildTermReq assembles the C2H_TERM_REQ PDU bytes for a framing error
// detected on this qpair (the target always emits C2H_TERM_REQ, mirroring
// the host-originated H2C_TERM_REQ direction naming).
func BuildTermReq(fe *FramingError) []byte {
	return pdu.EncodeTermReq(pdu.TypeC2HTermReq, pdu.TermReq{FES: fe.FES, FEI: fe.FEI})
}
