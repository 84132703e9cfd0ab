package qpair

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/pdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serializeCapsuleCmd turns a *pdu.PDU built by pdu.EncodeCapsuleCmd back
// into the flat wire bytes a real host socket would carry, mirroring the
// layout Qpair.ReadPDU expects: header, psh, optional header digest,
// padding to pdo, data, optional data digest.
func serializeCapsuleCmd(p *pdu.PDU) []byte {
	hlen := int(p.Header.HLen)
	withDigest := hlen
	if p.Header.HasHDGST() {
		withDigest += pdu.DigestLen
	}
	buf := make([]byte, withDigest)
	p.Header.Encode(buf[:8])
	copy(buf[8:hlen], p.CapsuleCmd.SQE[:])
	if p.Header.HasHDGST() {
		binary.LittleEndian.PutUint32(buf[hlen:hlen+pdu.DigestLen], p.HeaderDigest)
	}

	pdo := int(p.Header.PDO)
	if pdo > len(buf) {
		buf = append(buf, make([]byte, pdo-len(buf))...)
	}
	for _, d := range p.Data {
		buf = append(buf, d...)
	}
	if p.Header.HasDDGST() {
		db := make([]byte, pdu.DigestLen)
		binary.LittleEndian.PutUint32(db, p.DataDigest)
		buf = append(buf, db...)
	}
	return buf
}

func newRunningQpair(t *testing.T, r io.Reader) *Qpair {
	t.Helper()
	q := New(1, false, r, 4, 4096)
	q.State = StateRunning
	return q
}

func TestReadPDU_ICReqIsAcceptedAsFirstPDU(t *testing.T) {
	buf := pdu.EncodeICReq(pdu.ICReq{PFV: 0, HPDA: 0, DigestHDR: true, MaxR2TInFlight: 4})
	q := New(1, false, bytes.NewReader(buf), 4, 4096)
	assert.Equal(t, StateInitializing, q.State)

	p, claimed, err := q.ReadPDU()
	require.NoError(t, err)
	assert.Nil(t, claimed)
	require.NotNil(t, p.ICReq)
	assert.Equal(t, uint32(4), p.ICReq.MaxR2TInFlight)
	assert.Equal(t, RecvAwaitReady, q.Recv)
}

func TestReadPDU_NonICReqFirstIsRejected(t *testing.T) {
	var cmd nvme.Command
	sqe := cmd.Encode()
	p := pdu.EncodeCapsuleCmd(pdu.CapsuleCmd{SQE: sqe}, false, nil, false, 0)
	wire := serializeCapsuleCmd(p)

	q := New(1, false, bytes.NewReader(wire), 4, 4096)
	_, _, err := q.ReadPDU()
	require.Error(t, err)
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, pdu.FESInvalidPDUHeaderField, fe.FES)
	assert.Equal(t, RecvError, q.Recv)
}

func TestReadPDU_CapsuleCmdClaimsRequest(t *testing.T) {
	cmd := nvme.Command{Opcode: nvme.OpcodeWrite, CID: 42, SGLLength: 16}
	sqe := cmd.Encode()
	data := [][]byte{[]byte("0123456789abcdef")}
	p := pdu.EncodeCapsuleCmd(pdu.CapsuleCmd{SQE: sqe}, false, data, false, 0)
	wire := serializeCapsuleCmd(p)

	q := newRunningQpair(t, bytes.NewReader(wire))
	out, claimed, err := q.ReadPDU()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, 1, q.Requests.InFlight())
	assert.Equal(t, data, out.Data)
}

func TestReadPDU_WithDigestsRoundTrips(t *testing.T) {
	cmd := nvme.Command{Opcode: nvme.OpcodeWrite, CID: 7, SGLLength: 8}
	sqe := cmd.Encode()
	data := [][]byte{[]byte("deadbeef")}
	p := pdu.EncodeCapsuleCmd(pdu.CapsuleCmd{SQE: sqe}, true, data, true, 0)
	wire := serializeCapsuleCmd(p)

	q := newRunningQpair(t, bytes.NewReader(wire))
	q.HDGST = true
	q.DDGST = true

	out, claimed, err := q.ReadPDU()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, data, out.Data)
	assert.Equal(t, p.HeaderDigest, out.HeaderDigest)
	assert.Equal(t, p.DataDigest, out.DataDigest)
}

func TestReadPDU_HeaderDigestMismatchErrors(t *testing.T) {
	cmd := nvme.Command{Opcode: nvme.OpcodeFlush}
	sqe := cmd.Encode()
	p := pdu.EncodeCapsuleCmd(pdu.CapsuleCmd{SQE: sqe}, true, nil, false, 0)
	wire := serializeCapsuleCmd(p)
	wire[8] ^= 0xFF // corrupt a byte covered by the header digest

	q := newRunningQpair(t, bytes.NewReader(wire))
	q.HDGST = true

	_, _, err := q.ReadPDU()
	require.Error(t, err)
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, pdu.FESHeaderDigestError, fe.FES)
}

func TestReadPDU_NoFreeRequestSlots(t *testing.T) {
	cmd := nvme.Command{Opcode: nvme.OpcodeFlush}
	sqe := cmd.Encode()
	p := pdu.EncodeCapsuleCmd(pdu.CapsuleCmd{SQE: sqe}, false, nil, false, 0)
	wire := serializeCapsuleCmd(p)

	q := New(1, false, bytes.NewReader(wire), 0, 4096)
	q.State = StateRunning

	_, _, err := q.ReadPDU()
	require.Error(t, err)
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
}

func TestBuildTermReq(t *testing.T) {
	buf := BuildTermReq(&FramingError{FES: pdu.FESPDUSequenceError, FEI: 3})
	h := pdu.DecodeCommonHeader(buf)
	assert.Equal(t, pdu.TypeC2HTermReq, h.PDUType)
}
