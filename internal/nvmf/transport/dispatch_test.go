package transport

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/pdu"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/qpair"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/request"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNamespace wires a zeroed in-memory namespace of a single 512-byte
// block, suitable for fused Compare-and-Write exercises: comparing against
// a zero-filled buffer always matches freshly allocated memory.
func testNamespace() subsystem.Namespace {
	return subsystem.NewMemNamespace(1, bdev.NewMemory(1, 512))
}

func claimReq(t *testing.T, qc *qpairConn, cmd nvme.Command) *request.Request {
	t.Helper()
	req, ok := qc.qp.Requests.Claim()
	require.True(t, ok)
	require.NoError(t, req.Allocate(cmd))
	return req
}

func readPDU(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func TestCompleteAdminWritesCapsuleResp(t *testing.T) {
	qc, client := testQpairConn(t)
	qc.ctrl = ctrlr.NewAdminController(1, testCtrlrOptions(), ctrlr.ConnectData{}, time.Second, time.Now())

	req, ok := qc.qp.Requests.Claim()
	require.True(t, ok)
	require.NoError(t, req.Allocate(nvme.Command{CID: 7}))

	done := make(chan struct{})
	go func() {
		qc.pg.completeAdmin(qc, req, 0x1234, 0, status.InvalidField)
		close(done)
	}()

	raw := readPDU(t, client, pdu.CommonHeaderLen+16)
	<-done

	resp, err := pdu.DecodeCapsuleResp(raw[pdu.CommonHeaderLen:])
	require.NoError(t, err)
	cqe := nvme.DecodeCompletion(resp.CQE[:])
	sct, sc := status.InvalidField.Code()
	assert.Equal(t, sct, cqe.SCT)
	assert.Equal(t, sc, cqe.SC)
}

func TestCompleteAdminPatchesDW1For8ByteProperty(t *testing.T) {
	qc, client := testQpairConn(t)
	qc.ctrl = ctrlr.NewAdminController(1, testCtrlrOptions(), ctrlr.ConnectData{}, time.Second, time.Now())

	req, ok := qc.qp.Requests.Claim()
	require.True(t, ok)
	require.NoError(t, req.Allocate(nvme.Command{CID: 9}))

	done := make(chan struct{})
	go func() {
		qc.pg.completeAdmin(qc, req, 0xdeadbeef, 0xfeedface, nil)
		close(done)
	}()

	raw := readPDU(t, client, pdu.CommonHeaderLen+16)
	<-done

	resp, err := pdu.DecodeCapsuleResp(raw[pdu.CommonHeaderLen:])
	require.NoError(t, err)
	assert.EqualValues(t, 0xdeadbeef, uint32(resp.CQE[0])|uint32(resp.CQE[1])<<8|uint32(resp.CQE[2])<<16|uint32(resp.CQE[3])<<24)
	assert.EqualValues(t, 0xfeedface, uint32(resp.CQE[4])|uint32(resp.CQE[5])<<8|uint32(resp.CQE[6])<<16|uint32(resp.CQE[7])<<24)
}

func TestBufferForSizesSlice(t *testing.T) {
	tr := testTransport(1)
	defer tr.Stop()
	pg := tr.pollGroups[0]

	buf := pg.bufferFor(4096)
	assert.Len(t, buf, 4096)
}

func TestTryAbortFindsPendingAER(t *testing.T) {
	qc, client := testQpairConn(t)
	defer client.Close()
	qc.qp.QID = 0
	qc.pg.addQpair(qc)

	req, ok := qc.qp.Requests.Claim()
	require.True(t, ok)
	require.NoError(t, req.Allocate(nvme.Command{CID: 5}))
	qc.pendingAERs[5] = req

	done := make(chan struct{})
	go func() {
		readPDU(t, client, pdu.CommonHeaderLen+16)
		close(done)
	}()

	found := qc.pg.tryAbort(0, 5)
	assert.True(t, found)
	<-done
	assert.NotContains(t, qc.pendingAERs, uint16(5))
}

func TestTryAbortNoMatch(t *testing.T) {
	qc, client := testQpairConn(t)
	defer client.Close()
	qc.pg.addQpair(qc)

	found := qc.pg.tryAbort(0, 99)
	assert.False(t, found)
}

func TestFusedCompareAndWriteSubmitsAtomically(t *testing.T) {
	qc, client := testQpairConn(t)
	defer client.Close()
	ns := testNamespace()

	compareCmd := nvme.Command{CID: 10, Opcode: nvme.OpcodeCompare, Fuse: nvme.FuseFirst, NSID: 1}
	reqC := claimReq(t, qc, compareCmd)
	qc.pg.readyForSubmit(qc, reqC, ns, compareCmd, make([]byte, 512))
	require.NotNil(t, qc.qp.FirstFused, "Compare half must be parked, not submitted")

	writeCmd := nvme.Command{CID: 11, Opcode: nvme.OpcodeWrite, Fuse: nvme.FuseSecond, NSID: 1}
	reqW := claimReq(t, qc, writeCmd)

	var raw1, raw2 []byte
	done := make(chan struct{})
	go func() {
		raw1 = readPDU(t, client, pdu.CommonHeaderLen+16)
		raw2 = readPDU(t, client, pdu.CommonHeaderLen+16)
		close(done)
	}()

	qc.pg.readyForSubmit(qc, reqW, ns, writeCmd, make([]byte, 512))
	<-done

	resp1, err := pdu.DecodeCapsuleResp(raw1[pdu.CommonHeaderLen:])
	require.NoError(t, err)
	cqe1 := nvme.DecodeCompletion(resp1.CQE[:])
	assert.EqualValues(t, status.SCSuccess, cqe1.SC)
	assert.EqualValues(t, 10, cqe1.CID, "Compare half completes first")

	resp2, err := pdu.DecodeCapsuleResp(raw2[pdu.CommonHeaderLen:])
	require.NoError(t, err)
	cqe2 := nvme.DecodeCompletion(resp2.CQE[:])
	assert.EqualValues(t, status.SCSuccess, cqe2.SC)
	assert.EqualValues(t, 11, cqe2.CID, "Write half completes second")

	assert.Nil(t, qc.qp.FirstFused)
}

func TestFusedCompareMismatchFailsBothHalves(t *testing.T) {
	qc, client := testQpairConn(t)
	defer client.Close()
	ns := testNamespace()

	compareCmd := nvme.Command{CID: 20, Opcode: nvme.OpcodeCompare, Fuse: nvme.FuseFirst, NSID: 1}
	reqC := claimReq(t, qc, compareCmd)
	mismatched := make([]byte, 512)
	mismatched[0] = 0xff
	qc.pg.readyForSubmit(qc, reqC, ns, compareCmd, mismatched)

	writeCmd := nvme.Command{CID: 21, Opcode: nvme.OpcodeWrite, Fuse: nvme.FuseSecond, NSID: 1}
	reqW := claimReq(t, qc, writeCmd)

	var raw1, raw2 []byte
	done := make(chan struct{})
	go func() {
		raw1 = readPDU(t, client, pdu.CommonHeaderLen+16)
		raw2 = readPDU(t, client, pdu.CommonHeaderLen+16)
		close(done)
	}()

	qc.pg.readyForSubmit(qc, reqW, ns, writeCmd, make([]byte, 512))
	<-done

	resp1, err := pdu.DecodeCapsuleResp(raw1[pdu.CommonHeaderLen:])
	require.NoError(t, err)
	cqe1 := nvme.DecodeCompletion(resp1.CQE[:])
	sct1, sc1 := status.AbortedFailedFused.Code()
	assert.Equal(t, sct1, cqe1.SCT)
	assert.Equal(t, sc1, cqe1.SC)

	resp2, err := pdu.DecodeCapsuleResp(raw2[pdu.CommonHeaderLen:])
	require.NoError(t, err)
	cqe2 := nvme.DecodeCompletion(resp2.CQE[:])
	sct2, sc2 := status.AbortedFailedFused.Code()
	assert.Equal(t, sct2, cqe2.SCT)
	assert.Equal(t, sc2, cqe2.SC)
}

func TestFusedSecondWrongOpcodeFailsBothHalves(t *testing.T) {
	qc, client := testQpairConn(t)
	defer client.Close()
	ns := testNamespace()

	compareCmd := nvme.Command{CID: 30, Opcode: nvme.OpcodeCompare, Fuse: nvme.FuseFirst, NSID: 1}
	reqC := claimReq(t, qc, compareCmd)
	qc.pg.readyForSubmit(qc, reqC, ns, compareCmd, make([]byte, 512))

	readCmd := nvme.Command{CID: 31, Opcode: nvme.OpcodeRead, Fuse: nvme.FuseSecond, NSID: 1}
	reqR := claimReq(t, qc, readCmd)

	var raw1, raw2 []byte
	done := make(chan struct{})
	go func() {
		raw1 = readPDU(t, client, pdu.CommonHeaderLen+16)
		raw2 = readPDU(t, client, pdu.CommonHeaderLen+16)
		close(done)
	}()
	qc.pg.readyForSubmit(qc, reqR, ns, readCmd, make([]byte, 512))
	<-done

	resp1, err := pdu.DecodeCapsuleResp(raw1[pdu.CommonHeaderLen:])
	require.NoError(t, err)
	cqe1 := nvme.DecodeCompletion(resp1.CQE[:])
	sctMissing, scMissing := status.AbortedMissingFused.Code()
	assert.Equal(t, sctMissing, cqe1.SCT)
	assert.Equal(t, scMissing, cqe1.SC)

	resp2, err := pdu.DecodeCapsuleResp(raw2[pdu.CommonHeaderLen:])
	require.NoError(t, err)
	cqe2 := nvme.DecodeCompletion(resp2.CQE[:])
	sctFailed, scFailed := status.AbortedFailedFused.Code()
	assert.Equal(t, sctFailed, cqe2.SCT)
	assert.Equal(t, scFailed, cqe2.SC)
}

const termReqLen = pdu.CommonHeaderLen + 8

func TestHandleH2CDataRejectsOverlappingRanges(t *testing.T) {
	qc, client := testQpairConn(t)
	defer client.Close()
	qc.pg.addQpair(qc)

	writeCmd := nvme.Command{CID: 50, Opcode: nvme.OpcodeWrite, NSID: 1}
	req := claimReq(t, qc, writeCmd)
	buf := make([]byte, 512)
	qc.pendingWrites[1] = &pendingWrite{cmd: writeCmd, req: req, buf: buf}

	// First chunk covers [0,256); a second chunk starting at 128 overlaps it
	// and must be rejected rather than silently re-copied.
	qc.pg.handleH2CData(qc, &pdu.PDU{H2CData: &pdu.H2CData{TTag: 1, DataOffset: 0, DataLength: 256}, Data: [][]byte{make([]byte, 256)}})
	assert.Contains(t, qc.pendingWrites, uint16(1))

	done := make(chan struct{})
	go func() {
		readPDU(t, client, termReqLen)
		close(done)
	}()
	qc.pg.handleH2CData(qc, &pdu.PDU{H2CData: &pdu.H2CData{TTag: 1, DataOffset: 128, DataLength: 256}, Data: [][]byte{make([]byte, 256)}})
	<-done

	assert.NotContains(t, qc.pendingWrites, uint16(1), "overlapping grant must be torn down, not accepted")
	assert.Equal(t, qpair.RecvError, qc.qp.Recv)
}

func TestHandleH2CDataRejectsOutOfRangeGrant(t *testing.T) {
	qc, client := testQpairConn(t)
	defer client.Close()
	qc.pg.addQpair(qc)

	writeCmd := nvme.Command{CID: 51, Opcode: nvme.OpcodeWrite, NSID: 1}
	req := claimReq(t, qc, writeCmd)
	buf := make([]byte, 512)
	qc.pendingWrites[2] = &pendingWrite{cmd: writeCmd, req: req, buf: buf}

	done := make(chan struct{})
	go func() {
		readPDU(t, client, termReqLen)
		close(done)
	}()
	qc.pg.handleH2CData(qc, &pdu.PDU{H2CData: &pdu.H2CData{TTag: 2, DataOffset: 400, DataLength: 256}, Data: [][]byte{make([]byte, 256)}})
	<-done

	assert.NotContains(t, qc.pendingWrites, uint16(2), "grant past the buffer end must be rejected, not panic")
	assert.Equal(t, qpair.RecvError, qc.qp.Recv)
}

func TestHandleH2CDataCompletesOnFullNonOverlappingCoverage(t *testing.T) {
	qc, client := testQpairConn(t)
	defer client.Close()
	qc.qp.QID = 1
	qc.pg.addQpair(qc)
	qc.sub = subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	require.NoError(t, qc.sub.AddNamespace(testNamespace()))

	writeCmd := nvme.Command{CID: 52, Opcode: nvme.OpcodeWrite, NSID: 1}
	req := claimReq(t, qc, writeCmd)
	buf := make([]byte, 512)
	qc.pendingWrites[3] = &pendingWrite{cmd: writeCmd, req: req, buf: buf}

	// Two non-overlapping chunks, received out of offset order, must still
	// be recognized as full coverage once both have landed.
	qc.pg.handleH2CData(qc, &pdu.PDU{H2CData: &pdu.H2CData{TTag: 3, DataOffset: 256, DataLength: 256}, Data: [][]byte{make([]byte, 256)}})
	assert.Contains(t, qc.pendingWrites, uint16(3))

	done := make(chan struct{})
	go func() {
		readPDU(t, client, pdu.CommonHeaderLen+16)
		close(done)
	}()
	qc.pg.handleH2CData(qc, &pdu.PDU{H2CData: &pdu.H2CData{TTag: 3, DataOffset: 0, DataLength: 256}, Data: [][]byte{make([]byte, 256)}})
	<-done

	assert.NotContains(t, qc.pendingWrites, uint16(3))
}

func TestFusedSecondWithNoFirstParkedFailsMissingFused(t *testing.T) {
	qc, client := testQpairConn(t)
	defer client.Close()
	ns := testNamespace()

	writeCmd := nvme.Command{CID: 40, Opcode: nvme.OpcodeWrite, Fuse: nvme.FuseSecond, NSID: 1}
	reqW := claimReq(t, qc, writeCmd)

	done := make(chan struct{})
	var raw []byte
	go func() {
		raw = readPDU(t, client, pdu.CommonHeaderLen+16)
		close(done)
	}()
	qc.pg.readyForSubmit(qc, reqW, ns, writeCmd, make([]byte, 512))
	<-done

	resp, err := pdu.DecodeCapsuleResp(raw[pdu.CommonHeaderLen:])
	require.NoError(t, err)
	cqe := nvme.DecodeCompletion(resp.CQE[:])
	sct, sc := status.AbortedMissingFused.Code()
	assert.Equal(t, sct, cqe.SCT)
	assert.Equal(t, sc, cqe.SC)
}
