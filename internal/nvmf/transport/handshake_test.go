package transport

import (
	"net"
	"testing"
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQpairConn(t *testing.T) (*qpairConn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	tr := testTransport(1)
	t.Cleanup(tr.Stop)
	qc := newQpairConn(server, tr.pollGroups[0], 0, true, 8, 4096)
	return qc, client
}

func TestHandlePropertyGetReadsOffsetFromCDW11(t *testing.T) {
	qc, _ := testQpairConn(t)
	qc.ctrl = ctrlr.NewAdminController(1, testCtrlrOptions(), ctrlr.ConnectData{}, time.Second, time.Now())

	// CAP is an 8-byte property at PropOffsetCC is 4-byte; use CC (offset
	// 0x14) placed in CDW11, not packed into CDW10's low byte.
	cmd := nvme.Command{CDW11: ctrlr.PropOffsetCC}
	cdw0, dw1, st := qc.pg.handlePropertyGet(qc, cmd)
	require.Nil(t, st)
	assert.Zero(t, dw1)
	assert.EqualValues(t, qc.ctrl.Registers.CC, cdw0)
}

func TestHandlePropertyGet8ByteSplitsAcrossCDW0AndDW1(t *testing.T) {
	qc, _ := testQpairConn(t)
	qc.ctrl = ctrlr.NewAdminController(1, testCtrlrOptions(), ctrlr.ConnectData{}, time.Second, time.Now())

	cmd := nvme.Command{CDW11: ctrlr.PropOffsetCAP}
	cdw0, dw1, st := qc.pg.handlePropertyGet(qc, cmd)
	require.Nil(t, st)
	cap := qc.ctrl.Registers.CAP
	assert.EqualValues(t, uint32(cap), cdw0)
	assert.EqualValues(t, uint32(cap>>32), dw1)
}

func TestHandlePropertySet4ByteReadsValueFromCDW12(t *testing.T) {
	qc, _ := testQpairConn(t)
	qc.ctrl = ctrlr.NewAdminController(1, testCtrlrOptions(), ctrlr.ConnectData{}, time.Second, time.Now())

	cmd := nvme.Command{CDW11: ctrlr.PropOffsetAQA, CDW12: 0x00ff00ff}
	st := qc.pg.handlePropertySet(qc, cmd)
	require.Nil(t, st)
	assert.EqualValues(t, 0x00ff00ff, qc.ctrl.Registers.AQA)
}

func TestHandlePropertySet8ByteCombinesCDW12AndCDW13(t *testing.T) {
	qc, _ := testQpairConn(t)
	qc.ctrl = ctrlr.NewAdminController(1, testCtrlrOptions(), ctrlr.ConnectData{}, time.Second, time.Now())

	cmd := nvme.Command{CDW11: ctrlr.PropOffsetASQ, CDW12: 0xaaaaaaaa, CDW13: 0xbbbbbbbb}
	st := qc.pg.handlePropertySet(qc, cmd)
	require.Nil(t, st)
	assert.EqualValues(t, uint64(0xbbbbbbbbaaaaaaaa), qc.ctrl.Registers.ASQ)
}

func testCtrlrOptions() ctrlr.Options {
	return ctrlr.Options{
		MaxQueueDepth:     128,
		MaxQpairsPerCtrlr: 8,
		MaxAqDepth:        128,
		InCapsuleDataSize: 4096,
		MaxIOSize:         131072,
		AbortTimeoutSec:   1,
	}
}
