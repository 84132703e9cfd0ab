package nvme

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandRoundTrip(t *testing.T) {
	in := Command{
		Opcode:     OpcodeWrite,
		Fuse:       FuseFirst,
		PSDT:       PSDTSGL,
		CID:        0x1234,
		NSID:       1,
		SGLSubtype: SGLTransportDataBlock,
		SGLLength:  4096,
		SGLAddress: 0xdeadbeef,
		CDW10:      1, CDW11: 2, CDW12: 3, CDW13: 4, CDW14: 5, CDW15: 6,
	}
	sqe := in.Encode()
	out := Decode(sqe[:])
	assert.Equal(t, in, out)
}

func TestFabricsCommandCarriesFctype(t *testing.T) {
	in := Command{Opcode: OpcodeFabrics, Fctype: FctypeConnect, CID: 7}
	sqe := in.Encode()
	out := Decode(sqe[:])
	assert.Equal(t, FctypeConnect, out.Fctype)
	assert.Equal(t, OpcodeFabrics, out.Opcode)
}

func TestCompletionRoundTrip(t *testing.T) {
	in := Completion{CDW0: 42, SQHD: 3, SQID: 1, CID: 99, SCT: 0x1, SC: 0x02}
	cqe := in.Encode()
	out := DecodeCompletion(cqe[:])
	assert.Equal(t, in.CDW0, out.CDW0)
	assert.Equal(t, in.SQHD, out.SQHD)
	assert.Equal(t, in.SQID, out.SQID)
	assert.Equal(t, in.CID, out.CID)
	assert.Equal(t, in.SCT, out.SCT)
	assert.Equal(t, in.SC, out.SC)
}

func TestIsReadIsWrite(t *testing.T) {
	assert.True(t, Command{Opcode: OpcodeWrite}.IsWrite())
	assert.True(t, Command{Opcode: OpcodeCompare}.IsWrite())
	assert.False(t, Command{Opcode: OpcodeRead}.IsWrite())

	assert.True(t, Command{Opcode: OpcodeRead}.IsRead())
	assert.True(t, Command{Opcode: OpcodeIdentify}.IsRead())
	assert.False(t, Command{Opcode: OpcodeWrite}.IsRead())
}
