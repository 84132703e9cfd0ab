package admin

import (
	"encoding/binary"
	"testing"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cdw10ForLogPage(lid uint8, rae bool, numdl uint16) uint32 {
	v := uint32(lid) | uint32(numdl)<<16
	if rae {
		v |= cdw10RAEBit
	}
	return v
}

func TestGetLogPageHealthReturnsZeroedPage(t *testing.T) {
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	c := newTestController()
	data := make([]byte, 512)
	cmd := nvme.Command{CDW10: cdw10ForLogPage(LIDHealth, true, 127)}
	st := GetLogPage(c, sub, cmd, data)
	require.Nil(t, st)
	assert.Equal(t, uint8(0), data[0])
}

func TestGetLogPageUnknownLIDRejected(t *testing.T) {
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	c := newTestController()
	data := make([]byte, 512)
	cmd := nvme.Command{CDW10: cdw10ForLogPage(0x55, true, 127)}
	st := GetLogPage(c, sub, cmd, data)
	require.NotNil(t, st)
	assert.Equal(t, status.InvalidLogPage.SC, st.SC)
}

func TestGetLogPageRAEFalseUnmasksPendingEvent(t *testing.T) {
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	c := newTestController()

	_, satisfied := c.QueueAsyncEvent(ctrlr.AsyncEvent{Kind: "ns_attr"})
	assert.False(t, satisfied)

	// Masked: a second ns_attr event is dropped until unmasked.
	_, satisfied = c.QueueAsyncEvent(ctrlr.AsyncEvent{Kind: "ns_attr"})
	assert.False(t, satisfied)

	data := make([]byte, 1024)
	cmd := nvme.Command{CDW10: cdw10ForLogPage(LIDChangedNS, false, 255)}
	st := GetLogPage(c, sub, cmd, data)
	require.Nil(t, st)

	ev, ok, rejected := c.SubmitAER(9)
	require.Nil(t, rejected)
	require.True(t, ok)
	assert.Equal(t, "ns_attr", ev.Kind)
}

func TestGetLogPageDiscoveryIncludesSubsystemNQN(t *testing.T) {
	sub := subsystem.NewMemSubsystem("nqn.2026-07.io.nvmftcpd:target", "SN", "model", subsystem.SubsystemTypeDiscovery)
	c := newTestController()
	data := make([]byte, 1040)
	cmd := nvme.Command{CDW10: cdw10ForLogPage(LIDDiscovery, true, 259)}
	st := GetLogPage(c, sub, cmd, data)
	require.Nil(t, st)

	numrec := binary.LittleEndian.Uint64(data[8:16])
	assert.Equal(t, uint64(1), numrec)

	entry := data[16 : 16+1024]
	assert.Contains(t, string(entry[256:256+len(sub.NQN())]), sub.NQN())
}

func TestGetLogPageANAReportsGroupsAndMembers(t *testing.T) {
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	require.NoError(t, sub.AddNamespace(subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))))
	require.NoError(t, sub.AddNamespace(subsystem.NewMemNamespace(2, bdev.NewMemory(10, 512))))
	require.NoError(t, sub.SetANAGroupState(1, subsystem.ANAInaccessible))

	c := newTestController()
	data := make([]byte, 4096)
	cmd := nvme.Command{CDW10: cdw10ForLogPage(LIDANA, true, 1023)}
	st := GetLogPage(c, sub, cmd, data)
	require.Nil(t, st)

	ngrps := binary.LittleEndian.Uint64(data[0:8])
	require.Equal(t, uint64(1), ngrps)

	desc := data[16:]
	grpid := binary.LittleEndian.Uint32(desc[0:4])
	nsidCount := binary.LittleEndian.Uint32(desc[4:8])
	assert.Equal(t, uint32(1), grpid)
	assert.Equal(t, uint32(2), nsidCount)
	assert.Equal(t, byte(subsystem.ANAInaccessible), desc[16], "ANA state lives at descriptor offset 16, not 24")
}

func TestGetLogPageOffsetResumesPartialRead(t *testing.T) {
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	c := newTestController()
	data := make([]byte, 8)
	cmd := nvme.Command{CDW10: cdw10ForLogPage(LIDFirmware, true, 1), CDW12: 8}
	st := GetLogPage(c, sub, cmd, data)
	require.Nil(t, st)
	// Offset 8 into a zeroed firmware log still yields zero bytes, but must
	// not panic or wrap around.
	assert.Equal(t, make([]byte, 8), data)
}
