package io

import (
	"context"
	"testing"
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnabledController() *ctrlr.Controller {
	opts := ctrlr.Options{MaxQueueDepth: 128, MaxQpairsPerCtrlr: 8}
	c := ctrlr.NewAdminController(1, opts, ctrlr.ConnectData{}, time.Minute, time.Now())
	c.PropertySet(ctrlr.PropOffsetCC, 1)
	return c
}

func TestAdmitRejectsWhenControllerNotEnabled(t *testing.T) {
	opts := ctrlr.Options{MaxQueueDepth: 128, MaxQpairsPerCtrlr: 8}
	c := ctrlr.NewAdminController(1, opts, ctrlr.ConnectData{}, time.Minute, time.Now())
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	require.NoError(t, sub.AddNamespace(subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))))

	var host [16]byte
	_, st := Admit(c, sub, host, nvme.Command{NSID: 1, Opcode: nvme.OpcodeRead})
	require.NotNil(t, st)
}

func TestAdmitRejectsUnknownNamespace(t *testing.T) {
	c := newEnabledController()
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)

	var host [16]byte
	_, st := Admit(c, sub, host, nvme.Command{NSID: 9, Opcode: nvme.OpcodeRead})
	require.NotNil(t, st)
	assert.Equal(t, status.InvalidNamespace.SC, st.SC)
}

func TestAdmitRejectsInaccessibleANA(t *testing.T) {
	c := newEnabledController()
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	require.NoError(t, sub.AddNamespace(subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))))
	require.NoError(t, sub.SetANAGroupState(1, subsystem.ANAInaccessible))

	var host [16]byte
	_, st := Admit(c, sub, host, nvme.Command{NSID: 1, Opcode: nvme.OpcodeRead})
	require.NotNil(t, st)
	assert.Equal(t, status.AsymmetricAccessInaccessible.SC, st.SC)
}

func TestAdmitRejectsWriteAgainstExclusiveReservationHolder(t *testing.T) {
	c := newEnabledController()
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	ns := subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))
	require.NoError(t, sub.AddNamespace(ns))

	var hostA, hostB [16]byte
	hostA[0], hostB[0] = 1, 2
	ns.Register(hostA, 1)
	require.NoError(t, ns.Acquire(hostA, subsystem.ReservationExclusiveAccess))

	_, st := Admit(c, sub, hostB, nvme.Command{NSID: 1, Opcode: nvme.OpcodeWrite})
	require.NotNil(t, st)
	assert.Equal(t, status.SCReservationConflict, st.SC)

	_, st = Admit(c, sub, hostA, nvme.Command{NSID: 1, Opcode: nvme.OpcodeWrite})
	assert.Nil(t, st)
}

func TestAdmitAllowsReadsUnderWriteExclusiveReservation(t *testing.T) {
	c := newEnabledController()
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	ns := subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))
	require.NoError(t, sub.AddNamespace(ns))

	var hostA, hostB [16]byte
	hostA[0], hostB[0] = 1, 2
	ns.Register(hostA, 1)
	require.NoError(t, ns.Acquire(hostA, subsystem.ReservationWriteExclusive))

	_, st := Admit(c, sub, hostB, nvme.Command{NSID: 1, Opcode: nvme.OpcodeRead})
	assert.Nil(t, st)

	_, st = Admit(c, sub, hostB, nvme.Command{NSID: 1, Opcode: nvme.OpcodeWrite})
	require.NotNil(t, st)
	assert.Equal(t, status.SCReservationConflict, st.SC)
}

func TestAdmitAllowsCompareUnderWriteExclusiveReservation(t *testing.T) {
	c := newEnabledController()
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	ns := subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))
	require.NoError(t, sub.AddNamespace(ns))

	var hostA, hostB [16]byte
	hostA[0], hostB[0] = 1, 2
	ns.Register(hostA, 1)
	require.NoError(t, ns.Acquire(hostA, subsystem.ReservationWriteExclusive))

	_, st := Admit(c, sub, hostB, nvme.Command{NSID: 1, Opcode: nvme.OpcodeCompare})
	assert.Nil(t, st, "Compare is grouped with Read, not the write-set")
}

func TestAdmitBlocksFlushUnderWriteExclusiveReservation(t *testing.T) {
	c := newEnabledController()
	sub := subsystem.NewMemSubsystem("nqn.test", "SN", "model", subsystem.SubsystemTypeNVMe)
	ns := subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))
	require.NoError(t, sub.AddNamespace(ns))

	var hostA, hostB [16]byte
	hostA[0], hostB[0] = 1, 2
	ns.Register(hostA, 1)
	require.NoError(t, ns.Acquire(hostA, subsystem.ReservationWriteExclusive))

	_, st := Admit(c, sub, hostB, nvme.Command{NSID: 1, Opcode: nvme.OpcodeFlush})
	require.NotNil(t, st)
	assert.Equal(t, status.SCReservationConflict, st.SC)
}

func TestSubmitReadWritesThroughToBlockDevice(t *testing.T) {
	ns := subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))
	buf := make([]byte, 512)
	ch, st := Submit(context.Background(), ns, nvme.Command{Opcode: nvme.OpcodeRead, CDW12: 0}, buf)
	require.Nil(t, st)
	comp := <-ch
	assert.NoError(t, comp.Err)
}

func TestSubmitUnknownOpcodeRejectedWithoutPassthru(t *testing.T) {
	ns := subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))
	_, st := Submit(context.Background(), ns, nvme.Command{Opcode: 0xEE}, nil)
	require.NotNil(t, st)
	assert.Equal(t, status.InvalidOpcode.SC, st.SC)
}
