package io

import (
	"encoding/binary"
	"testing"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeReservationData(crkey, newkey uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], crkey)
	binary.LittleEndian.PutUint64(buf[8:16], newkey)
	return buf
}

func TestReservationRegisterThenAcquire(t *testing.T) {
	ns := subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))
	var host [16]byte
	host[0] = 1

	st := ReservationRegister(ns, host, nvme.Command{CDW10: regActionRegister}, encodeReservationData(0, 0xBEEF))
	require.Nil(t, st)

	st = ReservationAcquire(ns, host, nvme.Command{CDW10: acqActionAcquire}, subsystem.ReservationExclusiveAccess, encodeReservationData(0xBEEF, 0))
	require.Nil(t, st)

	holder, rtype, held := ns.ReservationHolder()
	require.True(t, held)
	assert.Equal(t, host, holder)
	assert.Equal(t, subsystem.ReservationExclusiveAccess, rtype)
}

func TestReservationAcquireRejectsKeyMismatch(t *testing.T) {
	ns := subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))
	var host [16]byte
	host[0] = 1
	require.Nil(t, ReservationRegister(ns, host, nvme.Command{CDW10: regActionRegister}, encodeReservationData(0, 0xBEEF)))

	st := ReservationAcquire(ns, host, nvme.Command{CDW10: acqActionAcquire}, subsystem.ReservationWriteExclusive, encodeReservationData(0xDEAD, 0))
	require.NotNil(t, st)
	assert.Equal(t, status.SCReservationConflict, st.SC)
}

func TestReservationReleaseRequiresHolder(t *testing.T) {
	ns := subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))
	var hostA, hostB [16]byte
	hostA[0], hostB[0] = 1, 2
	require.Nil(t, ReservationRegister(ns, hostA, nvme.Command{CDW10: regActionRegister}, encodeReservationData(0, 1)))
	require.Nil(t, ReservationAcquire(ns, hostA, nvme.Command{CDW10: acqActionAcquire}, subsystem.ReservationExclusiveAccess, encodeReservationData(1, 0)))

	st := ReservationRelease(ns, hostB)
	require.NotNil(t, st)

	st = ReservationRelease(ns, hostA)
	require.Nil(t, st)
	_, _, held := ns.ReservationHolder()
	assert.False(t, held)
}

func TestReservationUnregisterClearsHoldAndRequiresKey(t *testing.T) {
	ns := subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))
	var host [16]byte
	host[0] = 1
	require.Nil(t, ReservationRegister(ns, host, nvme.Command{CDW10: regActionRegister}, encodeReservationData(0, 7)))

	st := ReservationRegister(ns, host, nvme.Command{CDW10: regActionUnregister}, encodeReservationData(99, 0))
	require.NotNil(t, st)

	st = ReservationRegister(ns, host, nvme.Command{CDW10: regActionUnregister}, encodeReservationData(7, 0))
	require.Nil(t, st)
	assert.Empty(t, ns.RegisteredHosts())
}

func TestReservationReportListsRegisteredHosts(t *testing.T) {
	ns := subsystem.NewMemNamespace(1, bdev.NewMemory(10, 512))
	var host [16]byte
	host[0] = 9
	require.Nil(t, ReservationRegister(ns, host, nvme.Command{CDW10: regActionRegister}, encodeReservationData(0, 55)))

	data := make([]byte, 48)
	st := ReservationReport(ns, data)
	require.Nil(t, st)
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[4:6]))
	assert.Equal(t, uint64(55), binary.LittleEndian.Uint64(data[24:32]))
}
