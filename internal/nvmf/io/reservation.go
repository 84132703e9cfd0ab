package io

import (
	"encoding/binary"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
)

// Reservation Register actions (CDW10 bits [2:0]).
const (
	regActionRegister   uint32 = 0
	regActionUnregister uint32 = 1
	regActionReplace    uint32 = 2
)

// Reservation Acquire actions (CDW10 bits [2:0]).
const (
	acqActionAcquire  uint32 = 0
	acqActionPreempt  uint32 = 1
	acqActionPreemptAbort uint32 = 2
)

// reservationData is the 16-byte Reservation Register/Acquire data block
// layout this target reads: current key, then either a new key (Register)
// or a preempt key (Acquire).
type reservationData struct {
	CRKey  uint64
	NewKey uint64
}

func decodeReservationData(buf []byte) reservationData {
	if len(buf) < 16 {
		return reservationData{}
	}
	return reservationData{
		CRKey:  binary.LittleEndian.Uint64(buf[0:8]),
		NewKey: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// ReservationRegister implements the Reservation Register command.
func ReservationRegister(ns subsystem.Namespace, hostID [16]byte, cmd nvme.Command, data []byte) *status.Status {
	d := decodeReservationData(data)
	action := cmd.CDW10 & 0x7

	registered := ns.RegisteredHosts()
	existingKey, isRegistered := registered[hostID]

	switch action {
	case regActionRegister:
		if isRegistered {
			return status.New(status.SCTGeneric, status.SCReservationConflict, "host already registered")
		}
		ns.Register(hostID, d.NewKey)
	case regActionUnregister:
		if !isRegistered || existingKey != d.CRKey {
			return status.New(status.SCTGeneric, status.SCReservationConflict, "registration key mismatch")
		}
		ns.Unregister(hostID)
	case regActionReplace:
		if !isRegistered || existingKey != d.CRKey {
			return status.New(status.SCTGeneric, status.SCReservationConflict, "registration key mismatch")
		}
		ns.Register(hostID, d.NewKey)
	default:
		return status.InvalidField
	}
	return nil
}

// ReservationAcquire implements the Reservation Acquire command's
// "acquire" action; preempt/preempt-and-abort are rejected as unsupported
// rather than silently accepted, since this target never tracks multiple
// competing would-be holders to preempt between.
func ReservationAcquire(ns subsystem.Namespace, hostID [16]byte, cmd nvme.Command, rtype subsystem.ReservationType, data []byte) *status.Status {
	action := cmd.CDW10 & 0x7
	if action != acqActionAcquire {
		return status.New(status.SCTCommandSpecific, status.SCInvalidField, "reservation preempt actions are not supported")
	}

	d := decodeReservationData(data)
	registered := ns.RegisteredHosts()
	if key, ok := registered[hostID]; !ok || key != d.CRKey {
		return status.New(status.SCTGeneric, status.SCReservationConflict, "registration key mismatch")
	}

	if err := ns.Acquire(hostID, rtype); err != nil {
		if st, ok := err.(*status.Status); ok {
			return st
		}
		return status.New(status.SCTGeneric, status.SCReservationConflict, err.Error())
	}
	return nil
}

// ReservationRelease implements the Reservation Release command's
// "release" action, relinquishing hostID's own reservation if held.
func ReservationRelease(ns subsystem.Namespace, hostID [16]byte) *status.Status {
	holder, _, held := ns.ReservationHolder()
	if held && holder != hostID {
		return status.New(status.SCTGeneric, status.SCReservationConflict, "release requires holding the reservation")
	}
	ns.Release(hostID)
	return nil
}

// ReservationReport fills data with the Reservation Report response: a
// generation counter placeholder, reservation type, and one 24-byte
// registered-controller entry per registered host, §4.6.
func ReservationReport(ns subsystem.Namespace, data []byte) *status.Status {
	if len(data) < 24 {
		return status.InvalidField
	}
	_, rtype, held := ns.ReservationHolder()
	registered := ns.RegisteredHosts()

	binary.LittleEndian.PutUint32(data[0:4], 0) // GEN
	regCount := len(registered)
	binary.LittleEndian.PutUint16(data[4:6], uint16(regCount))
	if held {
		data[6] = uint8(rtype)
	}

	off := 24
	for hostID, key := range registered {
		if off+24 > len(data) {
			break
		}
		binary.LittleEndian.PutUint64(data[off:off+8], key)
		copy(data[off+8:off+24], hostID[:16])
		off += 24
	}
	return nil
}
