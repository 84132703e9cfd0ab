// Package io implements the I/O command set dispatched over a connected
// qpair (qid>0): Read/Write/Compare/Flush/WriteZeroes/DatasetManagement,
// plus the Reservation Register/Acquire/Release/Report commands, §4.6. It
// owns the four pre-dispatch admission checks every I/O command passes
// through before reaching the namespace's bdev, and translates an accepted
// command into a bdev.BlockRequest.
package io

import (
	"context"
	"errors"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
)

// Admit runs the four pre-dispatch checks §4.6 requires of every I/O
// command before it may reach a bdev: the controller must be enabled, the
// namespace must exist and be active, its ANA group must permit this
// command, and any standing reservation must not exclude hostID.
func Admit(c *ctrlr.Controller, sub subsystem.Subsystem, hostID [16]byte, cmd nvme.Command) (subsystem.Namespace, *status.Status) {
	if !c.Registers.CCEnabled() || !c.Registers.CSTSReady() {
		return nil, status.New(status.SCTGeneric, status.SCInternalDeviceError, "controller not enabled")
	}

	ns, ok := sub.FindNamespace(cmd.NSID)
	if !ok {
		return nil, status.InvalidNamespace
	}

	for _, g := range sub.ANAGroups() {
		if g.GroupID == ns.ANAGroupID() {
			if st := status.FromANAState(g.State.String()); st != nil {
				return nil, st
			}
			break
		}
	}

	if st := admitReservation(ns, hostID, isWriteOpcode(cmd.Opcode)); st != nil {
		return nil, st
	}
	return ns, nil
}

// isWriteOpcode reports whether op belongs to the write-set a
// WriteExclusive-family reservation blocks, §4.6 rule 4: Write, Flush,
// Write Zeroes and Dataset Management. Compare is deliberately excluded —
// it's grouped with Read and only an ExclusiveAccess-family reservation
// (which admitReservation blocks unconditionally) excludes it.
func isWriteOpcode(op uint8) bool {
	switch op {
	case nvme.OpcodeWrite, nvme.OpcodeFlush, nvme.OpcodeWriteZeroes, nvme.OpcodeDatasetMgmt:
		return true
	default:
		return false
	}
}

// admitReservation applies the NVMe reservation access rules: a
// WriteExclusive-family reservation only blocks writes from non-holders;
// an ExclusiveAccess-family reservation blocks every command; the
// "...AllRegs" variants admit any host still registered against the
// namespace rather than only the holder.
func admitReservation(ns subsystem.Namespace, hostID [16]byte, isWrite bool) *status.Status {
	holder, rtype, held := ns.ReservationHolder()
	if !held || holder == hostID {
		return nil
	}

	allRegs := rtype == subsystem.ReservationWriteExclusiveAllRegs || rtype == subsystem.ReservationExclusiveAccessAllRegs
	if allRegs {
		if _, registered := ns.RegisteredHosts()[hostID]; registered {
			return nil
		}
		return status.ReservationConflict
	}

	switch rtype {
	case subsystem.ReservationWriteExclusive, subsystem.ReservationWriteExclusiveRegsOnly:
		if !isWrite {
			return nil
		}
		return status.ReservationConflict
	case subsystem.ReservationExclusiveAccess, subsystem.ReservationExclusiveAccessRegsOnly:
		return status.ReservationConflict
	default:
		return nil
	}
}

func startLBA(cmd nvme.Command) uint64 { return uint64(cmd.CDW10) | uint64(cmd.CDW11)<<32 }
func numBlocks(cmd nvme.Command) uint32 { return (cmd.CDW12 & 0xffff) + 1 }

// Submit converts an admitted command into a bdev.BlockRequest and
// dispatches it. An opcode this target doesn't model is passed through
// only if the bdev reports NVMe admin passthrough support; otherwise it's
// rejected with INVALID_OPCODE before ever reaching the bdev.
func Submit(ctx context.Context, ns subsystem.Namespace, cmd nvme.Command, buf []byte) (<-chan bdev.BlockCompletion, *status.Status) {
	dev := ns.BlockDevice()
	blockSize := uint64(dev.BlockSize())

	switch cmd.Opcode {
	case nvme.OpcodeRead:
		return dev.Submit(ctx, &bdev.BlockRequest{
			Opcode: bdev.IORead,
			Offset: startLBA(cmd) * blockSize,
			Length: numBlocks(cmd) * uint32(blockSize),
			Buf:    buf,
		}), nil
	case nvme.OpcodeWrite:
		return dev.Submit(ctx, &bdev.BlockRequest{
			Opcode: bdev.IOWrite,
			Offset: startLBA(cmd) * blockSize,
			Length: numBlocks(cmd) * uint32(blockSize),
			Buf:    buf,
		}), nil
	case nvme.OpcodeCompare:
		return dev.Submit(ctx, &bdev.BlockRequest{
			Opcode: bdev.IOCompare,
			Offset: startLBA(cmd) * blockSize,
			Length: numBlocks(cmd) * uint32(blockSize),
			Buf:    buf,
		}), nil
	case nvme.OpcodeFlush:
		return dev.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IOFlush}), nil
	case nvme.OpcodeWriteZeroes:
		return dev.Submit(ctx, &bdev.BlockRequest{
			Opcode: bdev.IOWriteZeroes,
			Offset: startLBA(cmd) * blockSize,
			Length: numBlocks(cmd) * uint32(blockSize),
		}), nil
	case nvme.OpcodeDatasetMgmt:
		return dev.Submit(ctx, &bdev.BlockRequest{
			Opcode: bdev.IOUnmap,
			Offset: startLBA(cmd) * blockSize,
			Length: numBlocks(cmd) * uint32(blockSize),
		}), nil
	default:
		if dev.Supports(bdev.IONVMeAdminPassthru) {
			return dev.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IONVMeAdminPassthru, Buf: buf}), nil
		}
		return nil, status.InvalidOpcode
	}
}

// MapBlockError translates a BlockDevice completion error into the NVMe
// sct/sc pair documented on each sentinel in internal/nvmf/bdev/errors.go.
// A *status.Status passed through unchanged lets a BlockDevice implementation
// report an exact completion status when the sentinels don't fit.
func MapBlockError(err error) *status.Status {
	if err == nil {
		return nil
	}
	if st, ok := err.(*status.Status); ok {
		return st
	}
	switch {
	case errors.Is(err, bdev.ErrOutOfRange):
		return status.Wrap(status.SCTGeneric, status.SCLBAOutOfRange, err.Error(), err)
	case errors.Is(err, bdev.ErrCompareFailed):
		return status.Wrap(status.SCTMediaError, status.SCCompareFailure, err.Error(), err)
	case errors.Is(err, bdev.ErrNotSupported):
		return status.Wrap(status.SCTGeneric, status.SCInvalidOpcode, err.Error(), err)
	case errors.Is(err, bdev.ErrReadOnly):
		return status.Wrap(status.SCTGeneric, status.SCNamespaceIsWriteProtected, err.Error(), err)
	case errors.Is(err, bdev.ErrUnavailable):
		return status.Wrap(status.SCTGeneric, status.SCNamespaceNotReady, err.Error(), err)
	case errors.Is(err, bdev.ErrIntegrityCheckFailed):
		return status.Wrap(status.SCTMediaError, status.SCUnrecoveredReadError, err.Error(), err)
	default:
		return status.Wrap(status.SCTGeneric, status.SCInternalDeviceError, err.Error(), err)
	}
}
