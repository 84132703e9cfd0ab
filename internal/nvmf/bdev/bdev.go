// Package bdev defines the BlockDevice collaborator interface that every
// namespace in a subsystem is backed by, plus reference implementations.
//
// The interface is grounded on the ehrlich-b-go-ublk backend.Backend shape
// (ReadAt/WriteAt/Size/Discard/WriteZeroes/Sync/Stats), generalized to the
// asynchronous, cancellable, zero-copy-capable submission model an NVMe/TCP
// request needs: a BlockDevice never blocks its caller's goroutine, and
// every operation returns a channel the request state machine suspends on.
package bdev

import "context"

// IOType enumerates the operation kinds a BlockDevice may support.
type IOType int

const (
	IORead IOType = iota
	IOWrite
	IOFlush
	IOReset
	IOUnmap
	IOCompare
	IOWriteZeroes
	IOZcopy
	IONVMeAdminPassthru
)

// BlockRequest describes one submitted operation.
type BlockRequest struct {
	Opcode IOType
	Offset uint64 // byte offset
	Length uint32 // byte length
	Buf    []byte // write/compare source, or read destination
}

// BlockCompletion is delivered on the channel BlockDevice.Submit returns.
type BlockCompletion struct {
	Err        error
	NVMeStatus bool // if true, Err (when non-nil) is already an *status.Status
}

// BlockDevice is the collaborator every subsystem.Namespace is backed by.
// Implementations must never block the calling goroutine; long-running
// work is dispatched internally and the completion delivered over the
// returned channel exactly once.
type BlockDevice interface {
	BlockSize() uint32
	BlockCount() uint64
	Supports(io IOType) bool

	Submit(ctx context.Context, req *BlockRequest) <-chan BlockCompletion

	// ZcopyStart returns a buffer the caller may read/write directly and a
	// channel that fires once the backing store has made the buffer valid
	// (read) or reserved the region (write). Callers must always follow up
	// with ZcopyEnd.
	ZcopyStart(ctx context.Context, req *BlockRequest) (buf []byte, done <-chan BlockCompletion, err error)

	// ZcopyEnd releases a zero-copy buffer obtained from ZcopyStart; commit
	// indicates whether a write's contents should be persisted.
	ZcopyEnd(ctx context.Context, req *BlockRequest, commit bool) <-chan BlockCompletion

	Reset(ctx context.Context) <-chan BlockCompletion
}
