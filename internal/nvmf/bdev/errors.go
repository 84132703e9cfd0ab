package bdev

import "errors"

// Sentinel errors a BlockDevice implementation returns on BlockCompletion.
// Dispatch maps each to an NVMe status at the I/O dispatch boundary (see
// internal/nvmf/io), mirroring the pkg/blocks/errors.go
// "Protocol Mapping" convention re-targeted from NFS/SMB/HTTP codes to
// NVMe sct/sc pairs.
var (
	// ErrOutOfRange indicates the requested byte range exceeds the
	// namespace capacity.
	//
	// NVMe mapping: SCTGeneric / SCLBAOutOfRange
	ErrOutOfRange = errors.New("bdev: offset/length out of range")

	// ErrCompareFailed indicates a COMPARE command's buffer did not match
	// the stored data.
	//
	// NVMe mapping: SCTMediaError / SCCompareFailure
	ErrCompareFailed = errors.New("bdev: compare failure")

	// ErrNotSupported indicates the backing store does not implement the
	// requested operation.
	//
	// NVMe mapping: SCTGeneric / SCInvalidOpcode
	ErrNotSupported = errors.New("bdev: operation not supported")

	// ErrReadOnly indicates the namespace is write-protected.
	//
	// NVMe mapping: SCTGeneric / SCNamespaceIsWriteProtected
	ErrReadOnly = errors.New("bdev: namespace is write protected")

	// ErrUnavailable indicates the backing store is transiently
	// unreachable (e.g. an S3 request failed with a retryable error).
	//
	// NVMe mapping: SCTGeneric / SCNamespaceNotReady
	ErrUnavailable = errors.New("bdev: backing store unavailable")

	// ErrIntegrityCheckFailed indicates the backing store detected
	// corruption while servicing the request.
	//
	// NVMe mapping: SCTMediaError / SCUnrecoveredReadError
	ErrIntegrityCheckFailed = errors.New("bdev: integrity check failed")
)
