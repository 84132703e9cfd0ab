// Package status models NVMe completion status (SCT/SC) as a Go error type.
//
// Every exported operation in the nvmf tree that can fail to the host
// returns a *Status (or wraps one) rather than an ad-hoc error string, so
// that the capsule-response path can always recover an sct/sc pair to put
// on the wire. Status follows the same error-interface-plus-Unwrap shape as
// pkg/adapter.ProtocolError, re-typed from HTTP/NFS/SMB codes to NVMe sct/sc.
package status

import "fmt"

// Status code type (SCT), the 3-bit field at bits 11:9 of the NVMe
// completion status field (bits 27:25 of DW3).
const (
	SCTGeneric       uint8 = 0x0
	SCTCommandSpecific uint8 = 0x1
	SCTMediaError    uint8 = 0x2
	SCTPath          uint8 = 0x3
	SCTVendorSpecific uint8 = 0x7
)

// Generic command status codes (SCT = Generic).
const (
	SCSuccess                 uint8 = 0x00
	SCInvalidOpcode           uint8 = 0x01
	SCInvalidField            uint8 = 0x02
	SCCommandIDConflict       uint8 = 0x03
	SCDataTransferError       uint8 = 0x04
	SCAbortedPowerLoss        uint8 = 0x05
	SCInternalDeviceError     uint8 = 0x06
	SCAbortedByRequest        uint8 = 0x07
	SCAbortedSQDeleted        uint8 = 0x08
	SCAbortedFailedFused      uint8 = 0x09
	SCAbortedMissingFused     uint8 = 0x0A
	SCInvalidNamespaceOrFormat uint8 = 0x0B
	SCCommandSequenceError    uint8 = 0x0C
	SCInvalidSGLSegDescriptor uint8 = 0x0D
	SCInvalidNumSGLDescriptors uint8 = 0x0E
	SCDataSGLLengthInvalid    uint8 = 0x0F
	SCMetadataSGLLengthInvalid uint8 = 0x10
	SCSGLDescriptorTypeInvalid uint8 = 0x11
	SCInvalidControllerMemBuf uint8 = 0x12
	SCInvalidPRPOffset        uint8 = 0x13
	SCAtomicWriteUnitExceeded uint8 = 0x14
	SCOperationDenied         uint8 = 0x15
	SCInvalidSGLOffset        uint8 = 0x16
	SCHostIDInconsistentFormat uint8 = 0x18
	SCKeepAliveExpired        uint8 = 0x19
	SCKeepAliveInvalid        uint8 = 0x1A
	SCAbortedPreempt          uint8 = 0x1B
	SCSanitizeFailed          uint8 = 0x1C
	SCSanitizeInProgress      uint8 = 0x1D
	SCSGLDataBlockGranularityInvalid uint8 = 0x1E
	SCCommandNotSupportedForQueue uint8 = 0x1F
	SCNamespaceIsWriteProtected   uint8 = 0x20
	SCCommandInterrupted      uint8 = 0x21
	SCTransientTransportError uint8 = 0x22
	SCLBAOutOfRange           uint8 = 0x80
	SCCapacityExceeded        uint8 = 0x81
	SCNamespaceNotReady       uint8 = 0x82
	SCReservationConflict     uint8 = 0x83
	SCFormatInProgress        uint8 = 0x84
)

// Command-specific status codes (SCT = Command Specific), admin-path subset.
const (
	SCCompletionQueueInvalid uint8 = 0x00
	SCInvalidQueueIdentifier uint8 = 0x01
	SCInvalidQueueSize       uint8 = 0x02
	SCAbortCommandLimitExceeded uint8 = 0x03
	SCAsyncEventRequestLimitExceeded uint8 = 0x05
	SCInvalidFirmwareSlot    uint8 = 0x06
	SCInvalidFirmwareImage   uint8 = 0x07
	SCInvalidInterruptVector uint8 = 0x08
	SCInvalidLogPage         uint8 = 0x09
	SCInvalidFormat          uint8 = 0x0A
	SCFirmwareActivationRequiresReset uint8 = 0x0B
	SCInvalidQueueDeletion   uint8 = 0x0C
	SCFeatureIDNotSaveable   uint8 = 0x0D
	SCFeatureNotChangeable   uint8 = 0x0E
	SCFeatureNotNamespaceSpecific uint8 = 0x0F
	SCFirmwareActivationProhibited uint8 = 0x10
	SCOverlappingRange       uint8 = 0x11
	SCNamespaceInsufficientCapacity uint8 = 0x12
	SCNamespaceIDUnavailable uint8 = 0x13
	SCNamespaceAlreadyAttached uint8 = 0x15
	SCNamespaceIsPrivate     uint8 = 0x16
	SCNamespaceNotAttached   uint8 = 0x17
	SCThinProvisioningNotSupported uint8 = 0x18
	SCControllerListInvalid  uint8 = 0x19
	SCConnectFormatInvalid   uint8 = 0x80
	SCConnectControllerBusy  uint8 = 0x81
	SCConnectInvalidParam    uint8 = 0x82
	SCConnectRestartDiscovery uint8 = 0x83
	SCConnectInvalidHost     uint8 = 0x84
	SCDiscoveryRestart       uint8 = 0x90
	SCAuthenticationRequired uint8 = 0x91
)

// Media-error status codes (SCT = Media Error).
const (
	SCWriteFaults            uint8 = 0x80
	SCUnrecoveredReadError   uint8 = 0x81
	SCGuardCheckError        uint8 = 0x82
	SCApplicationTagCheckError uint8 = 0x83
	SCReferenceTagCheckError uint8 = 0x84
	SCCompareFailure         uint8 = 0x85
	SCAccessDenied           uint8 = 0x86
	SCDeallocatedLBA         uint8 = 0x87
)

// Path-related status codes (SCT = Path Related).
const (
	SCInternalPathError        uint8 = 0x00
	SCControllerPathError      uint8 = 0x01
	SCHostPathError            uint8 = 0x02
	SCAbortedByHost            uint8 = 0x03
	SCAsymmetricAccessPersistentLoss uint8 = 0x70
	SCAsymmetricAccessInaccessible   uint8 = 0x71
	SCAsymmetricAccessTransition     uint8 = 0x72
)

// Status is an NVMe completion status, optionally wrapping an underlying
// cause (a bdev error, a decode error, ...). It implements error and
// supports errors.Is/errors.As through Unwrap.
type Status struct {
	SCT uint8
	SC  uint8
	Msg string
	Err error
}

// New builds a Status with no wrapped cause.
func New(sct, sc uint8, msg string) *Status {
	return &Status{SCT: sct, SC: sc, Msg: msg}
}

// Wrap builds a Status that also carries an underlying cause.
func Wrap(sct, sc uint8, msg string, err error) *Status {
	return &Status{SCT: sct, SC: sc, Msg: msg, Err: err}
}

func (s *Status) Error() string {
	if s.Err != nil {
		return fmt.Sprintf("nvmf status sct=0x%x sc=0x%x: %s: %v", s.SCT, s.SC, s.Msg, s.Err)
	}
	return fmt.Sprintf("nvmf status sct=0x%x sc=0x%x: %s", s.SCT, s.SC, s.Msg)
}

// Code returns the (sct, sc) pair to place in the completion DW3 status field.
func (s *Status) Code() (sct, sc uint8) {
	return s.SCT, s.SC
}

func (s *Status) Unwrap() error {
	return s.Err
}

// Is allows errors.Is(err, status.Success) style comparisons by sct/sc
// identity rather than pointer identity, since Status values are frequently
// constructed fresh at the point of use.
func (s *Status) Is(target error) bool {
	t, ok := target.(*Status)
	if !ok {
		return false
	}
	return t.SCT == s.SCT && t.SC == s.SC
}

// Retryable reports whether CRD (Command Retry Delay) may legitimately be
// set for this status when the host has enabled ACRE.
func (s *Status) Retryable() bool {
	switch {
	case s.SCT == SCTGeneric && s.SC == SCNamespaceNotReady:
		return true
	case s.SCT == SCTGeneric && s.SC == SCTransientTransportError:
		return true
	case s.SCT == SCTPath:
		return true
	default:
		return false
	}
}

// Sentinel statuses used pervasively across admin/io dispatch; compare with
// errors.Is rather than struct equality since wrapped instances differ.
var (
	Success                = New(SCTGeneric, SCSuccess, "success")
	InvalidOpcode          = New(SCTGeneric, SCInvalidOpcode, "invalid opcode")
	InvalidField           = New(SCTGeneric, SCInvalidField, "invalid field in command")
	CommandIDConflict      = New(SCTGeneric, SCCommandIDConflict, "command id conflict")
	DataTransferError      = New(SCTGeneric, SCDataTransferError, "data transfer error")
	InternalDeviceError    = New(SCTGeneric, SCInternalDeviceError, "internal device error")
	AbortedByRequest       = New(SCTGeneric, SCAbortedByRequest, "aborted by request")
	AbortedFailedFused     = New(SCTGeneric, SCAbortedFailedFused, "aborted, failed fused command")
	AbortedMissingFused    = New(SCTGeneric, SCAbortedMissingFused, "aborted, missing fused command")
	InvalidNamespace       = New(SCTGeneric, SCInvalidNamespaceOrFormat, "invalid namespace or format")
	CommandSequenceError   = New(SCTGeneric, SCCommandSequenceError, "command sequence error")
	SGLDescriptorTypeInvalid = New(SCTGeneric, SCSGLDescriptorTypeInvalid, "SGL descriptor type invalid")
	DataSGLLengthInvalid   = New(SCTGeneric, SCDataSGLLengthInvalid, "data SGL length invalid")
	KeepAliveExpired       = New(SCTGeneric, SCKeepAliveExpired, "keep-alive timer expired")
	TransientTransportError = New(SCTGeneric, SCTransientTransportError, "command transient transport error")
	LBAOutOfRange          = New(SCTGeneric, SCLBAOutOfRange, "LBA out of range")
	NamespaceNotReady      = New(SCTGeneric, SCNamespaceNotReady, "namespace not ready")
	ReservationConflict    = New(SCTGeneric, SCReservationConflict, "reservation conflict")

	InvalidQueueIdentifier = New(SCTCommandSpecific, SCInvalidQueueIdentifier, "invalid queue identifier")
	InvalidLogPage         = New(SCTCommandSpecific, SCInvalidLogPage, "invalid log page")
	FeatureIDNotSaveable   = New(SCTCommandSpecific, SCFeatureIDNotSaveable, "feature identifier not saveable")
	FeatureNotChangeable   = New(SCTCommandSpecific, SCFeatureNotChangeable, "feature not changeable")
	NamespaceNotAttached   = New(SCTCommandSpecific, SCNamespaceNotAttached, "namespace not attached")
	ConnectFormatInvalid   = New(SCTCommandSpecific, SCConnectFormatInvalid, "incompatible format")
	ConnectControllerBusy  = New(SCTCommandSpecific, SCConnectControllerBusy, "controller busy")
	ConnectInvalidParam    = New(SCTCommandSpecific, SCConnectInvalidParam, "connect invalid parameter")
	ConnectInvalidHost     = New(SCTCommandSpecific, SCConnectInvalidHost, "connect invalid host")

	GuardCheckError        = New(SCTMediaError, SCGuardCheckError, "guard check error")
	ApplicationTagCheckError = New(SCTMediaError, SCApplicationTagCheckError, "application tag check error")
	ReferenceTagCheckError = New(SCTMediaError, SCReferenceTagCheckError, "reference tag check error")
	CompareFailure         = New(SCTMediaError, SCCompareFailure, "compare failure")

	AsymmetricAccessInaccessible = New(SCTPath, SCAsymmetricAccessInaccessible, "asymmetric access inaccessible")
	AsymmetricAccessPersistentLoss = New(SCTPath, SCAsymmetricAccessPersistentLoss, "asymmetric access persistent loss")
	AsymmetricAccessTransition   = New(SCTPath, SCAsymmetricAccessTransition, "asymmetric access state transition")
)

// FromANAState maps a namespace's ANA state to the path status the host
// should observe for a submitted I/O command, or nil if the state permits
// the command to proceed to the bdev.
func FromANAState(state string) *Status {
	switch state {
	case "OPTIMIZED", "NON_OPTIMIZED":
		return nil
	case "INACCESSIBLE":
		return AsymmetricAccessInaccessible
	case "PERSISTENT_LOSS":
		return AsymmetricAccessPersistentLoss
	case "CHANGE":
		return AsymmetricAccessTransition
	default:
		return InternalDeviceError
	}
}
