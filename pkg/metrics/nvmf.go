package metrics

import "time"

// NVMfMetrics provides observability for the NVMe/TCP transport.
//
// Implementations collect metrics about qpair lifecycle, per-opcode request
// latency, and bytes transferred. This interface is optional — pass nil to
// disable metrics collection with zero overhead, the same convention the
// NFS and S3 adapters use.
type NVMfMetrics interface {
	// RecordQpairAccepted increments the total accepted-qpairs counter for
	// the given subsystem NQN and qpair kind ("admin" or "io").
	RecordQpairAccepted(nqn string, kind string)

	// RecordQpairClosed increments the total closed-qpairs counter.
	RecordQpairClosed(nqn string, kind string, reason string)

	// SetActiveQpairs updates the current qpair gauge for a subsystem.
	SetActiveQpairs(nqn string, kind string, count int32)

	// SetActiveControllers updates the current controller gauge for a
	// subsystem.
	SetActiveControllers(nqn string, count int32)

	// RecordRequest records a completed NVMe command with its opcode,
	// subsystem, duration, and completion status.
	//
	// Parameters:
	//   - opcode: human-readable opcode name (e.g. "READ", "WRITE", "IDENTIFY")
	//   - nqn: subsystem NQN the command targeted
	//   - duration: time from READY_TO_EXECUTE to EXECUTED
	//   - statusCode: NVMe status string (e.g. "SUCCESS", "INVALID_FIELD"),
	//     empty meaning success
	RecordRequest(opcode string, nqn string, duration time.Duration, statusCode string)

	// RecordBytesTransferred records bytes moved by a data command.
	//
	// Parameters:
	//   - opcode: "READ" or "WRITE"
	//   - nqn: subsystem NQN
	//   - bytes: number of bytes transferred
	RecordBytesTransferred(opcode string, nqn string, bytes uint64)

	// RecordR2T records an R2T round trip for a WRITE command, distinct
	// from in-capsule writes that never need one.
	RecordR2T(nqn string)

	// RecordKeepAlive records a received KEEP_ALIVE command for a
	// controller, keyed by NQN.
	RecordKeepAlive(nqn string)

	// RecordAssociationTimeout records a controller torn down for missing
	// its keep-alive timeout.
	RecordAssociationTimeout(nqn string)

	// RecordReservationConflict records an I/O or reservation command
	// rejected with RESERVATION_CONFLICT.
	RecordReservationConflict(nqn string)
}
