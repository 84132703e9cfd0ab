package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for NVMe/TCP transport and controller operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Client / transport attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"
	AttrClientPort = "client.port"
	AttrTransport  = "transport.name" // always "TCP" for this target
	AttrPollGroup  = "transport.poll_group"

	// ========================================================================
	// Qpair attributes
	// ========================================================================
	AttrQpairID   = "nvmf.qpair_id"
	AttrQID       = "nvmf.qid"
	AttrRecvState = "nvmf.recv_state"
	AttrPDUType   = "nvmf.pdu_type"

	// ========================================================================
	// Controller / association attributes
	// ========================================================================
	AttrCntlID  = "nvmf.cntlid"
	AttrSubNQN  = "nvmf.subnqn"
	AttrHostNQN = "nvmf.hostnqn"
	AttrHostID  = "nvmf.hostid"
	AttrKato    = "nvmf.kato"

	// ========================================================================
	// Command / request attributes
	// ========================================================================
	AttrOpcode   = "nvmf.opcode"
	AttrCID      = "nvmf.cid"
	AttrTTag     = "nvmf.ttag"
	AttrNSID     = "nvmf.nsid"
	AttrReqState = "nvmf.req_state"
	AttrSCT      = "nvmf.sct"
	AttrSC       = "nvmf.sc"
	AttrOffset   = "nvmf.offset"
	AttrLength   = "nvmf.length"
	AttrFused    = "nvmf.fused"

	// ========================================================================
	// Feature / log page attributes
	// ========================================================================
	AttrFeatureID = "nvmf.feature_id"
	AttrLogPageID = "nvmf.log_page_id"

	// ========================================================================
	// Backing store attributes (BlockDevice collaborator)
	// ========================================================================
	AttrStoreName = "store.name"
	AttrStoreType = "store.type"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
	AttrRegion    = "storage.region"
)

// Span names for operations.
// Format: nvmf.<command> for NVMe command spans, <component>.<operation>
// for internal operations.
const (
	// ========================================================================
	// Qpair / PDU spans
	// ========================================================================
	SpanQpairRequest = "nvmf.request" // root span for one capsule
	SpanPDURecv      = "nvmf.pdu_recv"
	SpanPDUSend      = "nvmf.pdu_send"
	SpanICReq        = "nvmf.ic_req"

	// ========================================================================
	// Fabrics / admin command spans
	// ========================================================================
	SpanConnect           = "nvmf.CONNECT"
	SpanPropertyGet       = "nvmf.PROPERTY_GET"
	SpanPropertySet       = "nvmf.PROPERTY_SET"
	SpanIdentify          = "nvmf.IDENTIFY"
	SpanGetLogPage        = "nvmf.GET_LOG_PAGE"
	SpanGetFeatures       = "nvmf.GET_FEATURES"
	SpanSetFeatures       = "nvmf.SET_FEATURES"
	SpanAbort             = "nvmf.ABORT"
	SpanAsyncEventRequest = "nvmf.ASYNC_EVENT_REQUEST"
	SpanKeepAlive         = "nvmf.KEEP_ALIVE"
	SpanNSAttachment      = "nvmf.NS_ATTACHMENT"

	// ========================================================================
	// I/O command spans
	// ========================================================================
	SpanRead                = "nvmf.READ"
	SpanWrite               = "nvmf.WRITE"
	SpanCompare             = "nvmf.COMPARE"
	SpanFlush               = "nvmf.FLUSH"
	SpanWriteZeroes         = "nvmf.WRITE_ZEROES"
	SpanDatasetManagement   = "nvmf.DATASET_MANAGEMENT"
	SpanReservationRegister = "nvmf.RESERVATION_REGISTER"
	SpanReservationAcquire  = "nvmf.RESERVATION_ACQUIRE"
	SpanReservationRelease  = "nvmf.RESERVATION_RELEASE"
	SpanReservationReport   = "nvmf.RESERVATION_REPORT"

	// ========================================================================
	// Internal backing-store operations
	// ========================================================================
	SpanBlockRead  = "block.read"
	SpanBlockWrite = "block.write"
	SpanBlockFlush = "block.flush"
)

// ClientIP returns an attribute for client IP address.
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address.
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// PollGroup returns an attribute for the owning poll group index.
func PollGroup(idx int) attribute.KeyValue {
	return attribute.Int(AttrPollGroup, idx)
}

// QpairID returns an attribute for the qpair identifier.
func QpairID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrQpairID, int64(id))
}

// QID returns an attribute for the NVMe queue id.
func QID(qid uint16) attribute.KeyValue {
	return attribute.Int(AttrQID, int(qid))
}

// RecvState returns an attribute for the qpair receive state machine state.
func RecvState(state string) attribute.KeyValue {
	return attribute.String(AttrRecvState, state)
}

// PDUType returns an attribute for a PDU type name.
func PDUType(t string) attribute.KeyValue {
	return attribute.String(AttrPDUType, t)
}

// CntlID returns an attribute for the controller id.
func CntlID(id uint16) attribute.KeyValue {
	return attribute.Int(AttrCntlID, int(id))
}

// SubNQN returns an attribute for the subsystem NQN.
func SubNQN(nqn string) attribute.KeyValue {
	return attribute.String(AttrSubNQN, nqn)
}

// HostNQN returns an attribute for the host NQN.
func HostNQN(nqn string) attribute.KeyValue {
	return attribute.String(AttrHostNQN, nqn)
}

// HostID returns an attribute for the host identifier.
func HostID(id string) attribute.KeyValue {
	return attribute.String(AttrHostID, id)
}

// Kato returns an attribute for the keep-alive timeout, in milliseconds.
func Kato(ms uint32) attribute.KeyValue {
	return attribute.Int64(AttrKato, int64(ms))
}

// Opcode returns an attribute for the NVMe command opcode.
func Opcode(op uint8) attribute.KeyValue {
	return attribute.Int(AttrOpcode, int(op))
}

// CID returns an attribute for the command identifier.
func CID(cid uint16) attribute.KeyValue {
	return attribute.Int(AttrCID, int(cid))
}

// TTag returns an attribute for the transfer tag.
func TTag(ttag uint16) attribute.KeyValue {
	return attribute.Int(AttrTTag, int(ttag))
}

// NSID returns an attribute for the namespace id.
func NSID(nsid uint32) attribute.KeyValue {
	return attribute.Int64(AttrNSID, int64(nsid))
}

// ReqState returns an attribute for the request state machine state.
func ReqState(state string) attribute.KeyValue {
	return attribute.String(AttrReqState, state)
}

// SCT returns an attribute for the NVMe status code type.
func SCT(sct uint8) attribute.KeyValue {
	return attribute.Int(AttrSCT, int(sct))
}

// SC returns an attribute for the NVMe status code.
func SC(sc uint8) attribute.KeyValue {
	return attribute.Int(AttrSC, int(sc))
}

// Offset returns an attribute for a byte offset.
func Offset(off uint64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, int64(off))
}

// Length returns an attribute for a byte length.
func Length(n uint32) attribute.KeyValue {
	return attribute.Int64(AttrLength, int64(n))
}

// Fused returns an attribute for a fused-operation indicator.
func Fused(fused bool) attribute.KeyValue {
	return attribute.Bool(AttrFused, fused)
}

// FeatureID returns an attribute for a Get/Set Features feature identifier.
func FeatureID(id uint8) attribute.KeyValue {
	return attribute.Int(AttrFeatureID, int(id))
}

// LogPageID returns an attribute for a Get Log Page log page identifier.
func LogPageID(id uint8) attribute.KeyValue {
	return attribute.Int(AttrLogPageID, int(id))
}

// StoreName returns an attribute for the backing store name.
func StoreName(name string) attribute.KeyValue {
	return attribute.String(AttrStoreName, name)
}

// StoreType returns an attribute for the backing store type (memory, s3, ...).
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// Bucket returns an attribute for S3 bucket name.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an S3 object key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for a cloud region.
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartCommandSpan starts a span for an NVMe command, tagging it with the
// owning qpair id and the command id, followed by any attrs passed in.
func StartCommandSpan(ctx context.Context, spanName string, qpairID uint64, cid uint16, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		QpairID(qpairID),
		CID(cid),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}

// StartBlockSpan starts a span for a backing-store I/O operation.
func StartBlockSpan(ctx context.Context, operation string, nsid uint32, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		NSID(nsid),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "block."+operation, trace.WithAttributes(allAttrs...))
}

// HandleHex formats a byte slice as a hex-encoded attribute value; handy for
// dumping host identifiers or raw PDU headers during TERM_REQ diagnostics.
func HandleHex(key string, b []byte) attribute.KeyValue {
	return attribute.String(key, fmt.Sprintf("%x", b))
}
