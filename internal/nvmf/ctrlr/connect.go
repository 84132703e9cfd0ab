package ctrlr

import (
	"bytes"
	"encoding/binary"
)

// ConnectParams are the Fabrics Connect command's CDW10-12 fields, decoded
// from the SQE (not the attached data payload).
type ConnectParams struct {
	RecFmt uint16
	QID    uint16
	SQSize uint16
	CATTR  uint8
	KATO   uint32
}

// DecodeConnectParams unpacks CDW10/CDW11/CDW12 of a Fabrics Connect SQE.
func DecodeConnectParams(cdw10, cdw11, cdw12 uint32) ConnectParams {
	return ConnectParams{
		RecFmt: uint16(cdw10),
		QID:    uint16(cdw10 >> 16),
		SQSize: uint16(cdw11),
		CATTR:  uint8(cdw11 >> 16),
		KATO:   cdw12,
	}
}

// Connect data payload layout (NVMe-oF Fabrics Connect command data):
// hostid[16] cntlid[2] reserved[238] subnqn[256] hostnqn[256] reserved[256].
const (
	connectDataLen        = 1024
	connectDataSubNQNOff  = 256
	connectDataSubNQNLen  = 256
	connectDataHostNQNOff = 512
	connectDataHostNQNLen = 256
)

// ConnectData is the data payload attached to a Fabrics Connect command.
type ConnectData struct {
	HostID  [16]byte
	CNTLID  uint16
	SubNQN  string
	HostNQN string
}

// DecodeConnectData parses the Connect command's attached data buffer.
// Strings are NUL-terminated within their fixed-width field; trailing
// padding bytes are discarded.
func DecodeConnectData(data []byte) (ConnectData, bool) {
	if len(data) < connectDataLen {
		return ConnectData{}, false
	}
	var d ConnectData
	copy(d.HostID[:], data[0:16])
	d.CNTLID = binary.LittleEndian.Uint16(data[16:18])
	d.SubNQN = nulTerminated(data[connectDataSubNQNOff : connectDataSubNQNOff+connectDataSubNQNLen])
	d.HostNQN = nulTerminated(data[connectDataHostNQNOff : connectDataHostNQNOff+connectDataHostNQNLen])
	return d, true
}

// Encode serializes a ConnectData back into the 1024-byte
// payload format, used by tests constructing a synthetic Connect request.
func (d ConnectData) Encode() []byte {
	buf := make([]byte, connectDataLen)
	copy(buf[0:16], d.HostID[:])
	binary.LittleEndian.PutUint16(buf[16:18], d.CNTLID)
	copy(buf[connectDataSubNQNOff:], []byte(d.SubNQN))
	copy(buf[connectDataHostNQNOff:], []byte(d.HostNQN))
	return buf
}

func nulTerminated(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
