package pdu

import (
	"encoding/binary"
	"fmt"
)

// PDU is a fully-parsed (or fully-assembled) protocol data unit: the common
// header, the decoded type-specific header, the data segment as a list of
// spans, and the negotiated digest state that applied when it was built.
type PDU struct {
	Header CommonHeader

	ICReq      *ICReq
	ICResp     *ICResp
	TermReq    *TermReq
	CapsuleCmd *CapsuleCmd
	CapsuleResp *CapsuleResp
	H2CData    *H2CData
	C2HData    *C2HData
	R2T        *R2T

	Data [][]byte // data segment spans, present for CAPSULE_CMD/H2C_DATA/C2H_DATA

	HeaderDigest uint32
	DataDigest   uint32
}

// cpdaAlign rounds n up to the next multiple of (cpda+1)*4, per the PDO
// alignment rule; cpda/hpda of 0 is 4-byte alignment (the common case).
func cpdaAlign(n int, pda uint8) int {
	align := (int(pda) + 1) * 4
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// EncodeICReq serializes an IC_REQ PDU.
func EncodeICReq(req ICReq) []byte {
	buf := make([]byte, CommonHeaderLen+icReqPSHLen)
	h := CommonHeader{PDUType: TypeICReq, HLen: CommonHeaderLen + icReqPSHLen, PDO: 0, PLen: uint32(len(buf))}
	h.Encode(buf)
	psh := buf[CommonHeaderLen:]
	binary.LittleEndian.PutUint16(psh[0:2], req.PFV)
	psh[2] = req.HPDA
	var digestByte uint8
	if req.DigestHDR {
		digestByte |= 0x01
	}
	if req.DigestData {
		digestByte |= 0x02
	}
	psh[3] = digestByte
	binary.LittleEndian.PutUint32(psh[4:8], req.MaxR2TInFlight)
	return buf
}

// DecodeICReq parses a full IC_REQ PDU buffer (including the common header).
func DecodeICReq(buf []byte) (*ICReq, error) {
	if len(buf) < CommonHeaderLen+8 {
		return nil, fmt.Errorf("pdu: IC_REQ too short")
	}
	psh := buf[CommonHeaderLen:]
	return &ICReq{
		PFV:            binary.LittleEndian.Uint16(psh[0:2]),
		HPDA:           psh[2],
		DigestHDR:      psh[3]&0x01 != 0,
		DigestData:     psh[3]&0x02 != 0,
		MaxR2TInFlight: binary.LittleEndian.Uint32(psh[4:8]),
	}, nil
}

// EncodeICResp serializes an IC_RESP PDU.
func EncodeICResp(resp ICResp) []byte {
	buf := make([]byte, CommonHeaderLen+icRespPSHLen)
	h := CommonHeader{PDUType: TypeICResp, HLen: CommonHeaderLen + icRespPSHLen, PDO: 0, PLen: uint32(len(buf))}
	h.Encode(buf)
	psh := buf[CommonHeaderLen:]
	binary.LittleEndian.PutUint16(psh[0:2], resp.PFV)
	psh[2] = resp.CPDA
	var digestByte uint8
	if resp.DigestHDR {
		digestByte |= 0x01
	}
	if resp.DigestData {
		digestByte |= 0x02
	}
	psh[3] = digestByte
	binary.LittleEndian.PutUint32(psh[4:8], resp.MaxH2CData)
	return buf
}

// DecodeICResp parses a full IC_RESP PDU buffer.
func DecodeICResp(buf []byte) (*ICResp, error) {
	if len(buf) < CommonHeaderLen+8 {
		return nil, fmt.Errorf("pdu: IC_RESP too short")
	}
	psh := buf[CommonHeaderLen:]
	return &ICResp{
		PFV:        binary.LittleEndian.Uint16(psh[0:2]),
		CPDA:       psh[2],
		DigestHDR:  psh[3]&0x01 != 0,
		DigestData: psh[3]&0x02 != 0,
		MaxH2CData: binary.LittleEndian.Uint32(psh[4:8]),
	}, nil
}

// termReqPSHLen is the fixed part of a TERM_REQ type-specific header
// (fes + reserved + fei), excluding the variable diagnostic data copy.
const termReqPSHLen = 8

// EncodeTermReq serializes a H2C_TERM_REQ or C2H_TERM_REQ PDU (direction
// chosen by the caller via t).
func EncodeTermReq(t Type, term TermReq) []byte {
	hlen := CommonHeaderLen + termReqPSHLen
	plen := hlen + len(term.Data)
	buf := make([]byte, plen)
	h := CommonHeader{PDUType: t, HLen: uint8(hlen), PDO: uint8(hlen), PLen: uint32(plen)}
	h.Encode(buf)
	psh := buf[CommonHeaderLen:hlen]
	binary.LittleEndian.PutUint16(psh[0:2], term.FES)
	binary.LittleEndian.PutUint32(psh[4:8], term.FEI)
	copy(buf[hlen:], term.Data)
	return buf
}

// Type-specific header lengths: CAPSULE_CMD carries the 64-byte SQE;
// H2C_DATA/C2H_DATA and R2T each use a 24-byte region.
const capsuleCmdPSHLen = 64
const dataPSHLen = 24
const r2tPSHLen = 24

// EncodeCapsuleCmd builds a CAPSULE_CMD PDU: the header fields, the
// in-capsule Data spans, and the header/data digests when enabled.
// Marshal turns the returned *PDU into wire bytes.
func EncodeCapsuleCmd(cmd CapsuleCmd, hdgst bool, data [][]byte, ddgst bool, pda uint8) *PDU {
	hlen := CommonHeaderLen + capsuleCmdPSHLen
	withHdgst := hlen
	if hdgst {
		withHdgst += DigestLen
	}
	pdo := cpdaAlign(withHdgst, pda)
	dataLen := 0
	for _, d := range data {
		dataLen += len(d)
	}
	plen := pdo + dataLen
	if ddgst && dataLen > 0 {
		plen += DigestLen
	}

	header := make([]byte, hlen)
	h := CommonHeader{PDUType: TypeCapsuleCmd, PDO: uint8(pdo), HLen: uint8(hlen), PLen: uint32(plen)}
	if hdgst {
		h.Flags |= FlagHDGST
	}
	if ddgst && dataLen > 0 {
		h.Flags |= FlagDDGST
	}
	h.Encode(header)
	copy(header[CommonHeaderLen:], cmd.SQE[:])

	p := &PDU{Header: h, CapsuleCmd: &cmd, Data: data}
	if hdgst {
		p.HeaderDigest = CRC32C(header[:hlen])
	}
	if ddgst && dataLen > 0 {
		p.DataDigest = dataDigestOf(data)
	}
	return p
}

// dataDigestOf computes the data digest per §4.1: CRC32C over all data
// spans followed by zero-padding to 4-byte alignment.
func dataDigestOf(data [][]byte) uint32 {
	total := 0
	for _, d := range data {
		total += len(d)
	}
	pad := PadLen(total)
	if pad == 0 {
		return CRC32CMulti(data...)
	}
	all := append([][]byte{}, data...)
	all = append(all, make([]byte, pad))
	return CRC32CMulti(all...)
}

// EncodeH2CData serializes an H2C_DATA PDU carrying data.
func EncodeH2CData(hdr H2CData, data [][]byte, ddgst bool, pda uint8) *PDU {
	return encodeDataPDU(TypeH2CData, hdr.CCCID, hdr.TTag, hdr.DataOffset, hdr.DataLength, 0, data, ddgst, pda)
}

// EncodeC2HData serializes a C2H_DATA PDU carrying data, with optional
// LAST_PDU/SUCCESS flags folded in by the caller via extraFlags.
func EncodeC2HData(hdr C2HData, data [][]byte, ddgst bool, pda uint8, extraFlags uint8) *PDU {
	p := encodeDataPDU(TypeC2HData, hdr.CCCID, hdr.TTag, hdr.DataOffset, hdr.DataLength, extraFlags, data, ddgst, pda)
	p.C2HData = &hdr
	p.H2CData = nil
	return p
}

func encodeDataPDU(t Type, cccid, ttag uint16, dataOffset, dataLength uint32, extraFlags uint8, data [][]byte, ddgst bool, pda uint8) *PDU {
	hlen := CommonHeaderLen + dataPSHLen
	pdo := cpdaAlign(hlen, pda)
	total := 0
	for _, d := range data {
		total += len(d)
	}
	plen := pdo + total
	if ddgst {
		plen += DigestLen
	}

	header := make([]byte, hlen)
	h := CommonHeader{PDUType: t, PDO: uint8(pdo), HLen: uint8(hlen), PLen: uint32(plen), Flags: extraFlags}
	if ddgst {
		h.Flags |= FlagDDGST
	}
	h.Encode(header)
	psh := header[CommonHeaderLen:]
	binary.LittleEndian.PutUint16(psh[0:2], cccid)
	binary.LittleEndian.PutUint16(psh[2:4], ttag)
	binary.LittleEndian.PutUint32(psh[4:8], dataOffset)
	binary.LittleEndian.PutUint32(psh[8:12], dataLength)

	p := &PDU{Header: h, Data: data}
	if t == TypeH2CData {
		p.H2CData = &H2CData{CCCID: cccid, TTag: ttag, DataOffset: dataOffset, DataLength: dataLength}
	} else {
		p.C2HData = &C2HData{CCCID: cccid, TTag: ttag, DataOffset: dataOffset, DataLength: dataLength}
	}
	if ddgst {
		p.DataDigest = dataDigestOf(data)
	}
	return p
}

// EncodeR2T serializes an R2T PDU.
func EncodeR2T(r2t R2T, hdgst bool, pda uint8) *PDU {
	hlen := CommonHeaderLen + r2tPSHLen
	withHdgst := hlen
	if hdgst {
		withHdgst += DigestLen
	}
	header := make([]byte, hlen)
	h := CommonHeader{PDUType: TypeR2T, PDO: uint8(withHdgst), HLen: uint8(hlen), PLen: uint32(withHdgst)}
	if hdgst {
		h.Flags |= FlagHDGST
	}
	h.Encode(header)
	psh := header[CommonHeaderLen:]
	binary.LittleEndian.PutUint16(psh[0:2], r2t.CCCID)
	binary.LittleEndian.PutUint16(psh[2:4], r2t.TTag)
	binary.LittleEndian.PutUint32(psh[4:8], r2t.R2TOffset)
	binary.LittleEndian.PutUint32(psh[8:12], r2t.R2TLength)

	p := &PDU{Header: h, R2T: &r2t}
	if hdgst {
		p.HeaderDigest = CRC32C(header[:hlen])
	}
	return p
}

// EncodeCapsuleResp serializes a CAPSULE_RESP PDU.
func EncodeCapsuleResp(resp CapsuleResp, hdgst bool) *PDU {
	hlen := CommonHeaderLen + 16
	withHdgst := hlen
	if hdgst {
		withHdgst += DigestLen
	}
	header := make([]byte, hlen)
	h := CommonHeader{PDUType: TypeCapsuleResp, PDO: uint8(withHdgst), HLen: uint8(hlen), PLen: uint32(withHdgst)}
	if hdgst {
		h.Flags |= FlagHDGST
	}
	h.Encode(header)
	copy(header[CommonHeaderLen:], resp.CQE[:])

	p := &PDU{Header: h, CapsuleResp: &resp}
	if hdgst {
		p.HeaderDigest = CRC32C(header[:hlen])
	}
	return p
}

// DecodeCapsuleCmd parses a CAPSULE_CMD type-specific header (the 64-byte
// SQE immediately following the common header).
func DecodeCapsuleCmd(psh []byte) (*CapsuleCmd, error) {
	if len(psh) < capsuleCmdPSHLen {
		return nil, fmt.Errorf("pdu: CAPSULE_CMD header too short")
	}
	var cmd CapsuleCmd
	copy(cmd.SQE[:], psh[:capsuleCmdPSHLen])
	return &cmd, nil
}

// DecodeCapsuleResp parses a CAPSULE_RESP type-specific header (the 16-byte
// CQE immediately following the common header).
func DecodeCapsuleResp(psh []byte) (*CapsuleResp, error) {
	if len(psh) < 16 {
		return nil, fmt.Errorf("pdu: CAPSULE_RESP header too short")
	}
	var resp CapsuleResp
	copy(resp.CQE[:], psh[:16])
	return &resp, nil
}

// DecodeH2CData parses an H2C_DATA type-specific header.
func DecodeH2CData(psh []byte) (*H2CData, error) {
	if len(psh) < dataPSHLen {
		return nil, fmt.Errorf("pdu: H2C_DATA header too short")
	}
	return &H2CData{
		CCCID:      binary.LittleEndian.Uint16(psh[0:2]),
		TTag:       binary.LittleEndian.Uint16(psh[2:4]),
		DataOffset: binary.LittleEndian.Uint32(psh[4:8]),
		DataLength: binary.LittleEndian.Uint32(psh[8:12]),
	}, nil
}

// DecodeC2HData parses a C2H_DATA type-specific header.
func DecodeC2HData(psh []byte) (*C2HData, error) {
	if len(psh) < dataPSHLen {
		return nil, fmt.Errorf("pdu: C2H_DATA header too short")
	}
	return &C2HData{
		CCCID:      binary.LittleEndian.Uint16(psh[0:2]),
		TTag:       binary.LittleEndian.Uint16(psh[2:4]),
		DataOffset: binary.LittleEndian.Uint32(psh[4:8]),
		DataLength: binary.LittleEndian.Uint32(psh[8:12]),
	}, nil
}

// DecodeR2T parses an R2T type-specific header.
func DecodeR2T(psh []byte) (*R2T, error) {
	if len(psh) < r2tPSHLen {
		return nil, fmt.Errorf("pdu: R2T header too short")
	}
	return &R2T{
		CCCID:     binary.LittleEndian.Uint16(psh[0:2]),
		TTag:      binary.LittleEndian.Uint16(psh[2:4]),
		R2TOffset: binary.LittleEndian.Uint32(psh[4:8]),
		R2TLength: binary.LittleEndian.Uint32(psh[8:12]),
	}, nil
}

// DecodeTermReq parses a H2C_TERM_REQ/C2H_TERM_REQ type-specific header.
func DecodeTermReq(psh []byte) (*TermReq, error) {
	if len(psh) < termReqPSHLen {
		return nil, fmt.Errorf("pdu: TERM_REQ header too short")
	}
	return &TermReq{
		FES: binary.LittleEndian.Uint16(psh[0:2]),
		FEI: binary.LittleEndian.Uint32(psh[4:8]),
	}, nil
}

// PSHLen returns the type-specific header length (excluding the 8-byte
// common header and any digest) for a given PDU type, used by the qpair
// receive state machine to know how many bytes to read in AWAIT_PSH.
func PSHLen(t Type) (int, error) {
	switch t {
	case TypeICReq:
		return icReqPSHLen, nil
	case TypeICResp:
		return icRespPSHLen, nil
	case TypeH2CTermReq, TypeC2HTermReq:
		return termReqPSHLen, nil
	case TypeCapsuleCmd:
		return capsuleCmdPSHLen, nil
	case TypeCapsuleResp:
		return 16, nil
	case TypeH2CData, TypeC2HData:
		return dataPSHLen, nil
	case TypeR2T:
		return r2tPSHLen, nil
	default:
		return 0, fmt.Errorf("pdu: unknown PDU type 0x%x", uint8(t))
	}
}

// Marshal serializes a *PDU built by EncodeCapsuleCmd, EncodeCapsuleResp,
// EncodeH2CData, EncodeC2HData or EncodeR2T back into wire bytes, using the
// precomputed header/data digests already carried on p. The other Encode*
// functions (IC_REQ, IC_RESP, TERM_REQ) return wire bytes directly and have
// no use for this method.
func (p *PDU) Marshal() []byte {
	hlen := int(p.Header.HLen)
	header := make([]byte, hlen)
	p.Header.Encode(header)

	switch {
	case p.CapsuleCmd != nil:
		copy(header[CommonHeaderLen:], p.CapsuleCmd.SQE[:])
	case p.CapsuleResp != nil:
		copy(header[CommonHeaderLen:], p.CapsuleResp.CQE[:])
	case p.H2CData != nil:
		putDataPSH(header[CommonHeaderLen:], p.H2CData.CCCID, p.H2CData.TTag, p.H2CData.DataOffset, p.H2CData.DataLength)
	case p.C2HData != nil:
		putDataPSH(header[CommonHeaderLen:], p.C2HData.CCCID, p.C2HData.TTag, p.C2HData.DataOffset, p.C2HData.DataLength)
	case p.R2T != nil:
		putDataPSH(header[CommonHeaderLen:], p.R2T.CCCID, p.R2T.TTag, p.R2T.R2TOffset, p.R2T.R2TLength)
	}

	buf := make([]byte, 0, p.Header.PLen)
	buf = append(buf, header...)
	if p.Header.HasHDGST() {
		var d [DigestLen]byte
		binary.LittleEndian.PutUint32(d[:], p.HeaderDigest)
		buf = append(buf, d[:]...)
	}
	if pad := int(p.Header.PDO) - len(buf); pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	for _, d := range p.Data {
		buf = append(buf, d...)
	}
	if p.Header.HasDDGST() && len(p.Data) > 0 {
		var d [DigestLen]byte
		binary.LittleEndian.PutUint32(d[:], p.DataDigest)
		buf = append(buf, d[:]...)
	}
	return buf
}

func putDataPSH(psh []byte, cccid, ttag uint16, a, b uint32) {
	binary.LittleEndian.PutUint16(psh[0:2], cccid)
	binary.LittleEndian.PutUint16(psh[2:4], ttag)
	binary.LittleEndian.PutUint32(psh[4:8], a)
	binary.LittleEndian.PutUint32(psh[8:12], b)
}
