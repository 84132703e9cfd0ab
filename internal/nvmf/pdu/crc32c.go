package pdu

import "hash/crc32"

// DigestXOR documents the initial and final XOR value SPDK's nvme_tcp
// digest routines apply around the raw reflected CRC32C accumulation
// (SPDK_CRC32C_XOR in include/spdk_internal/nvme_tcp.h: init crc32c =
// SPDK_CRC32C_XOR, final crc32c ^= SPDK_CRC32C_XOR). Go's hash/crc32
// bakes the identical init/final-XOR convention into crc32.Checksum and
// crc32.Update, so CRC32C/CRC32CMulti below reproduce the wire value by
// construction without re-applying the XOR by hand.
const DigestXOR uint32 = 0xffffffff

// DigestLen is the length in bytes of a header or data digest field.
const DigestLen = 4

// DigestAlignment is the byte alignment data digests are computed over;
// trailing zero padding is added up to this boundary before the digest is
// taken.
const DigestAlignment = 4

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the NVMe/TCP digest of a single buffer.
func CRC32C(b []byte) uint32 {
	return crc32.Checksum(b, castagnoliTable)
}

// CRC32CMulti computes the digest over a sequence of buffers as if they
// were concatenated, used for data digests spanning multiple iovs.
func CRC32CMulti(bufs ...[]byte) uint32 {
	var acc uint32
	for i, b := range bufs {
		if i == 0 {
			acc = crc32.Checksum(b, castagnoliTable)
			continue
		}
		acc = crc32.Update(acc, castagnoliTable, b)
	}
	return acc
}

// PadLen returns the number of zero bytes required to round n up to
// DigestAlignment, matching the data-digest zero-padding rule.
func PadLen(n int) int {
	rem := n % DigestAlignment
	if rem == 0 {
		return 0
	}
	return DigestAlignment - rem
}
