package pdu

// SGL is a self-contained cursor over a list of byte-slice spans, used to
// stream PDU bytes on and off the wire without raw pointer arithmetic. It
// is the Go value-typed equivalent of _nvme_tcp_sgl in
// include/spdk_internal/nvme_tcp.h, whose iov/iovcnt/iov_offset/total_size
// fields and init/advance/get_buf/append operations it reproduces as
// methods rather than a struct of raw pointers.
type SGL struct {
	iovs   [][]byte
	index  int // which iov Offset refers into
	offset int // byte offset within iovs[index] already consumed
	total  int // total remaining bytes across all iovs from the current position
}

// NewSGL builds a cursor positioned at the start of iovs.
func NewSGL(iovs [][]byte) *SGL {
	s := &SGL{iovs: iovs}
	s.recomputeTotal()
	return s
}

func (s *SGL) recomputeTotal() {
	total := 0
	for i := s.index; i < len(s.iovs); i++ {
		if i == s.index {
			total += len(s.iovs[i]) - s.offset
			continue
		}
		total += len(s.iovs[i])
	}
	s.total = total
}

// Total returns the number of bytes remaining from the cursor's position.
func (s *SGL) Total() int {
	return s.total
}

// Done reports whether the cursor has consumed every iov.
func (s *SGL) Done() bool {
	return s.total == 0
}

// Advance consumes n bytes from the cursor, crossing iov boundaries as
// needed. It panics if n exceeds the remaining total, mirroring the
// reference's assertion that callers never request more than is mapped.
func (s *SGL) Advance(n int) {
	if n > s.total {
		panic("pdu: SGL advance past end")
	}
	remaining := n
	for remaining > 0 {
		avail := len(s.iovs[s.index]) - s.offset
		if remaining < avail {
			s.offset += remaining
			remaining = 0
			break
		}
		remaining -= avail
		s.index++
		s.offset = 0
	}
	s.total -= n
}

// GetBuf returns a contiguous span of up to maxLen bytes starting at the
// cursor's current position without advancing it; the returned slice may be
// shorter than maxLen if it would otherwise cross an iov boundary, in which
// case the caller calls GetBuf again after Advance to continue.
func (s *SGL) GetBuf(maxLen int) []byte {
	if s.Done() {
		return nil
	}
	cur := s.iovs[s.index][s.offset:]
	if len(cur) > maxLen {
		return cur[:maxLen]
	}
	return cur
}

// Append adds another span to the end of the cursor's iov list, used when
// assembling an outbound PDU's iovec incrementally (header, padding, data
// spans, digest) before handing it to the socket writer.
func (s *SGL) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	s.iovs = append(s.iovs, b)
	s.total += len(b)
}

// Iovs returns the current slice-of-slices view starting from the cursor's
// position, suitable for passing to a net.Buffers-style vectored write.
func (s *SGL) Iovs() [][]byte {
	if s.Done() {
		return nil
	}
	out := make([][]byte, 0, len(s.iovs)-s.index)
	out = append(out, s.iovs[s.index][s.offset:])
	out = append(out, s.iovs[s.index+1:]...)
	return out
}
