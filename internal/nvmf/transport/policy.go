package transport

import (
	"hash/fnv"
	"net"
)

// hostIPIndex hashes the host part of remoteAddr into [0, n) for the
// host-IP scheduling policy, §4.7: every connection from the same host
// lands on the same poll group, which keeps a given initiator's qpairs
// (and the controller they share) from bouncing between goroutines.
func hostIPIndex(remoteAddr string, n int) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return int(h.Sum32() % uint32(n)), true
}
