// Package bufpool provides a tiered buffer pool for efficient memory reuse.
//
// The buffer pool backs a poll group's shared-buffer pool and control-message
// pool (§4.3's buffer resolution rules): reusable byte slices handed to
// Requests for data transfer, reducing GC pressure on a busy qpair.
//
// # Design Rationale
//
// The pool uses three size tiers to balance memory efficiency with reuse:
//   - Small buffers (default 4KB): in-capsule-sized control messages
//   - Medium buffers (default 8KB): the control-message pool minimum for
//     admin/Fabric commands whose payload exceeds the in-capsule arena
//   - Large buffers (default 128KB): io_unit_size-aligned shared-buffer-pool
//     chunks for bulk I/O data transfer
//
// Buffers larger than the large tier are allocated directly and not pooled
// to avoid keeping very large buffers in memory indefinitely.
//
// # Thread Safety
//
// All operations are thread-safe via sync.Pool, though in practice each
// poll group owns its own Pool and draws from it only on its own goroutine.
//
// # Usage
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
//	// ... use buf ...
package bufpool

import (
	"sync"
)

// Default buffer size classes, matching the transport option defaults
// (in_capsule_data_size, the 8192-byte control-message floor, io_unit_size).
const (
	// DefaultSmallSize matches the default in_capsule_data_size (4KB).
	DefaultSmallSize = 4 << 10

	// DefaultMediumSize is the control-message pool's minimum size (8KB),
	// used when in-capsule data is too small for an admin/Fabric command.
	DefaultMediumSize = 8 << 10

	// DefaultLargeSize matches the default io_unit_size (128KB).
	DefaultLargeSize = 128 << 10
)

// Pool manages a set of byte slice pools organized by size class.
// It automatically selects the appropriate pool based on requested size
// and provides fallback allocation for oversized requests.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// Config holds configuration for creating a custom buffer pool.
type Config struct {
	// SmallSize is the size of small buffers (default: 4KB)
	SmallSize int

	// MediumSize is the size of medium (control-message) buffers (default: 8KB)
	MediumSize int

	// LargeSize is the size of large (shared-buffer-pool) buffers (default: 128KB)
	LargeSize int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// NewPool creates a new buffer pool with the given configuration.
// If config is nil, default values are used.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}

	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		mediumSize: cfg.MediumSize,
		largeSize:  cfg.LargeSize,
	}

	p.small = sync.Pool{
		New: func() any {
			buf := make([]byte, p.smallSize)
			return &buf
		},
	}
	p.medium = sync.Pool{
		New: func() any {
			buf := make([]byte, p.mediumSize)
			return &buf
		},
	}
	p.large = sync.Pool{
		New: func() any {
			buf := make([]byte, p.largeSize)
			return &buf
		},
	}

	return p
}

// Get returns a byte slice of at least the requested size.
// The returned slice may be larger than requested to use pooled buffers
// efficiently; the caller must call Put() when finished.
//
// For sizes larger than LargeSize, a new slice is allocated directly and
// will not be pooled (this is how an io_unit_size-exceeding SGL transfer,
// or a zero-copy bdev buffer, is handled — it never touches the tiers).
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer to the pool for reuse. buf must have come from Get()
// and must not be used afterward. Buffers whose capacity doesn't match one
// of the three tiers (oversized allocations, or foreign slices) are dropped
// and left for the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	switch cap(buf) {
	case p.smallSize:
		fullBuf := buf[:cap(buf)]
		p.small.Put(&fullBuf)
	case p.mediumSize:
		fullBuf := buf[:cap(buf)]
		p.medium.Put(&fullBuf)
	case p.largeSize:
		fullBuf := buf[:cap(buf)]
		p.large.Put(&fullBuf)
	default:
		return
	}
}

// =============================================================================
// Global Pool
// =============================================================================

// globalPool is the package-level buffer pool with default configuration,
// used where no poll-group-scoped Pool has been wired in (tests, the
// control-message pool fallback before a transport is configured).
var globalPool = NewPool(nil)

// Get returns a byte slice of at least the requested size from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool. Always pair with Get via defer.
func Put(buf []byte) {
	globalPool.Put(buf)
}

// GetUint32 is a convenience wrapper for PDU fields that carry sizes as
// uint32 (PLen, data transfer length) rather than int.
func GetUint32(size uint32) []byte {
	return globalPool.Get(int(size))
}
