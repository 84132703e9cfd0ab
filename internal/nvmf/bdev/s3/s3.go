// Package s3 implements internal/nvmf/bdev.BlockDevice over an S3-compatible
// object store: each namespace is divided into fixed-size chunks, one
// object per chunk, keyed by chunk index under a per-namespace prefix.
// Adapted from the pkg/blocks/store/s3 block store, generalized
// from a synchronous key/value block API to the asynchronous,
// byte-range-capable BlockDevice contract NVMe/TCP requests need (a read or
// write rarely aligns to a whole chunk).
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
)

// Config configures the S3-backed namespace.
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	KeyPrefix      string // e.g. "ns1/"
	ForcePathStyle bool
	ChunkSize      uint32 // bytes per backing object, must be a multiple of BlockSize
	BlockSize      uint32
	BlockCount     uint64
}

// objectClient is the subset of *s3.Client the Store depends on, narrowed
// to an interface so tests can substitute an in-memory fake instead of
// talking to real S3.
type objectClient interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store is an S3-backed BlockDevice. Reads and writes are split per
// overlapping chunk: a read issues one ranged GetObject per chunk; a write
// puts each whole chunk object, reading it first when only part of the
// chunk is written.
type Store struct {
	client    objectClient
	bucket    string
	keyPrefix string
	chunkSize uint32
	blockSize uint32
	blockCnt  uint64
	mu        sync.RWMutex
}

// New creates a Store with an existing S3 client.
func New(client *s3.Client, cfg Config) *Store {
	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		chunkSize: cfg.ChunkSize,
		blockSize: cfg.BlockSize,
		blockCnt:  cfg.BlockCount,
	}
}

// NewFromConfig loads AWS credentials/region from the environment and
// builds the S3 client, mirroring pkg/blocks/store/s3.NewFromConfig.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return New(client, cfg), nil
}

func (s *Store) chunkKey(chunkIdx uint64) string {
	return fmt.Sprintf("%schunk-%012d", s.keyPrefix, chunkIdx)
}

func (s *Store) BlockSize() uint32  { return s.blockSize }
func (s *Store) BlockCount() uint64 { return s.blockCnt }

func (s *Store) Supports(io bdev.IOType) bool {
	switch io {
	case bdev.IORead, bdev.IOWrite, bdev.IOFlush, bdev.IOWriteZeroes, bdev.IOUnmap:
		return true
	default:
		return false
	}
}

func complete(err error) <-chan bdev.BlockCompletion {
	ch := make(chan bdev.BlockCompletion, 1)
	ch <- bdev.BlockCompletion{Err: err}
	close(ch)
	return ch
}

// Submit dispatches the request on a new goroutine so the caller's poll
// group never blocks on network I/O; the completion arrives on the
// returned channel exactly once.
func (s *Store) Submit(ctx context.Context, req *bdev.BlockRequest) <-chan bdev.BlockCompletion {
	out := make(chan bdev.BlockCompletion, 1)
	go func() {
		defer close(out)
		var err error
		switch req.Opcode {
		case bdev.IORead:
			err = s.readRange(ctx, req.Offset, req.Buf)
		case bdev.IOWrite:
			err = s.writeRange(ctx, req.Offset, req.Buf)
		case bdev.IOWriteZeroes, bdev.IOUnmap:
			err = s.writeRange(ctx, req.Offset, make([]byte, req.Length))
		case bdev.IOFlush:
			err = nil
		default:
			err = bdev.ErrNotSupported
		}
		out <- bdev.BlockCompletion{Err: err}
	}()
	return out
}

// readRange reads dst, which spans one or more chunks starting at offset.
func (s *Store) readRange(ctx context.Context, offset uint64, dst []byte) error {
	remaining := dst
	pos := offset
	for len(remaining) > 0 {
		chunkIdx := pos / uint64(s.chunkSize)
		chunkOff := pos % uint64(s.chunkSize)
		n := uint64(s.chunkSize) - chunkOff
		if n > uint64(len(remaining)) {
			n = uint64(len(remaining))
		}

		key := s.chunkKey(chunkIdx)
		rangeHeader := fmt.Sprintf("bytes=%d-%d", chunkOff, chunkOff+n-1)
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Range:  aws.String(rangeHeader),
		})
		if err != nil {
			if isNotFoundError(err) {
				// Unwritten chunk reads as zeroes, matching a thin-provisioned namespace.
				for i := uint64(0); i < n; i++ {
					remaining[i] = 0
				}
			} else {
				return fmt.Errorf("%w: s3 get object: %v", bdev.ErrUnavailable, err)
			}
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr != nil {
				return fmt.Errorf("%w: read s3 body: %v", bdev.ErrIntegrityCheckFailed, readErr)
			}
			copy(remaining[:n], body)
		}

		remaining = remaining[n:]
		pos += n
	}
	return nil
}

// writeRange writes src, performing a read-modify-write on each partially
// overlapped chunk so untouched bytes within the chunk are preserved.
func (s *Store) writeRange(ctx context.Context, offset uint64, src []byte) error {
	remaining := src
	pos := offset
	for len(remaining) > 0 {
		chunkIdx := pos / uint64(s.chunkSize)
		chunkOff := pos % uint64(s.chunkSize)
		n := uint64(s.chunkSize) - chunkOff
		if n > uint64(len(remaining)) {
			n = uint64(len(remaining))
		}

		var chunk []byte
		if chunkOff != 0 || n != uint64(s.chunkSize) {
			existing := make([]byte, s.chunkSize)
			if err := s.readRange(ctx, chunkIdx*uint64(s.chunkSize), existing); err != nil {
				return err
			}
			chunk = existing
		} else {
			chunk = make([]byte, s.chunkSize)
		}
		copy(chunk[chunkOff:chunkOff+n], remaining[:n])

		key := s.chunkKey(chunkIdx)
		if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(chunk),
		}); err != nil {
			return fmt.Errorf("%w: s3 put object: %v", bdev.ErrUnavailable, err)
		}

		remaining = remaining[n:]
		pos += n
	}
	return nil
}

func (s *Store) ZcopyStart(ctx context.Context, req *bdev.BlockRequest) ([]byte, <-chan bdev.BlockCompletion, error) {
	// Zero-copy is not meaningful across a network object store; the
	// caller falls back to a pooled-buffer Submit instead.
	return nil, nil, bdev.ErrNotSupported
}

func (s *Store) ZcopyEnd(ctx context.Context, req *bdev.BlockRequest, commit bool) <-chan bdev.BlockCompletion {
	return complete(bdev.ErrNotSupported)
}

func (s *Store) Reset(ctx context.Context) <-chan bdev.BlockCompletion {
	return complete(nil)
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "NoSuchKey") || strings.Contains(s, "NotFound") || strings.Contains(s, "404")
}

var _ bdev.BlockDevice = (*Store)(nil)
