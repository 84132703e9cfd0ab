package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
)

// fakeClient is an in-memory objectClient stand-in: keys map directly to
// whole chunk contents, letting tests exercise range semantics without a
// network dependency.
type fakeClient struct {
	objects map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "NoSuchKey: the object does not exist" }

func (f *fakeClient) GetObject(ctx context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	obj, ok := f.objects[*in.Key]
	if !ok {
		return nil, notFoundErr{}
	}
	data := obj
	if in.Range != nil {
		var start, end int
		if _, err := fmt.Sscanf(*in.Range, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
		if end >= len(data) {
			end = len(data) - 1
		}
		data = data[start : end+1]
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeClient) PutObject(ctx context.Context, in *awss3.PutObjectInput, opts ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &awss3.PutObjectOutput{}, nil
}

func newTestStore(client objectClient, chunkSize, blockSize uint32, blockCount uint64) *Store {
	return &Store{
		client:    client,
		bucket:    "test-bucket",
		keyPrefix: "ns1/",
		chunkSize: chunkSize,
		blockSize: blockSize,
		blockCnt:  blockCount,
	}
}

func TestStoreWriteThenReadWholeChunk(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client, 4096, 512, 1024)
	ctx := context.Background()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}
	wc := <-s.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IOWrite, Offset: 0, Length: 4096, Buf: payload})
	require.NoError(t, wc.Err)

	readBuf := make([]byte, 4096)
	rc := <-s.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IORead, Offset: 0, Length: 4096, Buf: readBuf})
	require.NoError(t, rc.Err)
	assert.Equal(t, payload, readBuf)
}

func TestStoreReadUnwrittenChunkIsZero(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client, 4096, 512, 1024)
	ctx := context.Background()

	readBuf := make([]byte, 512)
	for i := range readBuf {
		readBuf[i] = 0xFF
	}
	rc := <-s.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IORead, Offset: 1024, Length: 512, Buf: readBuf})
	require.NoError(t, rc.Err)
	for _, b := range readBuf {
		assert.Zero(t, b)
	}
}

func TestStorePartialWritePreservesRestOfChunk(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client, 4096, 512, 1024)
	ctx := context.Background()

	full := bytes.Repeat([]byte{0xAA}, 4096)
	<-s.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IOWrite, Offset: 0, Length: 4096, Buf: full})

	partial := bytes.Repeat([]byte{0xBB}, 512)
	wc := <-s.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IOWrite, Offset: 512, Length: 512, Buf: partial})
	require.NoError(t, wc.Err)

	readBuf := make([]byte, 4096)
	<-s.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IORead, Offset: 0, Length: 4096, Buf: readBuf})

	assert.Equal(t, byte(0xAA), readBuf[0])
	assert.Equal(t, byte(0xBB), readBuf[512])
	assert.Equal(t, byte(0xBB), readBuf[1023])
	assert.Equal(t, byte(0xAA), readBuf[1024])
}

func TestStoreReadWriteAcrossChunkBoundary(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client, 4096, 512, 1024)
	ctx := context.Background()

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	wc := <-s.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IOWrite, Offset: 4000, Length: 512, Buf: payload})
	require.NoError(t, wc.Err)
	assert.Len(t, client.objects, 2)

	readBuf := make([]byte, 512)
	rc := <-s.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IORead, Offset: 4000, Length: 512, Buf: readBuf})
	require.NoError(t, rc.Err)
	assert.Equal(t, payload, readBuf)
}

func TestStoreWriteZeroes(t *testing.T) {
	client := newFakeClient()
	s := newTestStore(client, 4096, 512, 1024)
	ctx := context.Background()

	full := bytes.Repeat([]byte{0xCC}, 512)
	<-s.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IOWrite, Offset: 0, Length: 512, Buf: full})
	wc := <-s.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IOWriteZeroes, Offset: 0, Length: 512})
	require.NoError(t, wc.Err)

	readBuf := make([]byte, 512)
	<-s.Submit(ctx, &bdev.BlockRequest{Opcode: bdev.IORead, Offset: 0, Length: 512, Buf: readBuf})
	for _, b := range readBuf {
		assert.Zero(t, b)
	}
}

func TestStoreFlushIsNoop(t *testing.T) {
	s := newTestStore(newFakeClient(), 4096, 512, 1024)
	fc := <-s.Submit(context.Background(), &bdev.BlockRequest{Opcode: bdev.IOFlush})
	assert.NoError(t, fc.Err)
}

func TestStoreZcopyNotSupported(t *testing.T) {
	s := newTestStore(newFakeClient(), 4096, 512, 1024)
	_, _, err := s.ZcopyStart(context.Background(), &bdev.BlockRequest{Opcode: bdev.IORead})
	assert.True(t, errors.Is(err, bdev.ErrNotSupported))
}

func TestStoreSupports(t *testing.T) {
	s := newTestStore(newFakeClient(), 4096, 512, 1024)
	assert.True(t, s.Supports(bdev.IORead))
	assert.True(t, s.Supports(bdev.IOWrite))
	assert.False(t, s.Supports(bdev.IOCompare))
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, isNotFoundError(notFoundErr{}))
	assert.False(t, isNotFoundError(nil))
	assert.False(t, isNotFoundError(errors.New("some other failure")))
}
