package bdev

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWriteThenRead(t *testing.T) {
	m := NewMemory(16, 512) // 8KiB namespace
	ctx := context.Background()

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}

	wc := <-m.Submit(ctx, &BlockRequest{Opcode: IOWrite, Offset: 512, Length: 512, Buf: payload})
	require.NoError(t, wc.Err)

	readBuf := make([]byte, 512)
	rc := <-m.Submit(ctx, &BlockRequest{Opcode: IORead, Offset: 512, Length: 512, Buf: readBuf})
	require.NoError(t, rc.Err)
	assert.Equal(t, payload, readBuf)
}

func TestMemoryReadWriteOutOfRange(t *testing.T) {
	m := NewMemory(4, 512) // 2KiB
	ctx := context.Background()

	rc := <-m.Submit(ctx, &BlockRequest{Opcode: IORead, Offset: 4096, Length: 512, Buf: make([]byte, 512)})
	assert.True(t, errors.Is(rc.Err, ErrOutOfRange))
}

func TestMemoryCompare(t *testing.T) {
	m := NewMemory(4, 512)
	ctx := context.Background()
	payload := make([]byte, 512)
	payload[0] = 0xAB
	<-m.Submit(ctx, &BlockRequest{Opcode: IOWrite, Offset: 0, Length: 512, Buf: payload})

	ok := <-m.Submit(ctx, &BlockRequest{Opcode: IOCompare, Offset: 0, Length: 512, Buf: payload})
	assert.NoError(t, ok.Err)

	mismatch := make([]byte, 512)
	bad := <-m.Submit(ctx, &BlockRequest{Opcode: IOCompare, Offset: 0, Length: 512, Buf: mismatch})
	assert.True(t, errors.Is(bad.Err, ErrCompareFailed))
}

func TestMemoryWriteZeroes(t *testing.T) {
	m := NewMemory(4, 512)
	ctx := context.Background()
	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = 0xFF
	}
	<-m.Submit(ctx, &BlockRequest{Opcode: IOWrite, Offset: 0, Length: 512, Buf: payload})
	<-m.Submit(ctx, &BlockRequest{Opcode: IOWriteZeroes, Offset: 0, Length: 512})

	readBuf := make([]byte, 512)
	<-m.Submit(ctx, &BlockRequest{Opcode: IORead, Offset: 0, Length: 512, Buf: readBuf})
	for _, b := range readBuf {
		assert.Zero(t, b)
	}
}

func TestMemoryZcopyReadWrite(t *testing.T) {
	m := NewMemory(4, 512)
	ctx := context.Background()

	buf, done, err := m.ZcopyStart(ctx, &BlockRequest{Opcode: IOWrite, Offset: 0, Length: 512})
	require.NoError(t, err)
	<-done
	for i := range buf {
		buf[i] = 0x42
	}
	<-m.ZcopyEnd(ctx, &BlockRequest{Opcode: IOWrite, Offset: 0, Length: 512}, true)

	readBuf := make([]byte, 512)
	<-m.Submit(ctx, &BlockRequest{Opcode: IORead, Offset: 0, Length: 512, Buf: readBuf})
	assert.Equal(t, byte(0x42), readBuf[0])
}

func TestMemoryBlockSizeAndCount(t *testing.T) {
	m := NewMemory(100, 4096)
	assert.Equal(t, uint32(4096), m.BlockSize())
	assert.EqualValues(t, 100, m.BlockCount())
}

func TestMemorySupports(t *testing.T) {
	m := NewMemory(1, 512)
	assert.True(t, m.Supports(IORead))
	assert.True(t, m.Supports(IOWrite))
	assert.False(t, m.Supports(IONVMeAdminPassthru))
}
