package pdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSGLAdvanceWithinSingleIov(t *testing.T) {
	s := NewSGL([][]byte{[]byte("0123456789")})
	require.Equal(t, 10, s.Total())
	s.Advance(4)
	assert.Equal(t, 6, s.Total())
	assert.Equal(t, []byte("456789"), s.GetBuf(100))
}

func TestSGLAdvanceAcrossIovBoundary(t *testing.T) {
	s := NewSGL([][]byte{[]byte("abc"), []byte("defg"), []byte("hi")})
	require.Equal(t, 9, s.Total())
	s.Advance(5) // consumes "abc" + "de"
	assert.Equal(t, 4, s.Total())
	assert.Equal(t, []byte("fg"), s.GetBuf(100))
	s.Advance(2)
	assert.Equal(t, []byte("hi"), s.GetBuf(100))
	s.Advance(2)
	assert.True(t, s.Done())
}

func TestSGLGetBufRespectsIovBoundary(t *testing.T) {
	s := NewSGL([][]byte{[]byte("abc"), []byte("defg")})
	// requesting more than the current span returns only that span
	assert.Equal(t, []byte("abc"), s.GetBuf(100))
}

func TestSGLAdvancePastEndPanics(t *testing.T) {
	s := NewSGL([][]byte{[]byte("abc")})
	assert.Panics(t, func() {
		s.Advance(10)
	})
}

func TestSGLAppend(t *testing.T) {
	s := NewSGL([][]byte{[]byte("abc")})
	s.Append([]byte("def"))
	assert.Equal(t, 6, s.Total())
	s.Advance(3)
	assert.Equal(t, []byte("def"), s.GetBuf(100))
}

func TestSGLAppendEmptyIsNoop(t *testing.T) {
	s := NewSGL([][]byte{[]byte("abc")})
	s.Append(nil)
	assert.Equal(t, 3, s.Total())
}

func TestSGLIovsFromMidCursor(t *testing.T) {
	s := NewSGL([][]byte{[]byte("abc"), []byte("def")})
	s.Advance(1)
	iovs := s.Iovs()
	require.Len(t, iovs, 2)
	assert.Equal(t, []byte("bc"), iovs[0])
	assert.Equal(t, []byte("def"), iovs[1])
}

func TestSGLEmptyDone(t *testing.T) {
	s := NewSGL(nil)
	assert.True(t, s.Done())
	assert.Nil(t, s.GetBuf(10))
}
