package admin

import (
	"testing"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func abortCDW10(sqid, cid uint16) uint32 {
	return uint32(sqid) | uint32(cid)<<16
}

func TestAbortCompletesOutstandingAER(t *testing.T) {
	c := newTestController()
	_, ok, rejected := c.SubmitAER(42)
	require.Nil(t, rejected)
	require.False(t, ok)

	cdw0, st := Abort(c, nvme.Command{CDW10: abortCDW10(0, 42)}, nil)
	require.Nil(t, st)
	assert.Equal(t, uint32(0), cdw0)

	assert.False(t, c.AbortAER(42))
}

func TestAbortFallsBackToHook(t *testing.T) {
	c := newTestController()
	called := false
	hook := AbortHook(func(sqid, cid uint16) bool {
		called = true
		return sqid == 1 && cid == 7
	})

	cdw0, st := Abort(c, nvme.Command{CDW10: abortCDW10(1, 7)}, hook)
	require.Nil(t, st)
	assert.Equal(t, uint32(0), cdw0)
	assert.True(t, called)
}

func TestAbortReportsNotFoundWithoutError(t *testing.T) {
	c := newTestController()
	cdw0, st := Abort(c, nvme.Command{CDW10: abortCDW10(1, 99)}, nil)
	require.Nil(t, st)
	assert.Equal(t, uint32(1), cdw0)
}
