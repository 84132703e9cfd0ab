package admin

import (
	"testing"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAsyncEventRequestParksWithNoPendingEvent(t *testing.T) {
	c := newTestController()
	cdw0, complete, rejected := SubmitAsyncEventRequest(c, 1)
	require.Nil(t, rejected)
	assert.False(t, complete)
	assert.Equal(t, uint32(0), cdw0)
}

func TestSubmitAsyncEventRequestCompletesFromPendingEvent(t *testing.T) {
	c := newTestController()
	cid, satisfiedImmediately := c.QueueAsyncEvent(ctrlr.AsyncEvent{Kind: "error", CDW0: 0xAB})
	assert.False(t, satisfiedImmediately)
	_ = cid

	cdw0, complete, rejected := SubmitAsyncEventRequest(c, 5)
	require.Nil(t, rejected)
	assert.True(t, complete)
	assert.Equal(t, uint32(0xAB), cdw0)
}

func TestSubmitAsyncEventRequestRejectsBeyondLimit(t *testing.T) {
	c := newTestController()
	for i := uint16(0); i < 4; i++ {
		_, complete, rejected := SubmitAsyncEventRequest(c, i)
		require.Nil(t, rejected)
		assert.False(t, complete)
	}
	_, complete, rejected := SubmitAsyncEventRequest(c, 99)
	require.NotNil(t, rejected)
	assert.False(t, complete)
	assert.Equal(t, status.SCAsyncEventRequestLimitExceeded, rejected.SC)
}
