package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollGroupPostRunsOnOwnGoroutine(t *testing.T) {
	tr := testTransport(1)
	defer tr.Stop()
	pg := tr.pollGroups[0]

	done := make(chan struct{})
	pg.Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted closure never ran")
	}
}

func TestPollGroupAddRemoveQpair(t *testing.T) {
	tr := testTransport(1)
	defer tr.Stop()
	pg := tr.pollGroups[0]

	qc := &qpairConn{}
	pg.addQpair(qc)
	assert.Len(t, pg.qpairs, 1)
	pg.removeQpair(qc)
	assert.Len(t, pg.qpairs, 0)
}

func TestPollGroupPostAfterStopDoesNotBlock(t *testing.T) {
	tr := testTransport(1)
	pg := tr.pollGroups[0]
	pg.stop()

	// Post after stop must not block even though the reactor goroutine has
	// already returned from run().
	done := make(chan struct{})
	go func() {
		pg.Post(func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Post blocked after poll group stop")
	}
}

func TestNewPollGroupSizesSharedPoolFromIOUnitSize(t *testing.T) {
	o := DefaultOptions()
	o.IOUnitSize = 65536
	tr := &Transport{opts: o}
	pg := newPollGroup(0, tr)
	require.NotNil(t, pg.shared)
	require.NotNil(t, pg.control)
	assert.Equal(t, 65536, cap(pg.shared.Get(65536)))
}
