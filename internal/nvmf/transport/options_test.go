package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.EqualValues(t, 128, o.MaxQueueDepth)
	assert.EqualValues(t, 128, o.MaxAqDepth)
	assert.EqualValues(t, 4096, o.InCapsuleDataSize)
	assert.EqualValues(t, 131072, o.MaxIOSize)
	assert.EqualValues(t, 511, o.NumSharedBuffers)
	assert.True(t, o.C2HSuccess)
	assert.Equal(t, PolicyRoundRobin, o.SchedulingPolicy)
	assert.EqualValues(t, 1, o.PollGroupCount)
}

func TestCtrlrOptionsNarrowsFields(t *testing.T) {
	o := DefaultOptions()
	o.MaxQueueDepth = 64
	o.AbortTimeoutSec = 2
	co := o.ctrlrOptions()
	assert.EqualValues(t, 64, co.MaxQueueDepth)
	assert.EqualValues(t, o.MaxQpairsPerCtrlr, co.MaxQpairsPerCtrlr)
	assert.EqualValues(t, o.MaxAqDepth, co.MaxAqDepth)
	assert.EqualValues(t, o.InCapsuleDataSize, co.InCapsuleDataSize)
	assert.EqualValues(t, o.MaxIOSize, co.MaxIOSize)
	assert.EqualValues(t, 2, co.AbortTimeoutSec)
}
