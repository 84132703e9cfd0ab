package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostIPIndexStable(t *testing.T) {
	idx1, ok := hostIPIndex("10.0.0.5:4420", 4)
	assert.True(t, ok)
	idx2, ok := hostIPIndex("10.0.0.5:9999", 4)
	assert.True(t, ok)
	assert.Equal(t, idx1, idx2, "same host, different port, should land on the same poll group")
}

func TestHostIPIndexRange(t *testing.T) {
	for _, addr := range []string{"10.0.0.5:4420", "192.168.1.1:1", "[::1]:4420", "not-a-host-port"} {
		idx, ok := hostIPIndex(addr, 3)
		assert.True(t, ok, addr)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 3)
	}
}

func TestHostIPIndexZeroPollGroups(t *testing.T) {
	_, ok := hostIPIndex("10.0.0.5:4420", 0)
	assert.False(t, ok)
}
