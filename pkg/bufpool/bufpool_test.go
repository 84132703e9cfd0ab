package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsRequestedLength(t *testing.T) {
	p := NewPool(nil)
	buf := p.Get(100)
	assert.Len(t, buf, 100)
	assert.GreaterOrEqual(t, cap(buf), DefaultSmallSize)
}

func TestGetSelectsTierByRequestedSize(t *testing.T) {
	p := NewPool(nil)

	small := p.Get(DefaultSmallSize)
	assert.Equal(t, DefaultSmallSize, cap(small))

	medium := p.Get(DefaultSmallSize + 1)
	assert.Equal(t, DefaultMediumSize, cap(medium))

	large := p.Get(DefaultMediumSize + 1)
	assert.Equal(t, DefaultLargeSize, cap(large))
}

func TestGetOversizeBypassesPool(t *testing.T) {
	p := NewPool(nil)
	buf := p.Get(DefaultLargeSize + 1)
	assert.Len(t, buf, DefaultLargeSize+1)
}

func TestPutRecyclesBuffer(t *testing.T) {
	p := NewPool(nil)
	buf := p.Get(DefaultSmallSize)
	p.Put(buf)

	got := p.Get(DefaultSmallSize)
	assert.Equal(t, DefaultSmallSize, cap(got))
}

func TestPutIgnoresNilAndForeignCapacities(t *testing.T) {
	p := NewPool(nil)
	require.NotPanics(t, func() {
		p.Put(nil)
		p.Put(make([]byte, 7))
	})
}

func TestCustomConfigTiers(t *testing.T) {
	cfg := Config{SmallSize: 512, MediumSize: 2048, LargeSize: 16384}
	p := NewPool(&cfg)

	assert.Equal(t, 512, cap(p.Get(512)))
	assert.Equal(t, 2048, cap(p.Get(600)))
	assert.Equal(t, 16384, cap(p.Get(4096)))
}

func TestZeroValueConfigFieldsFallBackToDefaults(t *testing.T) {
	p := NewPool(&Config{})
	assert.Equal(t, DefaultSmallSize, cap(p.Get(1)))
}

func TestGlobalPoolConvenienceFunctions(t *testing.T) {
	buf := Get(DefaultSmallSize)
	assert.Len(t, buf, DefaultSmallSize)
	Put(buf)

	u32 := GetUint32(uint32(DefaultMediumSize))
	assert.Len(t, u32, DefaultMediumSize)
}
