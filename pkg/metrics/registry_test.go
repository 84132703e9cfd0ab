package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEnabledReflectsInit(t *testing.T) {
	Reset()
	assert.False(t, IsEnabled())

	Init()
	assert.True(t, IsEnabled())

	Reset()
	assert.False(t, IsEnabled())
}

func TestInitIsIdempotent(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	r1 := Init()
	r2 := Init()
	assert.Same(t, r1, r2)
}

func TestGetRegistryInitializesOnFirstUse(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	assert.False(t, IsEnabled())
	r := GetRegistry()
	assert.NotNil(t, r)
	assert.True(t, IsEnabled())
}
