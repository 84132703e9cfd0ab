package status

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusErrorFormatting(t *testing.T) {
	s := New(SCTGeneric, SCInvalidOpcode, "invalid opcode")
	assert.Contains(t, s.Error(), "sct=0x0")
	assert.Contains(t, s.Error(), "sc=0x1")
	assert.Contains(t, s.Error(), "invalid opcode")
}

func TestStatusWrapUnwrap(t *testing.T) {
	cause := errors.New("bdev read failed")
	s := Wrap(SCTGeneric, SCInternalDeviceError, "bdev error", cause)
	require.Equal(t, cause, s.Unwrap())
	assert.ErrorIs(t, s, cause)
}

func TestStatusIsComparesCodeNotIdentity(t *testing.T) {
	a := New(SCTGeneric, SCSuccess, "ok")
	b := New(SCTGeneric, SCSuccess, "different message, same code")
	assert.True(t, errors.Is(a, b))

	c := New(SCTGeneric, SCInvalidOpcode, "invalid opcode")
	assert.False(t, errors.Is(a, c))
}

func TestStatusCode(t *testing.T) {
	sct, sc := ReservationConflict.Code()
	assert.Equal(t, SCTGeneric, sct)
	assert.Equal(t, SCReservationConflict, sc)
}

func TestRetryable(t *testing.T) {
	assert.True(t, NamespaceNotReady.Retryable())
	assert.True(t, TransientTransportError.Retryable())
	assert.True(t, AsymmetricAccessTransition.Retryable())
	assert.False(t, InvalidOpcode.Retryable())
}

func TestFromANAState(t *testing.T) {
	assert.Nil(t, FromANAState("OPTIMIZED"))
	assert.Nil(t, FromANAState("NON_OPTIMIZED"))
	assert.True(t, errors.Is(FromANAState("INACCESSIBLE"), AsymmetricAccessInaccessible))
	assert.True(t, errors.Is(FromANAState("PERSISTENT_LOSS"), AsymmetricAccessPersistentLoss))
	assert.True(t, errors.Is(FromANAState("CHANGE"), AsymmetricAccessTransition))
	assert.True(t, errors.Is(FromANAState("bogus"), InternalDeviceError))
}
