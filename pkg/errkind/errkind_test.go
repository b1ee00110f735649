package errkind

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := New(FileIO, "bso.AcquireBSY", cause)
	assert.True(t, Is(err, FileIO))
	assert.False(t, Is(err, Busy))
	assert.ErrorIs(t, err, cause)
}

func TestFatalAndSkipsLink(t *testing.T) {
	assert.True(t, Network.Fatal())
	assert.False(t, Busy.Fatal())
	assert.True(t, Busy.SkipsLink())
	assert.False(t, Timeout.SkipsLink())
}

func TestErrorString(t *testing.T) {
	err := New(AuthFailed, "session.verify", nil)
	assert.Contains(t, err.Error(), "AuthFailed")
	assert.Contains(t, err.Error(), "session.verify")
}
