package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hermes-dicom/hermes/internal/hermeslog"
)

func TestTerminateFiresOnShutdownOnce(t *testing.T) {
	calls := 0
	c := NewController(hermeslog.New("test", false), func() { calls++ })

	require.False(t, c.IsTerminated())
	c.Terminate()
	require.True(t, c.IsTerminated())
	c.Terminate()
	c.Terminate()

	require.Equal(t, 1, calls)
}

func TestOnShutdownRegistersHookAfterConstruction(t *testing.T) {
	c := NewController(hermeslog.New("test", false), nil)

	calls := 0
	c.OnShutdown(func() { calls++ })

	c.Terminate()
	require.Equal(t, 1, calls)
}

func TestNotifyReadyAndStoppingAreNoopsOutsideSystemd(t *testing.T) {
	c := NewController(hermeslog.New("test", false), nil)
	// No NOTIFY_SOCKET set in the test environment; must not panic or block.
	c.NotifyReady()
	c.NotifyStopping()
}
