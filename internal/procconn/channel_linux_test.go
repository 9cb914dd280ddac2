//go:build linux

package procconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openOrSkip(t *testing.T) *Channel {
	t.Helper()
	ch, err := Open()
	if err != nil {
		require.ErrorIs(t, err, ErrChannel)
		t.Skipf("proc connector unavailable: %v", err)
	}
	return ch
}

func TestReceiveAfterClose(t *testing.T) {
	ch := openOrSkip(t)

	_ = ch.Close() // unsubscribe may be refused without CAP_NET_ADMIN

	_, err := ch.Receive()
	require.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ch.Subscribe(), ErrClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	ch := openOrSkip(t)

	_ = ch.Close()
	assert.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())
}

func TestCloseUnblocksReceive(t *testing.T) {
	ch := openOrSkip(t)

	errs := make(chan error, 1)
	go func() {
		// another listener on the host may cause events to arrive; drain them
		for {
			if _, err := ch.Receive(); err != nil {
				errs <- err
				return
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	_ = ch.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * pollTimeout):
		t.Fatal("Receive did not return after Close")
	}
}
