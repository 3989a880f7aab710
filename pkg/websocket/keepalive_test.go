package websocket

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestKeepAliveManagerSendsPeriodicPings(t *testing.T) {
	var pings int32
	ping := func(_ context.Context, _ []byte) error {
		atomic.AddInt32(&pings, 1)
		return nil
	}

	k := newKeepAliveManager(10*time.Millisecond, ping, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	k.start(ctx)
	defer k.close()

	time.Sleep(55 * time.Millisecond)
	cancel()

	if got := atomic.LoadInt32(&pings); got < 2 {
		t.Errorf("pings sent = %d, want >= 2", got)
	}
}

func TestKeepAliveManagerZeroIntervalNeverPings(t *testing.T) {
	var pings int32
	ping := func(_ context.Context, _ []byte) error {
		atomic.AddInt32(&pings, 1)
		return nil
	}

	k := newKeepAliveManager(0, ping, zerolog.Nop())
	k.start(context.Background())
	defer k.close()

	time.Sleep(20 * time.Millisecond)
	if got := atomic.LoadInt32(&pings); got != 0 {
		t.Errorf("pings sent = %d, want 0", got)
	}
}

func TestKeepAliveManagerNotifyPongCopiesPayload(t *testing.T) {
	k := newKeepAliveManager(0, nil, zerolog.Nop())

	var got []byte
	k.onPongFunc(func(payload []byte) {
		got = payload
	})

	payload := []byte{1, 2, 3}
	k.notifyPong(payload)
	payload[0] = 0xFF // Mutating the original must not affect the observer's copy.

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("notifyPong() observer saw %v, want [1 2 3]", got)
	}
}
