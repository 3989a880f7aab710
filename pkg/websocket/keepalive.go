package websocket

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/rs/zerolog"
)

// keepAliveManager runs the periodic ping/pong keep-alive loop for one
// connection: a context-scoped goroutine, zerolog event logging, and an
// 8-byte scratch buffer for the ping payload to avoid allocating.
type keepAliveManager struct {
	interval time.Duration
	ping     func(ctx context.Context, payload []byte) error
	logger   zerolog.Logger

	stop    context.CancelFunc
	onPong  func(payload []byte)
	counter uint64
}

func newKeepAliveManager(interval time.Duration, ping func(context.Context, []byte) error, logger zerolog.Logger) *keepAliveManager {
	return &keepAliveManager{interval: interval, ping: ping, logger: logger}
}

// start begins the periodic ping loop if the interval is positive. The
// loop stops when ctx is cancelled.
func (k *keepAliveManager) start(ctx context.Context) {
	if k.interval <= 0 {
		logEvent(k.logger, zerolog.DebugLevel, EventKeepAliveIntervalZero, nil, nil)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	k.stop = cancel

	go func() {
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				k.sendPing(ctx)
			}
		}
	}()
}

func (k *keepAliveManager) sendPing(ctx context.Context) {
	var payload [8]byte
	binary.BigEndian.PutUint64(payload[:], k.counter)
	k.counter++

	if err := k.ping(ctx, payload[:]); err != nil {
		k.logger.Debug().Err(err).Msg("keep-alive ping failed")
	}
}

// notifyPong is invoked by the connection dispatcher when a Pong frame
// arrives. The payload is copied before the observer runs: the incoming
// slice aliases the connection's read buffer, which the next frame read
// overwrites.
func (k *keepAliveManager) notifyPong(payload []byte) {
	if k.onPong != nil {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		k.onPong(cp)
	}
}

// onPongFunc registers the single pong observer.
func (k *keepAliveManager) onPongFunc(f func([]byte)) {
	k.onPong = f
}

func (k *keepAliveManager) close() {
	if k.stop != nil {
		k.stop()
	}
}
