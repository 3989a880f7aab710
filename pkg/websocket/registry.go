package websocket

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/solvix/wsconn/internal/wslog"
)

// clientPools holds the process-wide [ClientPool] registry, keyed by a
// hashed caller-supplied ID, letting unrelated callers share one
// reconnecting connection per logical destination.
var clientPools = sync.Map{}

// Message is one reassembled data message surfaced by [ClientPool].
type Message struct {
	Opcode Opcode
	Data   []byte
}

// URLFunc resolves the WebSocket URL to dial, evaluated again on every
// (re)connection attempt so callers can fold in freshly-minted
// credentials (signed URLs, short-lived tokens) per attempt.
type URLFunc func(ctx context.Context) (string, error)

// ClientPool is a long-running wrapper around connections to the same
// WebSocket server with the same credentials. It normally manages a
// single [Conn], except when it gets disconnected, or is about to be,
// in which case it automatically opens another [Conn] and switches to
// it seamlessly to minimize downtime across reconnections.
type ClientPool struct {
	logger zerolog.Logger
	url    URLFunc
	opts   []DialOpt

	mu    sync.Mutex
	conns [2]*Conn

	outMsgs chan Message
	refresh *time.Timer
}

// NewOrCachedClientPool returns the [ClientPool] registered under id,
// dialing a fresh one (and starting its message relay) only if none
// exists yet.
func NewOrCachedClientPool(ctx context.Context, id string, url URLFunc, opts ...DialOpt) (*ClientPool, error) {
	hashedID := hashPoolID(id)
	if p, ok := clientPools.Load(hashedID); ok {
		return p.(*ClientPool), nil //nolint:errcheck
	}

	p, err := newClientPool(ctx, url, opts...)
	if err != nil {
		return nil, err
	}

	actual, loaded := clientPools.LoadOrStore(hashedID, p)
	if loaded { // Stored by a different goroutine since the Load above.
		p.discard()
	} else {
		go p.relayMessages(ctx)
	}

	return actual.(*ClientPool), nil //nolint:errcheck
}

// hashPoolID generates a stable-but-irreversible SHA-256 hash of a
// [ClientPool] registration ID.
func hashPoolID(id string) string {
	h := sha256.New()
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

func newClientPool(ctx context.Context, url URLFunc, opts ...DialOpt) (*ClientPool, error) {
	conn, err := dialVia(ctx, url, opts...)
	if err != nil {
		return nil, err
	}

	p := &ClientPool{
		logger:  wslog.FromContext(ctx),
		url:     url,
		opts:    opts,
		outMsgs: make(chan Message),
	}
	p.conns[0] = conn
	return p, nil
}

func dialVia(ctx context.Context, url URLFunc, opts ...DialOpt) (*Conn, error) {
	u, err := url(ctx)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, u, opts...)
}

// discard tears down a newly-created [ClientPool] that lost the race
// to register under its ID against one created by another goroutine.
func (p *ClientPool) discard() {
	p.conns[0].Close(context.Background(), StatusEndpointUnavailable, "")
	p.conns[0].Dispose()
	p.conns = [2]*Conn{}
}

// relayMessages runs as a [ClientPool] goroutine: it reads complete
// messages off the active connection with [readMessages] and republishes
// them on outMsgs, switching to a replacement connection whenever the
// active one's receive loop ends.
func (p *ClientPool) relayMessages(ctx context.Context) {
	for {
		conn := p.active()
		readMessages(ctx, conn, p.outMsgs)
		p.replaceConn(ctx)
	}
}

// readMessages runs [Conn.Receive] in a loop, reassembling fragmented
// messages and publishing each finished one on out, until Receive
// reports a close frame or a terminal error.
func readMessages(ctx context.Context, conn *Conn, out chan<- Message) {
	buf := make([]byte, DefaultBufferLength)
	var msg []byte
	var opcode Opcode

	for {
		res, err := conn.Receive(ctx, buf)
		if err != nil {
			return
		}
		if res.Opcode == OpcodeClose {
			return
		}

		if len(msg) == 0 {
			opcode = res.Opcode
		}
		msg = append(msg, buf[:res.N]...)

		if res.EndOfMessage {
			out <- Message{Opcode: opcode, Data: msg}
			msg = nil
		}
	}
}

func (p *ClientPool) active() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[0]
}

// replaceConn either switches seamlessly to a secondary connection
// already prepared by [ClientPool.RefreshConnectionIn], or dials a new
// one with endless retries.
func (p *ClientPool) replaceConn(ctx context.Context) {
	p.mu.Lock()
	if p.conns[1] != nil {
		p.conns[0], p.conns[1] = p.conns[1], nil
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; ; i++ {
		conn, err := dialVia(ctx, p.url, p.opts...)
		if err == nil {
			p.mu.Lock()
			p.conns[0] = conn
			p.mu.Unlock()
			return
		}
		p.logger.Error().Err(err).Int("retry", i).Msg("failed to replace WebSocket connection")
	}
}

// IncomingMessages returns the pool's channel of reassembled [Message]s
// as they arrive from the active connection.
func (p *ClientPool) IncomingMessages() <-chan Message {
	return p.outMsgs
}

// SendJSON marshals v and sends it over the pool's currently active
// connection, so callers never have to track reconnections themselves.
func (p *ClientPool) SendJSON(ctx context.Context, v any) error {
	return p.active().SendJSON(ctx, v)
}

// Close stops a pending refresh timer and starts the closing handshake
// on the pool's active connection. It does not stop relaying: once that
// connection's receive loop ends, the relay goroutine dials a
// replacement.
func (p *ClientPool) Close(ctx context.Context, code StatusCode, reason string) error {
	if p.refresh != nil {
		p.refresh.Stop()
	}
	return p.active().Close(ctx, code, reason)
}

// RefreshConnectionIn instructs the pool to replace its active [Conn]
// seamlessly after d, preventing unnecessary downtime during reconnects
// whose timing is known or coordinated in advance.
func (p *ClientPool) RefreshConnectionIn(ctx context.Context, d time.Duration) {
	msg := "starting timer to refresh WebSocket connection"
	if p.refresh != nil {
		p.refresh.Stop()
		msg = "re" + msg
	}
	p.logger.Debug().Msg(msg)

	p.refresh = time.AfterFunc(d, func() {
		p.logger.Debug().Msg("refreshing WebSocket connection")
		p.refresh = nil

		conn, err := dialVia(ctx, p.url, p.opts...)
		if err != nil {
			p.logger.Error().Err(err).Msg("failed to refresh WebSocket connection")
			return
		}

		p.mu.Lock()
		p.conns[1] = conn
		old := p.conns[0]
		p.mu.Unlock()

		old.Close(ctx, StatusEndpointUnavailable, "")
	})
}
