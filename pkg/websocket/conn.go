package websocket

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// Role determines a connection's masking obligations, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.3: a client
// MUST mask every frame it sends, a server MUST NOT mask any frame it
// sends. This type is what makes the core role-generic instead of
// implicitly client-only.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// State is a connection's position in the lifecycle graph. States only
// move forward; Closed and Aborted are terminal.
type State int32

const (
	StateOpen State = iota
	StateCloseSent
	StateCloseReceived
	StateClosed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCloseSent:
		return "close_sent"
	case StateCloseReceived:
		return "close_received"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// DefaultKeepAliveInterval is the recommended keep-alive ping interval.
const DefaultKeepAliveInterval = 30 * time.Second

// DefaultBufferLength is the recommended size for a connection's
// receive buffer.
const DefaultBufferLength = 16 * 1024

// closeOutputTimeoutDuration bounds the best-effort close frame that
// CloseOutputTimeout attempts before surfacing a receive-path error.
const closeOutputTimeoutDuration = 3 * time.Second

// disposeTimeoutDuration bounds Dispose's best-effort close frame.
const disposeTimeoutDuration = 5 * time.Second

// ReceiveResult describes one frame returned by [Conn.Receive]: control
// frames (ping/pong) are handled internally and never surface here.
type ReceiveResult struct {
	N           int
	Opcode      Opcode // OpcodeText, OpcodeBinary, or OpcodeClose.
	EndOfMessage bool
	CloseCode   StatusCode
	CloseReason string
}

// Config configures a new [Conn]. Transport, Role, and the negotiated
// handshake details are supplied by the external collaborator that
// performed the HTTP Upgrade; everything else has a workable zero
// value.
type Config struct {
	Role      Role
	Transport io.ReadWriteCloser

	LocalAddr  net.Addr
	RemoteAddr net.Addr
	UriPath    string

	SubProtocol string
	Extensions  string // Negotiated Sec-WebSocket-Extensions, to detect permessage-deflate.

	KeepAliveInterval                time.Duration
	IncludeExceptionInCloseResponse bool

	BufferFactory BufferFactory
	Logger        zerolog.Logger
}

// Conn is one open WebSocket connection: one transport, one frame
// codec in/out, one write serializer, one keep-alive manager. It
// implements the connection's state machine.
type Conn struct {
	id   string
	role Role

	transport io.ReadWriteCloser
	br        *bufio.Reader
	writer    *frameWriter

	bufferFactory BufferFactory
	logger        zerolog.Logger

	localAddr   net.Addr
	remoteAddr  net.Addr
	createdAt   time.Time
	uriPath     string
	subProtocol string
	extensions  string

	keepAliveInterval time.Duration
	keepAlive         *keepAliveManager

	includeExceptionInCloseResponse bool

	// Continuation type memory and the sender-continuation flag.
	// Both are touched only by the single receiver/sender goroutines
	// this type assumes, so they need no synchronization of their own.
	contType Opcode
	sendCont bool

	stateMu     sync.Mutex
	state       State
	closeCode   StatusCode
	closeReason string

	readCtx    context.Context
	readCancel context.CancelFunc

	disposeOnce sync.Once
}

// NewConn constructs a [Conn] over an already-open duplex byte stream;
// the handshake itself is out of scope for the core. [Dial] and
// [Accept] are the two handshake producers this package ships;
// callers with their own upgrade logic can call NewConn directly.
func NewConn(cfg Config) *Conn {
	logger := cfg.Logger

	bf := cfg.BufferFactory
	if bf == nil {
		bf = NewBufferFactory()
	}

	c := &Conn{
		id:                              shortuuid.New(),
		role:                            cfg.Role,
		transport:                       cfg.Transport,
		br:                              bufio.NewReader(cfg.Transport),
		writer:                          newFrameWriter(bufio.NewWriter(cfg.Transport)),
		bufferFactory:                   bf,
		logger:                          logger,
		localAddr:                       cfg.LocalAddr,
		remoteAddr:                      cfg.RemoteAddr,
		createdAt:                       time.Now(),
		uriPath:                         cfg.UriPath,
		subProtocol:                     cfg.SubProtocol,
		extensions:                      cfg.Extensions,
		keepAliveInterval:               cfg.KeepAliveInterval,
		includeExceptionInCloseResponse: cfg.IncludeExceptionInCloseResponse,
		contType:                        OpcodeBinary,
		state:                           StateOpen,
		closeCode:                       StatusNoStatusReceived,
	}

	c.readCtx, c.readCancel = context.WithCancel(context.Background())

	if strings.Contains(strings.ToLower(c.extensions), "permessage-deflate") {
		logEvent(c.logger, zerolog.InfoLevel, EventUsePerMessageDeflate, nil, nil)
	} else {
		logEvent(c.logger, zerolog.DebugLevel, EventNoMessageCompression, nil, nil)
	}

	c.keepAlive = newKeepAliveManager(c.keepAliveInterval, c.SendPing, c.logger)
	c.keepAlive.start(c.readCtx)

	return c
}

// Id returns the connection's opaque identity, generated once at
// construction and never reused.
func (c *Conn) Id() string { return c.id } //nolint:revive // Id is the public API name.

func (c *Conn) IsClient() bool { return c.role == RoleClient }

func (c *Conn) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Conn) CloseStatus() (StatusCode, string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closeCode, c.closeReason
}

func (c *Conn) SubProtocol() string             { return c.subProtocol }
func (c *Conn) KeepAliveInterval() time.Duration { return c.keepAliveInterval }
func (c *Conn) LocalAddr() net.Addr              { return c.localAddr }
func (c *Conn) RemoteAddr() net.Addr             { return c.remoteAddr }
func (c *Conn) Timestamp() time.Time             { return c.createdAt }
func (c *Conn) UriPath() string                  { return c.uriPath } //nolint:revive // UriPath is the public API name.

// OnPong registers the connection's single pong-received observer.
func (c *Conn) OnPong(f func(payload []byte)) {
	c.keepAlive.onPongFunc(f)
}

// NewReceiveBuffer asks the connection's [BufferFactory] for a
// [DefaultBufferLength]-sized [Buffer] to pass to [Conn.ReceiveUsing],
// letting callers opt into the pooled allocator instead of managing
// their own destination slice.
func (c *Conn) NewReceiveBuffer() Buffer {
	return c.bufferFactory.Get(DefaultBufferLength)
}

// ReceiveUsing is [Conn.Receive] for callers holding a [Buffer] rather
// than a raw slice: it prefers the zero-copy view a pool-backed Buffer
// can usually provide, and falls back to the buffer's owned copy
// (logging why) when the implementation can't offer one.
func (c *Conn) ReceiveUsing(ctx context.Context, b Buffer) (ReceiveResult, error) {
	view, offset, length, ok := b.TryGetContiguousView()
	if !ok {
		logEvent(c.logger, zerolog.DebugLevel, EventTryGetBufferNotSupported, nil, nil)
		return c.Receive(ctx, b.Bytes())
	}
	return c.Receive(ctx, view[offset:offset+length])
}

func (c *Conn) getState() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// transitionOpenTo moves the state machine from Open to target iff it
// is currently Open, and reports whether it did.
func (c *Conn) transitionOpenTo(target State) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != StateOpen {
		return false
	}
	c.state = target
	return true
}

// transitionToClosed moves the state machine to Closed from any
// non-terminal state (Open, CloseSent, CloseReceived), and reports
// whether it did. Fatal receive errors use this rather than
// [Conn.transitionOpenTo]: a malformed frame arriving after a polite
// Close has been sent must still leave the connection terminal before
// the error surfaces to the caller.
func (c *Conn) transitionToClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	switch c.state {
	case StateClosed, StateAborted:
		return false
	}
	c.state = StateClosed
	return true
}

func (c *Conn) setCloseInfo(code StatusCode, reason string) {
	c.stateMu.Lock()
	c.closeCode = code
	c.closeReason = reason
	c.stateMu.Unlock()
}

// Receive reads frames in a loop, replying to ping/keeping pong/close
// bookkeeping internally, until a data or close frame must be returned
// to the caller. The destination buffer receives the frame's raw
// payload bytes at offset 0.
func (c *Conn) Receive(ctx context.Context, buf []byte) (ReceiveResult, error) {
	for {
		if s := c.getState(); s == StateClosed || s == StateAborted {
			return ReceiveResult{}, ErrConnectionClosed
		}

		frame, err := c.readFrame(ctx, buf)
		if err != nil {
			return ReceiveResult{}, c.handleReceiveError(err)
		}

		switch frame.Opcode {
		case OpcodeText, OpcodeBinary:
			if !frame.Fin {
				c.contType = frame.Opcode
			}
			return ReceiveResult{N: frame.N, Opcode: frame.Opcode, EndOfMessage: frame.Fin}, nil

		case OpcodeContinuation:
			return ReceiveResult{N: frame.N, Opcode: c.contType, EndOfMessage: frame.Fin}, nil

		case OpcodePing:
			if err := c.replyPong(ctx, buf[:frame.N]); err != nil {
				c.logger.Debug().Err(err).Msg("failed to send pong reply")
			}
			continue

		case OpcodePong:
			c.keepAlive.notifyPong(buf[:frame.N])
			continue

		case OpcodeClose:
			c.handleCloseFrame(ctx, frame)
			return ReceiveResult{
				N: frame.N, Opcode: OpcodeClose, EndOfMessage: true,
				CloseCode: frame.CloseCode, CloseReason: frame.CloseReason,
			}, nil

		default:
			err := fmt.Errorf("%w: opcode %d", errUnknownOpcode, frame.Opcode)
			return ReceiveResult{}, c.handleReceiveError(err)
		}
	}
}

// handleReceiveError attempts a best-effort close frame before
// surfacing a receive-path failure.
func (c *Conn) handleReceiveError(err error) error {
	if errors.Is(err, errOperationCancelled) {
		c.closeOutputTimeout(StatusEndpointUnavailable, "", err)
		return err
	}

	c.closeOutputTimeout(closeCodeForError(err), "", err)
	return err
}

// readFrame races a blocking frame read against both the caller's
// context and the connection's internal inbound cancellation source
// (triggered by Abort/Dispose/CloseOutput), so a cancellation is
// reported immediately even though the underlying transport has no
// context-aware Read.
func (c *Conn) readFrame(ctx context.Context, dst []byte) (Frame, error) {
	type result struct {
		frame Frame
		err   error
	}
	resCh := make(chan result, 1)

	go func() {
		f, err := ReadFrame(c.br, dst)
		resCh <- result{f, err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			return Frame{}, r.err
		}
		logEvent(c.logger, zerolog.DebugLevel, EventReceivedFrame, nil, map[string]string{
			"opcode": r.frame.Opcode.String(),
			"fin":    strconv.FormatBool(r.frame.Fin),
		})
		return r.frame, nil
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("%w: %w", errOperationCancelled, ctx.Err())
	case <-c.readCtx.Done():
		return Frame{}, fmt.Errorf("%w: %w", errOperationCancelled, c.readCtx.Err())
	}
}

// writeFrameCtx encodes and enqueues exactly one frame on the write
// serializer, honoring ctx while waiting for the drainer to pick it up
// and report the outcome.
func (c *Conn) writeFrameCtx(ctx context.Context, opcode Opcode, payload []byte, fin bool) error {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, opcode, payload, fin, c.role == RoleClient); err != nil {
		return err
	}

	logEvent(c.logger, zerolog.DebugLevel, EventSendingFrame, nil, map[string]string{"opcode": opcode.String()})

	done := c.writer.enqueue(buf.Bytes())
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes one data frame, choosing Continuation/Text/Binary per
// the sender-continuation flag. Close frames must go through
// [Conn.Close] or [Conn.CloseOutput].
func (c *Conn) Send(ctx context.Context, buf []byte, messageType Opcode, endOfMessage bool) error {
	if messageType == OpcodeClose {
		return fmt.Errorf("websocket: use Conn.Close to send a close frame")
	}
	if c.getState() != StateOpen {
		return ErrConnectionClosed
	}

	opcode := messageType
	if c.sendCont {
		opcode = OpcodeContinuation
	}

	err := c.writeFrameCtx(ctx, opcode, buf, endOfMessage)
	// This flag is only ever touched from this data-send path, never
	// from Close, and only after a write was actually attempted.
	c.sendCont = !endOfMessage
	return err
}

// SendPing emits a ping frame. Payloads over 125 bytes are rejected
// locally without affecting connection state.
func (c *Conn) SendPing(ctx context.Context, payload []byte) error {
	if len(payload) > MaxControlPayload {
		return ErrPingTooLarge
	}
	if c.getState() != StateOpen {
		return ErrConnectionClosed
	}
	return c.writeFrameCtx(ctx, OpcodePing, payload, true)
}

// replyPong is the internal auto-reply to an inbound ping.
func (c *Conn) replyPong(ctx context.Context, payload []byte) error {
	if len(payload) > MaxControlPayload {
		return ErrPongTooLarge
	}
	return c.writeFrameCtx(ctx, OpcodePong, payload, true)
}

// handleCloseFrame implements the close handshake.
func (c *Conn) handleCloseFrame(ctx context.Context, frame Frame) {
	c.setCloseInfo(frame.CloseCode, frame.CloseReason)

	switch c.getState() {
	case StateCloseSent:
		c.setState(StateClosed)
		logEvent(c.logger, zerolog.DebugLevel, EventCloseHandshakeComplete, nil, nil)

	case StateOpen:
		c.setState(StateCloseReceived)
		logEvent(c.logger, zerolog.DebugLevel, EventCloseHandshakeRespond, nil, nil)

		code, reason := frame.CloseCode, frame.CloseReason
		if code == StatusNoStatusReceived {
			code, reason = StatusNormalClosure, ""
		}
		if err := c.writeFrameCtx(ctx, OpcodeClose, EncodeClosePayload(code, reason), true); err != nil {
			c.logger.Debug().Err(err).Msg("failed to echo close frame")
		}

		c.setState(StateClosed)
		logEvent(c.logger, zerolog.DebugLevel, EventCloseHandshakeComplete, nil, nil)

	default:
		logEvent(c.logger, zerolog.WarnLevel, EventCloseFrameReceivedInUnexpected, nil,
			map[string]string{"state": c.getState().String()})
	}
}

// Close performs the polite half of the closing handshake: it sends a
// Close frame and moves to CloseSent, without waiting for the peer's
// reply (that reply is picked up by a subsequent [Conn.Receive] call).
func (c *Conn) Close(ctx context.Context, code StatusCode, reason string) error {
	if !c.transitionOpenTo(StateCloseSent) {
		logEvent(c.logger, zerolog.DebugLevel, EventInvalidStateBeforeClose, nil,
			map[string]string{"state": c.getState().String()})
		return ErrConnectionClosed
	}

	code, reason = checkCloseStatus(code, reason)
	logEvent(c.logger, zerolog.DebugLevel, EventCloseHandshakeStarted, nil, nil)
	return c.writeFrameCtx(ctx, OpcodeClose, EncodeClosePayload(code, reason), true)
}

// CloseOutput is the fire-and-forget half of the closing handshake: it
// sets the terminal state before attempting to write, so a write
// failure cannot leave state inconsistent, then cancels the inbound
// cancellation source.
func (c *Conn) CloseOutput(ctx context.Context, code StatusCode, reason string) error {
	if !c.transitionOpenTo(StateClosed) {
		logEvent(c.logger, zerolog.DebugLevel, EventInvalidStateBeforeCloseOutput, nil,
			map[string]string{"state": c.getState().String()})
		return nil
	}

	logEvent(c.logger, zerolog.DebugLevel, EventCloseOutputNoHandshake, nil, nil)
	return c.writeCloseAndStop(ctx, code, reason)
}

// writeCloseAndStop is the shared tail of every output-only close path:
// emit the close frame best-effort, then cancel the inbound
// cancellation source. The caller has already made the state terminal.
func (c *Conn) writeCloseAndStop(ctx context.Context, code StatusCode, reason string) error {
	code, reason = checkCloseStatus(code, reason)
	err := c.writeFrameCtx(ctx, OpcodeClose, EncodeClosePayload(code, reason), true)
	c.readCancel()
	return err
}

// closeOutputTimeout is the receive path's bounded, best-effort close:
// a parser error or cancellation needs a close frame on the wire and a
// terminal state before the original failure is surfaced, even when
// the polite handshake is already half-done (CloseSent/CloseReceived).
// Secondary failures here are logged only; they never replace cause.
func (c *Conn) closeOutputTimeout(code StatusCode, reason string, cause error) {
	if !c.transitionToClosed() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeOutputTimeoutDuration)
	defer cancel()

	if c.includeExceptionInCloseResponse && cause != nil {
		if reason != "" {
			reason += "\n\n" + cause.Error()
		} else {
			reason = cause.Error()
		}
	}

	logEvent(c.logger, zerolog.DebugLevel, EventCloseOutputAutoTimeout, nil, map[string]string{"code": code.String()})

	if err := c.writeCloseAndStop(ctx, code, reason); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logEvent(c.logger, zerolog.WarnLevel, EventCloseOutputAutoTimeoutCancelled, err, nil)
		} else {
			logEvent(c.logger, zerolog.WarnLevel, EventCloseOutputAutoTimeoutError, err, nil)
		}
	}
}

// Abort unconditionally moves to the Aborted terminal state and
// cancels the inbound cancellation source. No frame is emitted.
func (c *Conn) Abort() {
	c.setState(StateAborted)
	c.readCancel()
}

// Dispose is idempotent: if still Open, it runs a bounded best-effort
// CloseOutput, then always cancels the inbound source, stops the
// keep-alive manager, drains and stops the write serializer, and
// closes the transport. Safe to call from any context.
func (c *Conn) Dispose() error {
	var closeErr error

	c.disposeOnce.Do(func() {
		if c.getState() == StateOpen {
			ctx, cancel := context.WithTimeout(context.Background(), disposeTimeoutDuration)
			defer cancel()

			logEvent(c.logger, zerolog.DebugLevel, EventDispose, nil, nil)
			if err := c.CloseOutput(ctx, StatusEndpointUnavailable, ""); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					logEvent(c.logger, zerolog.WarnLevel, EventDisposeCloseTimeout, err, nil)
				} else {
					logEvent(c.logger, zerolog.WarnLevel, EventDisposeError, err, nil)
				}
			}
		}

		c.readCancel()
		c.keepAlive.close()
		c.writer.close()
		closeErr = c.transport.Close()
	})

	return closeErr
}
