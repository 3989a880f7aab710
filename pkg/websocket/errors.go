package websocket

import "errors"

// Frame codec and connection errors, and the close status code each
// maps to when the connection fails the handshake-less way.
var (
	// ErrBufferOverflow is returned by [ReadFrame] when the declared
	// payload length exceeds the caller-supplied destination buffer.
	ErrBufferOverflow = errors.New("websocket: frame payload exceeds destination buffer")

	// ErrPayloadLengthOutOfRange is returned by [ReadFrame] when the
	// 64-bit extended length has its high bit set (must be < 2^63).
	ErrPayloadLengthOutOfRange = errors.New("websocket: frame payload length out of range")

	// ErrUnexpectedEnd is returned by [ReadFrame] when the source is
	// exhausted in the middle of a frame.
	ErrUnexpectedEnd = errors.New("websocket: unexpected end of stream while reading frame")

	// ErrProtocolError is returned by [ReadFrame] when a reserved opcode
	// appears, or a control frame has FIN=0 or a payload over 125 bytes.
	ErrProtocolError = errors.New("websocket: protocol error")

	// ErrPingTooLarge is returned by [Conn.SendPing] and [WriteFrame]
	// for ping payloads over 125 bytes.
	ErrPingTooLarge = errors.New("websocket: ping payload exceeds 125 bytes")

	// ErrPongTooLarge is returned by [WriteFrame] for a pong payload
	// over 125 bytes.
	ErrPongTooLarge = errors.New("websocket: pong payload exceeds 125 bytes")

	// ErrConnectionClosed is returned by the send-side operations once
	// the connection has left the Open state.
	ErrConnectionClosed = errors.New("websocket: connection is not open")

	// errUnknownOpcode is surfaced to the receive caller when the peer
	// sends a reserved/unknown opcode. [ReadFrame] wraps it together with
	// ErrProtocolError, so errors.Is matches both for such a frame.
	errUnknownOpcode = errors.New("websocket: unknown opcode")

	// errOperationCancelled wraps a caller's context cancellation on a
	// pending receive.
	errOperationCancelled = errors.New("websocket: operation cancelled")
)

// closeCodeForError maps a receive-path error to the close status code
// that [Conn.closeOutputTimeout] should send before surfacing the error
// to the caller.
func closeCodeForError(err error) StatusCode {
	switch {
	case errors.Is(err, ErrBufferOverflow):
		return StatusMessageTooBig
	case errors.Is(err, ErrPayloadLengthOutOfRange):
		return StatusProtocolError
	case errors.Is(err, ErrUnexpectedEnd):
		return StatusInvalidPayloadData
	case errors.Is(err, errUnknownOpcode), errors.Is(err, ErrProtocolError):
		return StatusProtocolError
	case errors.Is(err, errOperationCancelled):
		return StatusEndpointUnavailable
	default:
		return StatusInternalServerError
	}
}
