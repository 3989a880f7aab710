package websocket

import "github.com/rs/zerolog"

// Named events emitted through structured logging across the package.
const (
	EventReceivedFrame                    = "received_frame"
	EventSendingFrame                     = "sending_frame"
	EventKeepAliveIntervalZero            = "keep_alive_interval_zero"
	EventUsePerMessageDeflate             = "use_per_message_deflate"
	EventNoMessageCompression             = "no_message_compression"
	EventCloseHandshakeStarted            = "close_handshake_started"
	EventCloseHandshakeRespond            = "close_handshake_respond"
	EventCloseHandshakeComplete           = "close_handshake_complete"
	EventCloseOutputNoHandshake           = "close_output_no_handshake"
	EventCloseOutputAutoTimeout           = "close_output_auto_timeout"
	EventCloseOutputAutoTimeoutCancelled  = "close_output_auto_timeout_cancelled"
	EventCloseOutputAutoTimeoutError      = "close_output_auto_timeout_error"
	EventInvalidStateBeforeClose          = "invalid_state_before_close"
	EventInvalidStateBeforeCloseOutput    = "invalid_state_before_close_output"
	EventCloseFrameReceivedInUnexpected   = "close_frame_received_in_unexpected_state"
	EventTryGetBufferNotSupported         = "try_get_buffer_not_supported"
	EventDispose                          = "dispose"
	EventDisposeCloseTimeout              = "dispose_close_timeout"
	EventDisposeError                     = "dispose_error"
)

// logEvent turns arbitrary key/value pairs into zerolog fields: one
// .Str() per pair, finished with .Msg(event).
func logEvent(l zerolog.Logger, level zerolog.Level, event string, err error, fields map[string]string) {
	e := l.WithLevel(level)
	if err != nil {
		e = e.Err(err)
	}
	for k, v := range fields {
		e = e.Str(k, v)
	}
	e.Str("event", event).Msg(event)
}
