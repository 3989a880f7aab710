package websocket

import (
	"errors"
	"testing"
)

func TestCloseCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want StatusCode
	}{
		{name: "buffer_overflow", err: ErrBufferOverflow, want: StatusMessageTooBig},
		{name: "payload_length_out_of_range", err: ErrPayloadLengthOutOfRange, want: StatusProtocolError},
		{name: "unexpected_end", err: ErrUnexpectedEnd, want: StatusInvalidPayloadData},
		{name: "protocol_error", err: ErrProtocolError, want: StatusProtocolError},
		{name: "unknown_opcode", err: errUnknownOpcode, want: StatusProtocolError},
		{name: "operation_cancelled", err: errOperationCancelled, want: StatusEndpointUnavailable},
		{name: "unrecognized", err: errors.New("boom"), want: StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := closeCodeForError(tt.err); got != tt.want {
				t.Errorf("closeCodeForError() = %v, want %v", got, tt.want)
			}
		})
	}
}
