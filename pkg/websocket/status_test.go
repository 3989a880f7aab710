package websocket

import "testing"

func TestStatusCodeValid(t *testing.T) {
	tests := []struct {
		name string
		s    StatusCode
		want bool
	}{
		{name: "normal_closure", s: StatusNormalClosure, want: true},
		{name: "invalid_payload", s: StatusInvalidPayloadData, want: true},
		{name: "tls_handshake_local_only", s: StatusTLSHandshake, want: false},
		{name: "no_status_received_local_only", s: StatusNoStatusReceived, want: false},
		{name: "reserved_1004", s: StatusCode(1004), want: false},
		{name: "below_range", s: StatusCode(999), want: false},
		{name: "private_use_range", s: StatusCode(4000), want: true},
		{name: "above_private_use_range", s: StatusCode(5000), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.valid(); got != tt.want {
				t.Errorf("valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusCodeString(t *testing.T) {
	if got := StatusNormalClosure.String(); got != "normal closure" {
		t.Errorf("String() = %q, want %q", got, "normal closure")
	}
	if got := StatusCode(4000).String(); got != "4000" {
		t.Errorf("String() = %q, want %q", got, "4000")
	}
}
