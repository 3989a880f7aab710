package websocket

import "testing"

func TestTrimToValidUTF8(t *testing.T) {
	tests := []struct {
		name string
		s    string
		n    int
		want string
	}{
		{
			name: "within_limit",
			s:    "This is an ASCII string without multi-byte characters",
			n:    123,
			want: "This is an ASCII string without multi-byte characters",
		},
		{
			name: "valid_multi_bytes_within_limit",
			s:    "こんにちは世界", //nolint:gosmopolitan // Test string.
			n:    123,
			want: "こんにちは世界", //nolint:gosmopolitan // Test string.
		},
		{
			name: "truncated_on_rune_boundary",
			s:    "こんにちは世界", //nolint:gosmopolitan // Test string.
			n:    len("こんにちは世界") - 1,
			want: "こんにちは世", //nolint:gosmopolitan // Test string.
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trimToValidUTF8(tt.s, tt.n); got != tt.want {
				t.Errorf("trimToValidUTF8() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeDecodeClosePayloadRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		code   StatusCode
		reason string
	}{
		{name: "normal_with_reason", code: StatusNormalClosure, reason: "bye"},
		{name: "no_reason", code: StatusProtocolError, reason: ""},
		{name: "long_reason_truncated", code: StatusNormalClosure, reason: string(make([]byte, 200))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := EncodeClosePayload(tt.code, tt.reason)
			if len(payload) > MaxControlPayload {
				t.Fatalf("EncodeClosePayload() len = %d, want <= %d", len(payload), MaxControlPayload)
			}

			gotCode, _ := DecodeClosePayload(payload)
			if gotCode != tt.code {
				t.Errorf("DecodeClosePayload() code = %v, want %v", gotCode, tt.code)
			}
		})
	}
}

func TestDecodeClosePayloadShort(t *testing.T) {
	code, reason := DecodeClosePayload(nil)
	if code != StatusNoStatusReceived || reason != "" {
		t.Errorf("DecodeClosePayload(nil) = (%v, %q), want (%v, \"\")", code, reason, StatusNoStatusReceived)
	}

	code, reason = DecodeClosePayload([]byte{0x03, 0xe8}) // 1000, no reason.
	if code != StatusNormalClosure || reason != "" {
		t.Errorf("DecodeClosePayload() = (%v, %q), want (%v, \"\")", code, reason, StatusNormalClosure)
	}
}

func TestDecodeClosePayloadInvalidUTF8(t *testing.T) {
	payload := []byte{0x03, 0xe8, 0xff, 0xfe} // 1000 followed by invalid UTF-8.
	code, reason := DecodeClosePayload(payload)
	if code != StatusInvalidPayloadData || reason != "" {
		t.Errorf("DecodeClosePayload() = (%v, %q), want (%v, \"\")", code, reason, StatusInvalidPayloadData)
	}
}

func TestCheckCloseStatus(t *testing.T) {
	tests := []struct {
		name     string
		code     StatusCode
		wantCode StatusCode
	}{
		{name: "valid_passthrough", code: StatusNormalClosure, wantCode: StatusNormalClosure},
		{name: "reserved_local_use_rejected", code: StatusNoStatusReceived, wantCode: StatusProtocolError},
		{name: "private_range_accepted", code: StatusCode(4000), wantCode: StatusCode(4000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCode, _ := checkCloseStatus(tt.code, "")
			if gotCode != tt.wantCode {
				t.Errorf("checkCloseStatus() code = %v, want %v", gotCode, tt.wantCode)
			}
		})
	}
}
