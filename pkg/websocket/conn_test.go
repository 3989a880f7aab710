package websocket

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newConnPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	clientSide, serverSide := net.Pipe()

	client := NewConn(Config{Role: RoleClient, Transport: clientSide, Logger: zerolog.Nop()})
	server := NewConn(Config{Role: RoleServer, Transport: serverSide, Logger: zerolog.Nop()})

	t.Cleanup(func() {
		client.Dispose()
		server.Dispose()
	})

	return client, server
}

func TestConnSendReceiveRoundTrip(t *testing.T) {
	client, server := newConnPair(t)

	done := make(chan ReceiveResult, 1)
	errc := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		res, err := server.Receive(t.Context(), buf)
		if err != nil {
			errc <- err
			return
		}
		done <- res
	}()

	if err := client.Send(t.Context(), []byte("hello"), OpcodeText, true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case res := <-done:
		if res.Opcode != OpcodeText || !res.EndOfMessage || res.N != len("hello") {
			t.Errorf("Receive() = %+v, want text/fin/5 bytes", res)
		}
	case err := <-errc:
		t.Fatalf("Receive() error = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive() timed out")
	}
}

func TestConnSendFragmentedMessage(t *testing.T) {
	client, server := newConnPair(t)

	type result struct {
		results []ReceiveResult
		err     error
	}
	resc := make(chan result, 1)
	go func() {
		buf := make([]byte, 64)
		var results []ReceiveResult
		for i := 0; i < 2; i++ {
			res, err := server.Receive(t.Context(), buf)
			if err != nil {
				resc <- result{err: err}
				return
			}
			results = append(results, res)
		}
		resc <- result{results: results}
	}()

	if err := client.Send(t.Context(), []byte("frag1"), OpcodeText, false); err != nil {
		t.Fatalf("Send() first frame error = %v", err)
	}
	if err := client.Send(t.Context(), []byte("frag2"), OpcodeText, true); err != nil {
		t.Fatalf("Send() second frame error = %v", err)
	}

	select {
	case r := <-resc:
		if r.err != nil {
			t.Fatalf("Receive() error = %v", r.err)
		}
		if len(r.results) != 2 {
			t.Fatalf("got %d results, want 2", len(r.results))
		}
		if r.results[0].EndOfMessage {
			t.Error("first fragment reported EndOfMessage = true")
		}
		if !r.results[1].EndOfMessage || r.results[1].Opcode != OpcodeText {
			t.Errorf("second fragment = %+v, want text/fin", r.results[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive() timed out")
	}
}

func TestConnPingTriggersPongObserver(t *testing.T) {
	client, server := newConnPair(t)

	pongCh := make(chan []byte, 1)
	client.OnPong(func(payload []byte) {
		pongCh <- payload
	})

	go func() {
		buf := make([]byte, 64)
		_, _ = server.Receive(t.Context(), buf) //nolint:errcheck // Drives the auto-pong-reply loop.
	}()
	go func() {
		buf := make([]byte, 64)
		_, _ = client.Receive(t.Context(), buf) //nolint:errcheck // Drives the pong-observer callback.
	}()

	if err := client.SendPing(t.Context(), []byte("ping-payload")); err != nil {
		t.Fatalf("SendPing() error = %v", err)
	}

	select {
	case payload := <-pongCh:
		if string(payload) != "ping-payload" {
			t.Errorf("pong payload = %q, want %q", payload, "ping-payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pong observer was never invoked")
	}
}

func TestConnCloseHandshake(t *testing.T) {
	client, server := newConnPair(t)

	done := make(chan ReceiveResult, 1)
	go func() {
		buf := make([]byte, 64)
		res, err := server.Receive(t.Context(), buf)
		if err == nil {
			done <- res
		}
	}()
	// Drains the server's echoed close frame, which Receive's internal
	// handleCloseFrame writes back over the same (unbuffered) transport.
	go drainUntilError(t, client)

	if err := client.Close(t.Context(), StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := client.State(); got != StateCloseSent && got != StateClosed {
		t.Errorf("client.State() = %v, want %v or %v", got, StateCloseSent, StateClosed)
	}

	select {
	case res := <-done:
		if res.Opcode != OpcodeClose || res.CloseCode != StatusNormalClosure || res.CloseReason != "bye" {
			t.Errorf("Receive() = %+v, want close/1000/bye", res)
		}
		if got := server.State(); got != StateClosed {
			t.Errorf("server.State() = %v, want %v", got, StateClosed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive() timed out")
	}
}

func TestConnSendAfterCloseIsRejected(t *testing.T) {
	client, server := newConnPair(t)
	go drainUntilError(t, server)

	if err := client.Close(t.Context(), StatusNormalClosure, ""); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Send(t.Context(), []byte("x"), OpcodeText, true); err != ErrConnectionClosed {
		t.Errorf("Send() after Close() error = %v, want %v", err, ErrConnectionClosed)
	}
}

// drainUntilError keeps a peer's receive loop running so the other
// side's blocking frame writes (over the unbuffered net.Pipe transport
// tests use) always have a reader.
func drainUntilError(t *testing.T, c *Conn) {
	t.Helper()
	buf := make([]byte, 64)
	for {
		if _, err := c.Receive(t.Context(), buf); err != nil {
			return
		}
	}
}

func TestConnReceiveCancelledByContext(t *testing.T) {
	client, _ := newConnPair(t)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	buf := make([]byte, 64)
	_, err := client.Receive(ctx, buf)
	if err == nil {
		t.Error("Receive() with a cancelled context returned nil error")
	}
}

func TestConnReceiveUsingPooledBuffer(t *testing.T) {
	client, server := newConnPair(t)

	done := make(chan ReceiveResult, 1)
	go func() {
		buf := server.NewReceiveBuffer()
		defer buf.Release()
		res, err := server.ReceiveUsing(t.Context(), buf)
		if err == nil {
			done <- res
		}
	}()

	if err := client.Send(t.Context(), []byte("pooled"), OpcodeBinary, true); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case res := <-done:
		if res.Opcode != OpcodeBinary || res.N != len("pooled") {
			t.Errorf("ReceiveUsing() = %+v, want binary/6 bytes", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReceiveUsing() timed out")
	}
}

// TestConnReceiveLiteralFragmentedBinary feeds a fragmented binary
// message directly over the wire, bypassing Send so the server-side
// Conn parses exact byte sequences: a first frame `02 03 AA BB CC`
// (binary, not fin) then `80 02 DD EE` (continuation, fin).
func TestConnReceiveLiteralFragmentedBinary(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	server := NewConn(Config{Role: RoleServer, Transport: serverSide, Logger: zerolog.Nop()})
	t.Cleanup(func() { server.Dispose() })

	go func() {
		clientSide.Write([]byte{0x02, 0x03, 0xAA, 0xBB, 0xCC}) //nolint:errcheck
		clientSide.Write([]byte{0x80, 0x02, 0xDD, 0xEE})       //nolint:errcheck
	}()

	buf := make([]byte, 16)

	first, err := server.Receive(t.Context(), buf)
	if err != nil {
		t.Fatalf("Receive() first frame error = %v", err)
	}
	if first.Opcode != OpcodeBinary || first.EndOfMessage || first.N != 3 {
		t.Errorf("first Receive() = %+v, want binary/not-fin/3 bytes", first)
	}
	if !bytes.Equal(buf[:3], []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("first payload = %v, want AA BB CC", buf[:3])
	}

	second, err := server.Receive(t.Context(), buf)
	if err != nil {
		t.Fatalf("Receive() second frame error = %v", err)
	}
	if second.Opcode != OpcodeBinary || !second.EndOfMessage || second.N != 2 {
		t.Errorf("second Receive() = %+v, want binary (via continuation memory)/fin/2 bytes", second)
	}
	if !bytes.Equal(buf[:2], []byte{0xDD, 0xEE}) {
		t.Errorf("second payload = %v, want DD EE", buf[:2])
	}
}

// TestConnCloseLiteralHandshake checks the closing handshake's exact
// wire bytes on the server side (unmasked): Close(1000, "bye") must
// put `88 05 03 E8 62 79 65` on the wire, and a peer reply of
// `88 02 03 E8` must surface as a close result with status 1000 and an
// empty reason.
func TestConnCloseLiteralHandshake(t *testing.T) {
	serverSideTransport, peer := net.Pipe()
	server := NewConn(Config{Role: RoleServer, Transport: serverSideTransport, Logger: zerolog.Nop()})
	t.Cleanup(func() { server.Dispose() })

	wireCh := make(chan []byte, 1)
	go func() {
		got := make([]byte, 7)
		io.ReadFull(peer, got) //nolint:errcheck
		wireCh <- got
		peer.Write([]byte{0x88, 0x02, 0x03, 0xE8}) //nolint:errcheck
	}()

	if err := server.Close(t.Context(), StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case wire := <-wireCh:
		want := []byte{0x88, 0x05, 0x03, 0xE8, 0x62, 0x79, 0x65}
		if !bytes.Equal(wire, want) {
			t.Errorf("wire bytes = % X, want % X", wire, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never observed close frame on the wire")
	}

	res, err := server.Receive(t.Context(), make([]byte, 16))
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if res.Opcode != OpcodeClose || res.N != 2 || res.CloseCode != StatusNormalClosure || res.CloseReason != "" {
		t.Errorf("Receive() = %+v, want close/2/1000/\"\"", res)
	}
	if got := server.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}

// TestConnReceiveErrorAfterCloseSent: a peer that answers a polite
// close with a malformed frame (reserved opcode) instead of its own
// close reply must still leave the connection in a terminal state
// before the parse error surfaces, not stuck in CloseSent.
func TestConnReceiveErrorAfterCloseSent(t *testing.T) {
	transport, peer := net.Pipe()
	server := NewConn(Config{Role: RoleServer, Transport: transport, Logger: zerolog.Nop()})
	t.Cleanup(func() { server.Dispose() })

	go func() {
		io.ReadFull(peer, make([]byte, 7)) //nolint:errcheck // The polite close frame (1000 + "bye").
		peer.Write([]byte{0x83, 0x00})     //nolint:errcheck // FIN + reserved opcode 0x3.
		io.ReadFull(peer, make([]byte, 4)) //nolint:errcheck // The auto close frame (1002).
	}()

	if err := server.Close(t.Context(), StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := server.State(); got != StateCloseSent {
		t.Fatalf("State() after Close() = %v, want %v", got, StateCloseSent)
	}

	_, err := server.Receive(t.Context(), make([]byte, 16))
	if !errors.Is(err, ErrProtocolError) {
		t.Fatalf("Receive() error = %v, want %v", err, ErrProtocolError)
	}
	if got := server.State(); got != StateClosed {
		t.Errorf("State() after receive error = %v, want %v", got, StateClosed)
	}
	if _, err := server.Receive(t.Context(), make([]byte, 16)); err != ErrConnectionClosed {
		t.Errorf("Receive() after receive error = %v, want %v", err, ErrConnectionClosed)
	}
}

func TestConnAbortIsTerminal(t *testing.T) {
	client, _ := newConnPair(t)

	client.Abort()
	if got := client.State(); got != StateAborted {
		t.Errorf("State() = %v, want %v", got, StateAborted)
	}

	if _, err := client.Receive(t.Context(), make([]byte, 16)); err != ErrConnectionClosed {
		t.Errorf("Receive() after Abort() error = %v, want %v", err, ErrConnectionClosed)
	}
}

func TestConnDisposeIsIdempotent(t *testing.T) {
	client, server := newConnPair(t)
	go drainUntilError(t, server)

	if err := client.Dispose(); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	if err := client.Dispose(); err != nil {
		t.Errorf("second Dispose() error = %v", err)
	}

	if err := client.Send(t.Context(), []byte("x"), OpcodeText, true); err != ErrConnectionClosed {
		t.Errorf("Send() after Dispose() error = %v, want %v", err, ErrConnectionClosed)
	}
	if _, err := client.Receive(t.Context(), make([]byte, 16)); err != ErrConnectionClosed {
		t.Errorf("Receive() after Dispose() error = %v, want %v", err, ErrConnectionClosed)
	}
}
