package websocket

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/solvix/wsconn/internal/wslog"
)

// acceptOptions mirrors [dialOptions] on the server side: handshake
// knobs that don't belong on the long-lived [Config].
type acceptOptions struct {
	subProtocols                    []string
	keepAliveInterval               time.Duration
	includeExceptionInCloseResponse bool
}

// AcceptOpt configures [Accept].
type AcceptOpt func(*acceptOptions)

// WithSubProtocols lists the subprotocols this server supports, in
// preference order. The first one also present in the client's
// Sec-WebSocket-Protocol request header is selected.
func WithSubProtocols(protocols ...string) AcceptOpt {
	return func(o *acceptOptions) { o.subProtocols = protocols }
}

// WithAcceptKeepAliveInterval overrides [DefaultKeepAliveInterval] for
// this connection. Zero disables ping keep-alives entirely.
func WithAcceptKeepAliveInterval(d time.Duration) AcceptOpt {
	return func(o *acceptOptions) { o.keepAliveInterval = d }
}

// WithAcceptIncludeExceptionInCloseResponse sets [Config.IncludeExceptionInCloseResponse]
// for this connection.
func WithAcceptIncludeExceptionInCloseResponse(v bool) AcceptOpt {
	return func(o *acceptOptions) { o.includeExceptionInCloseResponse = v }
}

// Accept performs the server side of the RFC 6455 opening handshake by
// hijacking the HTTP connection, taking over the underlying
// io.ReadWriteCloser once the HTTP round trip that negotiated it is
// done. It is kept minimal and not expected to cover every HTTP edge
// case a production front end (redirects, CORS/Origin checks, auth)
// would add.
//
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2
func Accept(w http.ResponseWriter, r *http.Request, opts ...AcceptOpt) (*Conn, error) {
	o := &acceptOptions{keepAliveInterval: DefaultKeepAliveInterval}
	for _, opt := range opts {
		opt(o)
	}

	if err := checkHandshakeRequest(r); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		err := fmt.Errorf("websocket: response writer does not support hijacking")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, err
	}

	conn, brw, err := hj.Hijack()
	if err != nil {
		return nil, fmt.Errorf("websocket: failed to hijack connection: %w", err)
	}

	subProtocol := selectSubProtocol(r.Header.Get("Sec-WebSocket-Protocol"), o.subProtocols)

	if err := writeHandshakeResponse(brw.Writer, r, subProtocol); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("websocket: failed to write handshake response: %w", err)
	}

	cfg := Config{
		Role:                            RoleServer,
		Transport:                       &hijackedConn{Conn: conn, br: brw.Reader},
		LocalAddr:                       conn.LocalAddr(),
		RemoteAddr:                      conn.RemoteAddr(),
		UriPath:                         r.URL.Path,
		SubProtocol:                     subProtocol,
		Extensions:                      r.Header.Get("Sec-WebSocket-Extensions"),
		KeepAliveInterval:               o.keepAliveInterval,
		IncludeExceptionInCloseResponse: o.includeExceptionInCloseResponse,
		Logger:                          wslog.FromContext(r.Context()),
	}

	c := NewConn(cfg)
	c.logger.Debug().Msg("WebSocket connection accepted")
	return c, nil
}

// checkHandshakeRequest validates the client request details of
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.1.
func checkHandshakeRequest(r *http.Request) error {
	if r.Method != http.MethodGet {
		return fmt.Errorf("websocket: handshake request method: got %s, want GET", r.Method)
	}
	if !headerContainsToken(r.Header, "Connection", "upgrade") {
		return fmt.Errorf("websocket: handshake request missing Connection: Upgrade")
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return fmt.Errorf("websocket: handshake request missing Upgrade: websocket")
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return fmt.Errorf("websocket: unsupported Sec-WebSocket-Version: %q", r.Header.Get("Sec-WebSocket-Version"))
	}
	if r.Header.Get("Sec-WebSocket-Key") == "" {
		return fmt.Errorf("websocket: handshake request missing Sec-WebSocket-Key")
	}
	return nil
}

func headerContainsToken(h http.Header, key, token string) bool {
	for _, v := range h.Values(key) {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), token) {
				return true
			}
		}
	}
	return false
}

func selectSubProtocol(requested string, supported []string) string {
	if requested == "" || len(supported) == 0 {
		return ""
	}
	want := make(map[string]bool, len(supported))
	for _, p := range supported {
		want[p] = true
	}
	for _, p := range strings.Split(requested, ",") {
		p = strings.TrimSpace(p)
		if want[p] {
			return p
		}
	}
	return ""
}

// writeHandshakeResponse writes the server response of
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.2.
func writeHandshakeResponse(w *bufio.Writer, r *http.Request, subProtocol string) error {
	accept := expectedServerAcceptValue(r.Header.Get("Sec-WebSocket-Key"))

	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", http.StatusSwitchingProtocols,
		http.StatusText(http.StatusSwitchingProtocols)); err != nil {
		return err
	}
	headers := fmt.Sprintf(
		"Upgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: %s\r\n", accept)
	if subProtocol != "" {
		headers += fmt.Sprintf("Sec-WebSocket-Protocol: %s\r\n", subProtocol)
	}
	headers += "\r\n"

	if _, err := w.WriteString(headers); err != nil {
		return err
	}
	return w.Flush()
}

// hijackedConn pairs a hijacked [net.Conn] with the [bufio.Reader] that
// may already hold bytes read past the HTTP request line, so the frame
// codec never misses data net/http buffered during header parsing.
type hijackedConn struct {
	net.Conn
	br *bufio.Reader
}

func (h *hijackedConn) Read(p []byte) (int, error) {
	return h.br.Read(p)
}
