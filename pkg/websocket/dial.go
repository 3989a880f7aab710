package websocket

import (
	"context"
	"crypto/rand"
	"crypto/sha1" //gosec:disable G505 // Required by the WebSocket protocol.
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solvix/wsconn/internal/wslog"
)

// dialOptions carries handshake-only state that doesn't belong on the
// long-lived [Config]; it exists only until the handshake completes.
type dialOptions struct {
	client                          *http.Client
	headers                         http.Header
	keepAliveInterval               time.Duration
	includeExceptionInCloseResponse bool
	nonceSource                     io.Reader
}

// DialOpt is an optional configuration function for [Dial].
type DialOpt func(*dialOptions)

var acceptGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

var defaultDialClient = adjustHTTPClient(*http.DefaultClient)

// WithHTTPClient lets callers of [Dial] specify a custom [http.Client]
// for the WebSocket handshake, instead of [http.DefaultClient].
//
// Do not specify a custom timeout in the HTTP client; it would interfere
// with the long-lived connection beyond the handshake. Use
// [context.WithTimeout] with the context passed to [Dial] instead.
func WithHTTPClient(hc *http.Client) DialOpt {
	return func(o *dialOptions) { o.client = hc }
}

// WithHTTPHeader adds a single HTTP header to the handshake request.
func WithHTTPHeader(key, value string) DialOpt {
	return func(o *dialOptions) { o.headers.Add(key, value) }
}

// WithHTTPHeaders adds multiple HTTP headers to the handshake request.
func WithHTTPHeaders(hs http.Header) DialOpt {
	return func(o *dialOptions) { o.headers = hs.Clone() }
}

// WithKeepAliveInterval overrides [DefaultKeepAliveInterval] for this
// connection. Zero disables ping keep-alives entirely.
func WithKeepAliveInterval(d time.Duration) DialOpt {
	return func(o *dialOptions) { o.keepAliveInterval = d }
}

// WithIncludeExceptionInCloseResponse sets [Config.IncludeExceptionInCloseResponse]
// for this connection.
func WithIncludeExceptionInCloseResponse(v bool) DialOpt {
	return func(o *dialOptions) { o.includeExceptionInCloseResponse = v }
}

// Dial performs a WebSocket handshake to establish a client connection
// to the given URL ("ws://..." or "wss://").
//
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.1
func Dial(ctx context.Context, wsURL string, opts ...DialOpt) (*Conn, error) {
	ds := &dialOptions{headers: http.Header{}, keepAliveInterval: DefaultKeepAliveInterval, nonceSource: rand.Reader}
	for _, opt := range opts {
		opt(ds)
	}
	if ds.client == nil {
		ds.client = defaultDialClient
	} else {
		ds.client = adjustHTTPClient(*ds.client)
	}

	nonce, err := generateNonce(ds.nonceSource)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce for WebSocket handshake: %w", err)
	}

	req, err := handshakeRequest(ctx, wsURL, nonce, ds.headers)
	if err != nil {
		return nil, err
	}

	resp, err := ds.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send WebSocket handshake request: %w", err)
	}
	if err = checkHandshakeResponse(resp, nonce); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	rwc, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		return nil, fmt.Errorf("WebSocket handshake response body type: got %T, want io.ReadWriteCloser", resp.Body)
	}

	cfg := Config{
		Role:                            RoleClient,
		Transport:                       rwc,
		UriPath:                         req.URL.Path,
		SubProtocol:                     resp.Header.Get("Sec-WebSocket-Protocol"),
		Extensions:                      resp.Header.Get("Sec-WebSocket-Extensions"),
		KeepAliveInterval:               ds.keepAliveInterval,
		IncludeExceptionInCloseResponse: ds.includeExceptionInCloseResponse,
		Logger:                          wslog.FromContext(ctx),
	}

	c := NewConn(cfg)
	c.logger.Debug().Msg("WebSocket connection initialized")
	return c, nil
}

// adjustHTTPClient returns a modified shallow copy of the given client
// that rewrites ws/wss redirect URLs to http/https.
func adjustHTTPClient(c http.Client) *http.Client {
	orig := c.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		switch req.URL.Scheme {
		case "ws":
			req.URL.Scheme = "http"
		case "wss":
			req.URL.Scheme = "https"
		}
		if orig != nil {
			return orig(req, via)
		}
		return nil
	}
	return &c
}

// generateNonce generates a random 16-byte value, Base64-encoded, as
// required for each connection by
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.1.
func generateNonce(r io.Reader) (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// handshakeRequest implements the client request of
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.1.
func handshakeRequest(ctx context.Context, wsURL, nonce string, headers http.Header) (*http.Request, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse WebSocket URL: %w", err)
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, fmt.Errorf("unexpected WebSocket URL scheme: %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebSocket handshake request: %w", err)
	}

	req.Header = headers.Clone()
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", nonce)
	req.Header.Set("Sec-WebSocket-Version", "13")

	return req, nil
}

// checkHandshakeResponse checks the server response details of
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.2.
func checkHandshakeResponse(resp *http.Response, nonce string) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		msg := fmt.Sprintf("WebSocket handshake response status: got %d, want %d",
			resp.StatusCode, http.StatusSwitchingProtocols)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if len(body) > 0 {
			msg = fmt.Sprintf("%s (%s)", msg, string(body))
		}
		return errors.New(msg)
	}

	if err := checkHTTPHeader(resp.Header, "Upgrade", "websocket"); err != nil {
		return err
	}
	if err := checkHTTPHeader(resp.Header, "Connection", "Upgrade"); err != nil {
		return err
	}

	want := expectedServerAcceptValue(nonce)
	return checkHTTPHeader(resp.Header, "Sec-WebSocket-Accept", want)
}

func checkHTTPHeader(headers http.Header, key, want string) error {
	if got := headers.Get(key); !strings.EqualFold(got, want) {
		return fmt.Errorf("WebSocket handshake response header %q: got %q, want %q", key, got, want)
	}
	return nil
}

// expectedServerAcceptValue constructs the expected "Sec-WebSocket-Accept"
// value, per https://datatracker.ietf.org/doc/html/rfc6455#section-4.2.2.
func expectedServerAcceptValue(key string) string {
	h := sha1.New() //gosec:disable G401 // Required by the WebSocket protocol.
	h.Write([]byte(key))
	h.Write(acceptGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// withNonceSource pins the handshake nonce's entropy source, so tests
// can assert an exact Sec-WebSocket-Accept value without depending on
// crypto/rand.
func withNonceSource(r io.Reader) DialOpt {
	return func(o *dialOptions) { o.nonceSource = r }
}
