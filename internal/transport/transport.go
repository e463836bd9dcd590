// Package transport provides the HTTP round trippers used to reach the remote
// checkout service.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Kind selects a transport implementation.
type Kind string

const (
	// Standard is Go's default TLS stack.
	Standard Kind = "standard"
	// Chrome presents Chrome's TLS fingerprint.
	Chrome Kind = "chrome"
)

// New returns the round tripper for kind. Unknown kinds are an error so a
// typo in configuration fails at startup rather than silently falling back.
func New(kind Kind, timeout time.Duration) (http.RoundTripper, error) {
	switch kind {
	case Standard, "":
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSHandshakeTimeout = timeout
		t.ResponseHeaderTimeout = timeout
		return t, nil
	case Chrome:
		return NewChromeTransport(timeout), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want %q or %q)", kind, Standard, Chrome)
	}
}

// =============================================================================
// TLS FINGERPRINT TRANSPORT
// =============================================================================
//
// Checkout backends commonly sit behind a CDN or API gateway with bot
// protection keyed on the JA3 fingerprint, and Go's TLS client hello is easy
// to single out. This transport dials with uTLS using Chrome's hello and lets
// ALPN decide the protocol:
//
//   1. Dial with utls.HelloChrome_Auto, ALPN offers h2 and http/1.1
//   2. Remember what each host negotiated
//   3. Route h2 hosts through http2.Transport, the rest through http.Transport
//
// The first request to a host goes through HTTP/2. If the host negotiated
// http/1.1 the h2 dial is abandoned before the request is written, and the
// request is replayed over HTTP/1.1 when its body can be rewound.
// =============================================================================

// NewChromeTransport creates an http.RoundTripper with Chrome's TLS fingerprint.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	t := &chromeTransport{
		dialer: &net.Dialer{Timeout: timeout},
	}
	t.h2 = &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			conn, err := t.dial(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if proto, _ := t.protocols.Load(addr); proto != http2.NextProtoTLS {
				conn.Close()
				return nil, errNotH2
			}
			return conn, nil
		},
	}
	t.h1 = &http.Transport{
		DialTLSContext:        t.dial,
		ForceAttemptHTTP2:     false,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	return t
}

var errNotH2 = errors.New("server did not negotiate h2")

type chromeTransport struct {
	dialer *net.Dialer
	h2     *http2.Transport
	h1     *http.Transport

	// host:port → negotiated ALPN protocol
	protocols sync.Map
}

func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}

	if proto, ok := t.protocols.Load(canonicalAddr(req)); ok && proto != http2.NextProtoTLS {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}

	proto, known := t.protocols.Load(canonicalAddr(req))
	if !known || proto == http2.NextProtoTLS {
		return nil, err
	}

	// Host speaks HTTP/1.1 only; replay if the body allows it.
	retry, rerr := rewind(req)
	if rerr != nil {
		return nil, err
	}
	return t.h1.RoundTrip(retry)
}

func (t *chromeTransport) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := t.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	proto := tlsConn.ConnectionState().NegotiatedProtocol
	if proto == "" {
		proto = "http/1.1"
	}
	t.protocols.Store(addr, proto)

	return tlsConn, nil
}

// canonicalAddr returns host:port for the request URL, defaulting to 443.
func canonicalAddr(req *http.Request) string {
	port := req.URL.Port()
	if port == "" {
		port = "443"
	}
	return net.JoinHostPort(req.URL.Hostname(), port)
}

func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}
