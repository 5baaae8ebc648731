package graphql

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	utls "github.com/refraction-networking/utls"
	"github.com/worldsio/detectbridge/rawhttp"
)

const (
	// FingerprintNone uses the Go TLS stack as is.
	FingerprintNone = ""
	// FingerprintChrome presents a Chrome ClientHello.
	FingerprintChrome = "chrome"

	acceptEncoding = "gzip, br"
)

// TransportConfig configures the TLS behaviour shared by HTTP and WebSocket connections.
type TransportConfig struct {
	Fingerprint        string
	InsecureSkipVerify bool
}

func (cfg TransportConfig) validate() error {
	switch strings.ToLower(cfg.Fingerprint) {
	case FingerprintNone, FingerprintChrome:
		return nil
	default:
		return fmt.Errorf("unsupported tls fingerprint %q", cfg.Fingerprint)
	}
}

// NewTransport returns the round tripper used by Client. It advertises gzip
// and brotli and decodes responses before they reach the caller.
func NewTransport(cfg TransportConfig) (http.RoundTripper, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if strings.EqualFold(cfg.Fingerprint, FingerprintChrome) {
		base.DialTLSContext = chromeDialer(cfg.InsecureSkipVerify)
		base.ForceAttemptHTTP2 = false
	}

	return &decodingTransport{base: base}, nil
}

// NewDialer returns the WebSocket dialer used by Subscriber.
func NewDialer(cfg TransportConfig) (*websocket.Dialer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		Subprotocols:     []string{Subprotocol},
	}
	if strings.EqualFold(cfg.Fingerprint, FingerprintChrome) {
		dialer.NetDialTLSContext = chromeDialer(cfg.InsecureSkipVerify)
	}
	return dialer, nil
}

// chromeDialer dials TLS with a Chrome ClientHello restricted to http/1.1.
func chromeDialer(insecure bool) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := (&net.Dialer{}).DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		sniHost, _, err := net.SplitHostPort(addr)
		if err != nil {
			sniHost = addr
		}

		uConn := utls.UClient(tcpConn, &utls.Config{
			ServerName:         sniHost,
			InsecureSkipVerify: insecure,
		}, utls.HelloChrome_Auto)

		if err := uConn.BuildHandshakeState(); err != nil {
			tcpConn.Close()
			return nil, fmt.Errorf("building handshake state : %w", err)
		}

		// HelloChrome_Auto offers h2 regardless of NextProtos, neither
		// net/http on a custom dialer nor the WebSocket upgrade speak it.
		foundALPN := false
		for _, ext := range uConn.Extensions {
			if alpnExt, ok := ext.(*utls.ALPNExtension); ok {
				alpnExt.AlpnProtocols = []string{"http/1.1"}
				foundALPN = true
				break
			}
		}
		if !foundALPN {
			tcpConn.Close()
			return nil, errors.New("could not find ALPNExtension")
		}

		if err := uConn.HandshakeContext(ctx); err != nil {
			tcpConn.Close()
			return nil, err
		}
		return uConn, nil
	}
}

// decodingTransport requests compressed bodies and decodes gzip and brotli responses.
type decodingTransport struct {
	base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	res, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	encoding := res.Header.Get("Content-Encoding")
	if encoding == "" || strings.EqualFold(encoding, "identity") {
		return res, nil
	}

	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading %s response body : %w", encoding, err)
	}

	decoded, err := rawhttp.DecodeBody(encoding, body)
	if err != nil {
		return nil, err
	}

	res.Body = io.NopCloser(bytes.NewReader(decoded))
	res.Header.Del("Content-Encoding")
	res.Header.Del("Content-Length")
	res.ContentLength = int64(len(decoded))
	res.Uncompressed = true
	return res, nil
}
