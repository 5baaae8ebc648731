// Package listener provides the net.Listener wrappers used by the dashboard:
// a protocol mux that serves TLS and plain HTTP on one port, and a resilient
// accept loop that survives per-connection failures.
package listener

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPeekTimeout bounds the wait for the first byte of a connection.
const DefaultPeekTimeout = 10 * time.Second

// tlsHandshakeRecord is the first byte of every TLS ClientHello.
const tlsHandshakeRecord = 0x16

// connWrapper serves reads from the buffered reader that holds the peeked bytes.
type connWrapper struct {
	net.Conn
	io.Reader
}

func (cw *connWrapper) Read(b []byte) (int, error) {
	return cw.Reader.Read(b)
}

// ProtocolMuxListener wraps net.Listener and serves TLS and plain
// connections on one port. Accept returns at once; the first byte is sniffed
// on the first Read or Write of the connection, so a client that never sends
// anything only holds up its own connection goroutine.
type ProtocolMuxListener struct {
	net.Listener
	TLSConfig   *tls.Config
	PeekTimeout time.Duration
}

// NewProtocolMuxListener returns a mux serving TLS with tlsConfig.
func NewProtocolMuxListener(listener net.Listener, tlsConfig *tls.Config) *ProtocolMuxListener {
	return &ProtocolMuxListener{
		Listener:    listener,
		TLSConfig:   tlsConfig,
		PeekTimeout: DefaultPeekTimeout,
	}
}

// Accept waits for a connection and returns it unsniffed.
func (l *ProtocolMuxListener) Accept() (net.Conn, error) {
	rawConnection, err := l.Listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("accepting connection : %w", err)
	}
	return &sniffConn{
		Conn:        rawConnection,
		tlsConfig:   l.TLSConfig,
		peekTimeout: l.PeekTimeout,
	}, nil
}

// sniffConn decides between TLS and plain on its first Read or Write.
type sniffConn struct {
	net.Conn
	tlsConfig   *tls.Config
	peekTimeout time.Duration

	once    sync.Once
	sniffed net.Conn
	err     error

	mu           sync.Mutex
	readDeadline time.Time // last deadline set by the caller, restored after the peek
}

func (c *sniffConn) Read(b []byte) (int, error) {
	conn, err := c.sniff()
	if err != nil {
		return 0, err
	}
	return conn.Read(b)
}

func (c *sniffConn) Write(b []byte) (int, error) {
	conn, err := c.sniff()
	if err != nil {
		return 0, err
	}
	return conn.Write(b)
}

func (c *sniffConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return c.Conn.SetReadDeadline(t)
}

func (c *sniffConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return c.Conn.SetDeadline(t)
}

func (c *sniffConn) sniff() (net.Conn, error) {
	c.once.Do(func() {
		c.mu.Lock()
		restore := c.readDeadline
		c.mu.Unlock()

		peekDeadline := time.Now().Add(c.peekTimeout)
		if !restore.IsZero() && restore.Before(peekDeadline) {
			peekDeadline = restore
		}
		if err := c.Conn.SetReadDeadline(peekDeadline); err != nil {
			c.err = fmt.Errorf("setting read deadline for peek : %w", err)
			return
		}

		bufferedReader := bufio.NewReader(c.Conn)
		peekedBytes, err := bufferedReader.Peek(1)
		if err != nil {
			c.err = fmt.Errorf("peeking initial bytes : %w", err)
			return
		}
		if err := c.Conn.SetReadDeadline(restore); err != nil {
			c.err = fmt.Errorf("restoring read deadline after peek : %w", err)
			return
		}

		wrapped := &connWrapper{Conn: c.Conn, Reader: bufferedReader}
		if peekedBytes[0] == tlsHandshakeRecord {
			c.sniffed = tls.Server(wrapped, c.tlsConfig)
			return
		}
		c.sniffed = wrapped
	})
	return c.sniffed, c.err
}

// ResilientListener keeps accepting after recoverable errors. Only a closed
// listener ends the accept loop.
type ResilientListener struct {
	net.Listener
	logger *zap.Logger
}

// NewResilientListener wraps listenerToWrap. A nil logger discards errors.
func NewResilientListener(listenerToWrap net.Listener, logger *zap.Logger) *ResilientListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientListener{Listener: listenerToWrap, logger: logger}
}

// Accept returns the next connection, logging and skipping rejected ones.
func (l *ResilientListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, err
			}
			l.logger.Warn("connection rejected", zap.Error(err))
			continue
		}
		return conn, nil
	}
}
