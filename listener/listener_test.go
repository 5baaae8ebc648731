package listener

import (
	"bufio"
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// generateTestTLSConfig creates a self-signed TLS configuration for testing purposes.
// It returns a server-side tls.Config and a client-side x509.CertPool that trusts the server's cert.
func generateTestTLSConfig(t *testing.T) (serverTLSConfig *tls.Config, clientTLSConfig *tls.Config) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.Add(365 * 24 * time.Hour)

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("failed to generate serial number: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Test Co"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	keyDer, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("failed to marshal private key: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDer})

	serverCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("failed to load key pair: %v", err)
	}

	// Create a cert pool for the client, containing our self-signed cert
	clientCertPool := x509.NewCertPool()
	if !clientCertPool.AppendCertsFromPEM(certPEM) {
		t.Fatalf("failed to add server certificate to client cert pool")
	}

	serverTLSConfig = &tls.Config{
		Certificates: []tls.Certificate{serverCert},
	}
	clientTLSConfig = &tls.Config{
		RootCAs: clientCertPool,
	}

	return serverTLSConfig, clientTLSConfig
}

// TestConnWrapper_ReadDelegates tests that the connWrapper delegates the read to the underlying conn
func TestConnWrapper_ReadDelegates(t *testing.T) {
	read, write := net.Pipe()
	defer read.Close()
	defer write.Close()

	want := []byte("hello, bridge")
	go func() {
		defer write.Close()
		_, _ = write.Write(want)
	}()

	cW := &connWrapper{
		Conn:   read,
		Reader: bufio.NewReader(read),
	}

	got := make([]byte, len(want))
	numBytes, err := cW.Read(got)
	if err != nil {
		t.Fatalf("read error : %v", err)
	}

	got = got[:numBytes]

	if !bytes.Equal(got, want[:numBytes]) {
		t.Fatalf("mismatch: want %q got %q", want, got)
	}
}

func TestProtocolMuxListener(t *testing.T) {
	testServerTLSConfig, testClientTLSConfig := generateTestTLSConfig(t)
	baseListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener : %v", err)
	}
	defer baseListener.Close()

	muxListener := NewProtocolMuxListener(baseListener, testServerTLSConfig)

	// Echo server will reply with whatever is sent
	// errChannel will return any errors for the tests to check
	runServerEcho := func() chan error {
		errChannel := make(chan error, 1)
		go func() {
			conn, err := muxListener.Accept()
			if err != nil {
				errChannel <- fmt.Errorf("accept failed : %w", err)
				return
			}
			defer conn.Close()
			buffer := make([]byte, 1024)
			n, err := conn.Read(buffer)
			if err != nil && err != io.EOF {
				errChannel <- fmt.Errorf("server read failed: %w", err)
				return
			}

			if _, err := conn.Write(buffer[:n]); err != nil {
				errChannel <- fmt.Errorf("server write failed: %w", err)
				return
			}
			close(errChannel)
		}()
		return errChannel
	}

	t.Run("Accept Plain TCP Connections", func(t *testing.T) {
		serverErrChannel := runServerEcho()
		clientConn, err := net.Dial("tcp", baseListener.Addr().String())
		if err != nil {
			t.Fatalf("client failed to dial: %v", err)
		}
		defer clientConn.Close()

		want := []byte("plain bridge")
		_, err = clientConn.Write(want)
		if err != nil {
			t.Fatalf("client write failed : %v", err)
		}

		got := make([]byte, len(want))
		_, err = io.ReadFull(clientConn, got)
		if err != nil {
			t.Fatalf("client read failed: %v", err)
		}

		if !bytes.Equal(got, want) {
			t.Errorf("expected %q, got %q", want, got)
		}

		err = <-serverErrChannel
		if err != nil {
			t.Fatalf("server side error: %v", err)
		}
	})

	t.Run("Accept TLS Connections", func(t *testing.T) {
		serverErrChannel := runServerEcho()
		clientConn, err := tls.Dial("tcp", baseListener.Addr().String(), testClientTLSConfig)
		if err != nil {
			t.Fatalf("client failed to dial: %v", err)
		}
		defer clientConn.Close()

		want := []byte("tls bridge")
		_, err = clientConn.Write(want)
		if err != nil {
			t.Fatalf("client write failed : %v", err)
		}

		got := make([]byte, len(want))
		_, err = io.ReadFull(clientConn, got)
		if err != nil {
			t.Fatalf("client read failed: %v", err)
		}

		if !bytes.Equal(got, want) {
			t.Errorf("expected %q, got %q", want, got)
		}

		err = <-serverErrChannel
		if err != nil {
			t.Fatalf("server side error: %v", err)
		}
	})

	t.Run("Timeout on Initial Read", func(t *testing.T) {
		muxListener.PeekTimeout = 50 * time.Millisecond
		defer func() { muxListener.PeekTimeout = DefaultPeekTimeout }()

		serverErrChannel := runServerEcho()
		clientConn, err := net.Dial("tcp", baseListener.Addr().String())
		if err != nil {
			t.Fatalf("client failed to dial: %v", err)
		}
		defer clientConn.Close()

		err = <-serverErrChannel
		if err == nil {
			t.Fatal("expected a timeout error but got nil")
		}
		if !strings.Contains(err.Error(), "peeking initial bytes") {
			t.Errorf("expected error to contain 'peeking initial bytes', but got: %v", err)
		}
		if !strings.Contains(err.Error(), "i/o timeout") {
			t.Errorf("expected error to contain 'i/o timeout', but got: %v", err)
		}
	})

	t.Run("TLS Handshake Failure", func(t *testing.T) {
		serverErrChannel := runServerEcho()

		badClientConfig := &tls.Config{
			RootCAs:    x509.NewCertPool(),
			ServerName: "localhost",
		}

		_, err := tls.Dial("tcp", baseListener.Addr().String(), badClientConfig)
		if err == nil {
			t.Fatal("expected client dial to fail due to handshake error, but it succeeded")
		}

		serverErr := <-serverErrChannel
		if serverErr == nil {
			t.Fatal("expected the server to fail reading after a failed handshake, but got nil")
		}
		if !strings.Contains(serverErr.Error(), "server read failed") {
			t.Errorf("expected server error to come from the read, but got: %v", serverErr)
		}
	})

	t.Run("Closed Before First Byte", func(t *testing.T) {
		serverErrChannel := runServerEcho()

		clientConn, err := net.Dial("tcp", baseListener.Addr().String())
		if err != nil {
			t.Fatalf("client failed to dial: %v", err)
		}
		clientConn.Close()

		serverErr := <-serverErrChannel
		if serverErr == nil {
			t.Fatal("expected an error from an empty connection, but got nil")
		}
		if !strings.Contains(serverErr.Error(), "peeking initial bytes") {
			t.Errorf("expected error to contain 'peeking initial bytes', but got: %v", serverErr)
		}
		if !errors.Is(serverErr, io.EOF) {
			t.Errorf("expected error to wrap EOF, but got: %v", serverErr)
		}
	})
}

func TestProtocolMuxListener_IdleClient(t *testing.T) {
	serverTLSConfig, _ := generateTestTLSConfig(t)
	baseListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener : %v", err)
	}
	defer baseListener.Close()

	muxListener := NewProtocolMuxListener(baseListener, serverTLSConfig)
	muxListener.PeekTimeout = 2 * time.Second

	idleClient, err := net.Dial("tcp", baseListener.Addr().String())
	if err != nil {
		t.Fatalf("idle client failed to dial: %v", err)
	}
	defer idleClient.Close()

	idleConn, err := muxListener.Accept()
	if err != nil {
		t.Fatalf("accepting idle client failed: %v", err)
	}
	defer idleConn.Close()

	liveClient, err := net.Dial("tcp", baseListener.Addr().String())
	if err != nil {
		t.Fatalf("live client failed to dial: %v", err)
	}
	defer liveClient.Close()

	want := []byte("live bridge")
	if _, err := liveClient.Write(want); err != nil {
		t.Fatalf("live client write failed : %v", err)
	}

	start := time.Now()
	liveConn, err := muxListener.Accept()
	if err != nil {
		t.Fatalf("accepting live client failed: %v", err)
	}
	defer liveConn.Close()

	got := make([]byte, len(want))
	if _, err := io.ReadFull(liveConn, got); err != nil {
		t.Fatalf("server read failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("expected %q, got %q", want, got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("live client was held up by the idle one for %v", elapsed)
	}
}

func TestSniffConn_RestoresCallerDeadline(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := &sniffConn{Conn: server, peekTimeout: time.Second}
	if err := conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
		t.Fatalf("setting deadline failed: %v", err)
	}

	go client.Write([]byte("x"))
	buffer := make([]byte, 1)
	if _, err := conn.Read(buffer); err != nil {
		t.Fatalf("first read failed: %v", err)
	}

	// the caller deadline still applies after the sniff
	_, err := conn.Read(buffer)
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected a timeout from the caller deadline, got: %v", err)
	}
}

// mockListener allows custom methos to be implemented for test cases
type mockListener struct {
	accept func() (net.Conn, error)
	close  func() error
	addr   func() net.Addr
}

func (m *mockListener) Accept() (net.Conn, error) { return m.accept() }
func (m *mockListener) Close() error              { return m.close() }
func (m *mockListener) Addr() net.Addr            { return m.addr() }

func TestResilientListener_RecoversFromError(t *testing.T) {
	var acceptCount atomic.Int32
	core, logs := observer.New(zap.WarnLevel)

	want := []byte("hello bridge")

	// Failing Listener will fail on the first Accept and then error
	failingListener := &mockListener{
		accept: func() (net.Conn, error) {
			currentCount := acceptCount.Add(1)
			if currentCount == 1 {
				return nil, errors.New("recoverable error")
			}
			server, client := net.Pipe()
			go func() {
				client.Write([]byte("hello bridge"))
				client.Close()
			}()
			return server, nil
		},
	}

	resilient := NewResilientListener(failingListener, zap.New(core))
	conn, err := resilient.Accept()

	// The first error should be logged and skipped
	if err != nil {
		t.Fatalf("ResilientListener.Accept() failed: %v", err)
	}

	defer conn.Close()

	got := make([]byte, len(want))
	_, err = conn.Read(got)
	if err != nil && err != io.EOF {
		t.Fatalf("failed to read from the connection: %v", err)
	}

	if !bytes.Equal(want, got) {
		t.Errorf("expected %s got %v", want, got)
	}

	acceptedCount := acceptCount.Load()
	if acceptedCount != 2 {
		t.Errorf("expected 2 got %d", acceptedCount)
	}

	if logs.FilterMessage("connection rejected").Len() != 1 {
		t.Errorf("expected the rejected connection to be logged once, got %v", logs.All())
	}

}

func TestResilientListener_FatalError(t *testing.T) {
	var acceptCount atomic.Int32

	// fatalListener will immediately return a fatal error (net.ErrClosed)
	fatalListener := &mockListener{
		accept: func() (net.Conn, error) {
			acceptCount.Add(1)
			return nil, net.ErrClosed
		},
	}

	resilient := NewResilientListener(fatalListener, nil)
	_, err := resilient.Accept()

	if err == nil {
		t.Fatal("expected a fatal error but got nil")
	}

	if !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected error to be net.ErrClosed, but got: %v", err)
	}

	acceptedCount := acceptCount.Load()
	if acceptedCount != 1 {
		t.Errorf("expected 1 but got %d", acceptedCount)
	}
}
