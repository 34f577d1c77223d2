package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"
)

func selfSignedServerCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
}

// TestCloseUnblocksServeWithoutCallerCancellingContext guards against the
// regression where Close only closed the listener: the dispatcher had
// nothing telling it to stop, so Serve's wait for outstanding workers blocked
// forever whenever a caller relied on Close alone, as Serve's own doc
// comment promises it can.
func TestCloseUnblocksServeWithoutCallerCancellingContext(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, req *Request) *Response {
		return NewResponse(200, nil)
	})

	s, err := New(Config{
		Addr:      "127.0.0.1:0",
		Handler:   handler,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{selfSignedServerCert(t)}},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background())
	}()

	// Give the accept loop a moment to start before closing, so this
	// exercises the same interleaving a real shutdown would.
	time.Sleep(20 * time.Millisecond)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close; dispatcher appears to be deadlocked")
	}
}
