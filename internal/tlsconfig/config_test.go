package tlsconfig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// generateSelfSigned writes a self-signed EC certificate/key pair valid for
// dnsName into dir, returning their paths.
func generateSelfSigned(t *testing.T, dir, dnsName string) (certPath, keyPath string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: dnsName},
		DNSNames:     []string{dnsName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalECPrivateKey: %v", err)
	}

	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")

	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certPath, keyPath
}

func TestServerRequiresCertAndKey(t *testing.T) {
	if _, err := Server(Options{}, "", ""); err == nil {
		t.Fatal("expected error when no certificate/key is configured")
	}
}

func TestServerBuildsConfigFromFiles(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := generateSelfSigned(t, dir, "example.com")

	cfg, err := Server(Options{}, certPath, keyPath)
	if err != nil {
		t.Fatalf("Server: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("Certificates = %d, want 1", len(cfg.Certificates))
	}
}

func TestVerifyCallbackAcceptsMatchingHostname(t *testing.T) {
	dir := t.TempDir()
	certPath, _ := generateSelfSigned(t, dir, "example.com")

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatalf("read cert: %v", err)
	}
	block, _ := pem.Decode(certPEM)
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}

	cb := verifyCallback(nil, "example.com", true)
	if err := cb([][]byte{cert.Raw}, nil); err != nil {
		t.Fatalf("verifyCallback: %v", err)
	}
}

func TestVerifyCallbackRejectsMismatchedHostname(t *testing.T) {
	dir := t.TempDir()
	certPath, _ := generateSelfSigned(t, dir, "example.com")

	certPEM, _ := os.ReadFile(certPath)
	block, _ := pem.Decode(certPEM)
	cert, _ := x509.ParseCertificate(block.Bytes)

	cb := verifyCallback(nil, "other.example.com", true)
	if err := cb([][]byte{cert.Raw}, nil); err == nil {
		t.Fatal("expected hostname mismatch error")
	}
}

func TestVerifyCallbackSkipsHostnameWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	certPath, _ := generateSelfSigned(t, dir, "example.com")

	certPEM, _ := os.ReadFile(certPath)
	block, _ := pem.Decode(certPEM)
	cert, _ := x509.ParseCertificate(block.Bytes)

	cb := verifyCallback(nil, "totally-different.example.org", false)
	if err := cb([][]byte{cert.Raw}, nil); err != nil {
		t.Fatalf("verifyCallback: %v, want nil with hostname checking disabled", err)
	}
}
