// Package tlsconfig builds *tls.Config values for both sides of the
// connection, grounded on TSslCtxClient/TSslCtxServer in
// library/neh/https.cpp and adapted to crypto/tls's config-object model
// (see also shockwave/pkg/shockwave/tls/config.go for the teacher's own
// builder-pattern take on the same job).
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/watt-toolkit/httpsx/internal/hostmatch"
)

// PasswordFunc supplies the passphrase for an encrypted private key, e.g.
// by reading it from a file on demand instead of storing it inline in
// ClientPrivateKeyPassword. Returning "" is treated as "no passphrase".
type PasswordFunc func() (string, error)

// Options mirrors the SetOption(name, value) surface of the original
// library: every field here except PasswordCallback has a matching key
// documented on the httpsx façade.
type Options struct {
	// CAFile and CAPath name a PEM bundle and/or a directory of PEM files
	// used to verify peer certificates. At least one of the two normally
	// needs to be set for CheckCertificateHostname to do anything useful.
	CAFile string
	CAPath string

	// ClientCertificate and ClientPrivateKey pin the certificate this
	// process presents when acting as a TLS client (or when a server
	// wants mutual TLS). ClientPrivateKeyPassword decrypts an encrypted
	// PEM key; PasswordCallback is consulted when it is set and the
	// password field is empty.
	ClientCertificate       string
	ClientPrivateKey        string
	ClientPrivateKeyPassword string
	PasswordCallback        PasswordFunc

	// CheckCertificateHostname turns on RFC 6125 hostname verification
	// (hostmatch.Verify) against the certificate presented by the peer.
	// When false, the peer certificate chain is still validated against
	// CAFile/CAPath (when set) but the hostname is not checked — this is
	// the Go-native rendering of the source's VERIFY_NONE mode (see
	// DESIGN.md). Client sets tls.Config.InsecureSkipVerify only to turn
	// off crypto/tls's built-in checks; its VerifyPeerCertificate callback
	// then re-runs chain validation against CAFile/CAPath. With neither
	// set, no chain validation takes place.
	CheckCertificateHostname bool

	// EnableDebug records the EnableSslClientDebug/EnableSslServerDebug
	// setting. No handshake path in this module reads it, so setting it
	// produces no extra logging.
	EnableDebug bool
}

// ErrNoPassword is returned when a private key is encrypted and neither
// ClientPrivateKeyPassword nor PasswordCallback yields a non-empty value.
var ErrNoPassword = errors.New("tlsconfig: encrypted private key but no password supplied")

// Client builds a *tls.Config suitable for the outbound connection pool.
// serverName is the hostname the peer certificate must match when
// opts.CheckCertificateHostname is set.
func Client(opts Options, serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, // chain validation happens in VerifyPeerCertificate below
	}

	pool, err := loadCAPool(opts.CAFile, opts.CAPath)
	if err != nil {
		return nil, err
	}

	if cert, ok, err := loadKeyPair(opts); err != nil {
		return nil, err
	} else if ok {
		cfg.Certificates = []tls.Certificate{cert}
	}

	cfg.VerifyPeerCertificate = verifyCallback(pool, serverName, opts.CheckCertificateHostname)
	return cfg, nil
}

// Server builds a *tls.Config for the inbound listener. certFile/keyFile
// are the server's own identity, usually parsed out of a location's
// userinfo per internal/location.
func Server(opts Options, certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" {
		certFile = opts.ClientCertificate
	}
	if keyFile == "" {
		keyFile = opts.ClientPrivateKey
	}
	if certFile == "" || keyFile == "" {
		return nil, errors.New("tlsconfig: server requires a certificate and key")
	}

	cert, err := loadCertificate(certFile, keyFile, opts)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if opts.CAFile != "" || opts.CAPath != "" {
		pool, err := loadCAPool(opts.CAFile, opts.CAPath)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return cfg, nil
}

func loadKeyPair(opts Options) (tls.Certificate, bool, error) {
	if opts.ClientCertificate == "" || opts.ClientPrivateKey == "" {
		return tls.Certificate{}, false, nil
	}
	cert, err := loadCertificate(opts.ClientCertificate, opts.ClientPrivateKey, opts)
	if err != nil {
		return tls.Certificate{}, false, err
	}
	return cert, true, nil
}

func loadCertificate(certFile, keyFile string, opts Options) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsconfig: read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsconfig: read key: %w", err)
	}

	keyPEM, err = decryptKeyIfNeeded(keyPEM, opts)
	if err != nil {
		return tls.Certificate{}, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsconfig: parse key pair: %w", err)
	}
	return cert, nil
}

func loadCAPool(caFile, caPath string) (*x509.CertPool, error) {
	if caFile == "" && caPath == "" {
		return nil, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if caFile != "" {
		data, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("tlsconfig: read CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("tlsconfig: no certificates found in %s", caFile)
		}
	}

	if caPath != "" {
		entries, err := os.ReadDir(caPath)
		if err != nil {
			return nil, fmt.Errorf("tlsconfig: read CA directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			data, err := os.ReadFile(caPath + "/" + entry.Name())
			if err != nil {
				continue
			}
			pool.AppendCertsFromPEM(data)
		}
	}

	return pool, nil
}

// verifyCallback builds tls.Config.VerifyPeerCertificate. It always
// verifies the chain against pool (when pool is non-nil); it verifies the
// hostname via hostmatch.Verify only when checkHostname is set. This is
// the callback-based translation of TSslCtxClient's verify_callback plus
// VERIFY_NONE toggle: unlike InsecureSkipVerify, chain validation never
// silently disappears just because hostname checking is off.
func verifyCallback(pool *x509.CertPool, serverName string, checkHostname bool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("tlsconfig: peer presented no certificates")
		}

		certs := make([]*x509.Certificate, len(rawCerts))
		for i, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("tlsconfig: parse peer certificate: %w", err)
			}
			certs[i] = cert
		}

		if pool != nil {
			intermediates := x509.NewCertPool()
			for _, cert := range certs[1:] {
				intermediates.AddCert(cert)
			}
			if _, err := certs[0].Verify(x509.VerifyOptions{
				Roots:         pool,
				Intermediates: intermediates,
			}); err != nil {
				return fmt.Errorf("tlsconfig: chain verification failed: %w", err)
			}
		}

		if checkHostname {
			if err := hostmatch.Verify(certs[0], serverName); err != nil {
				return err
			}
		}

		return nil
	}
}
