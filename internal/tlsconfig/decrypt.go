package tlsconfig

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// decryptKeyIfNeeded decrypts an RFC 1423 "Proc-Type: 4,ENCRYPTED" PEM
// block, matching the source's PEM_read_bio_PrivateKey(..., password_cb)
// path. Most private keys handed to this transport are not encrypted, in
// which case the PEM block is returned unchanged.
func decryptKeyIfNeeded(keyPEM []byte, opts Options) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return keyPEM, nil
	}
	//lint:ignore SA1019 encrypted PEM keys are still a real interop
	// requirement here; no maintained third-party decoder in the retrieval
	// pack replaces it, and legacy PKCS#1-style encrypted keys have no
	// x509.ParsePKCS8PrivateKey equivalent.
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}

	password, err := resolvePassword(opts)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, ErrNoPassword
	}

	der, err := x509.DecryptPEMBlock(block, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("tlsconfig: decrypt private key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

func resolvePassword(opts Options) (string, error) {
	if opts.ClientPrivateKeyPassword != "" {
		return opts.ClientPrivateKeyPassword, nil
	}
	if opts.PasswordCallback != nil {
		return opts.PasswordCallback()
	}
	return "", nil
}
