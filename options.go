package httpsx

import (
	"fmt"
	"strconv"

	"github.com/watt-toolkit/httpsx/internal/tlsconfig"
)

// SetOption applies one named configuration key to opts, in place,
// mirroring the source's string-keyed SetOption(name, value) surface
// (TSslCtxClient/TSslCtxServer configuration options). Recognized keys:
//
//	CAFile                    path to a PEM CA bundle
//	CAPath                    directory of PEM CA files
//	ClientCertificate         path to this side's certificate
//	ClientPrivateKey          path to this side's private key
//	ClientPrivateKeyPassword  passphrase for an encrypted private key
//	EnableSslClientDebug      "true"/"false": sets Options.EnableDebug
//	EnableSslServerDebug      "true"/"false": sets the same Options.EnableDebug
//	CheckCertificateHostname  "true"/"false": RFC 6125 hostname verification
func SetOption(opts *tlsconfig.Options, name, value string) error {
	switch name {
	case "CAFile":
		opts.CAFile = value
	case "CAPath":
		opts.CAPath = value
	case "ClientCertificate":
		opts.ClientCertificate = value
	case "ClientPrivateKey":
		opts.ClientPrivateKey = value
	case "ClientPrivateKeyPassword":
		opts.ClientPrivateKeyPassword = value
	case "EnableSslClientDebug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("httpsx: %s: %w", name, err)
		}
		opts.EnableDebug = b
	case "EnableSslServerDebug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("httpsx: %s: %w", name, err)
		}
		opts.EnableDebug = b
	case "CheckCertificateHostname":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("httpsx: %s: %w", name, err)
		}
		opts.CheckCertificateHostname = b
	default:
		return fmt.Errorf("httpsx: unknown option %q", name)
	}
	return nil
}
