package tlsadapter

import (
	"crypto/tls"

	rherrors "github.com/WhileEndless/reactorhttp/pkg/errors"
	"github.com/WhileEndless/reactorhttp/pkg/tlsconfig"
)

// BuildConfig assembles a production *tls.Config: profile sets the
// version floor/ceiling and, through ApplyCipherSuites, the matching
// cipher suite list (§4.6). The certificate comes from certFile/keyFile
// when both are configured; otherwise GenerateThrowawayCert supplies a
// self-signed pair and the caller is responsible for having logged
// ThrowawayWarning, per §4.6.
func BuildConfig(certFile, keyFile string, profile tlsconfig.VersionProfile) (*tls.Config, error) {
	cfg := &tls.Config{}
	tlsconfig.ApplyVersionProfile(cfg, profile)
	tlsconfig.ApplyCipherSuites(cfg, profile.Min)

	var cert tls.Certificate
	var err error
	if certFile != "" && keyFile != "" {
		cert, err = tls.LoadX509KeyPair(certFile, keyFile)
	} else {
		cert, err = GenerateThrowawayCert()
	}
	if err != nil {
		return nil, rherrors.NewTLSError(certFile, 0, err)
	}
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}
