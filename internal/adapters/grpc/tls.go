package grpc

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"google.golang.org/grpc/credentials"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/ports"
)

func LoadServerTLSCredentials(config *ports.TLSConfig) (credentials.TransportCredentials, error) {
	if config == nil || !config.Enabled {
		return nil, domain.NewConfigurationError("tls", "TLS configuration is not enabled", "enable TLS in transport configuration")
	}

	cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
	if err != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to load server TLS certificates",
			Details: map[string]interface{}{
				"cert_file": config.CertFile,
				"key_file":  config.KeyFile,
			},
			Cause: err,
		}
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS12,
	}

	if config.CAFile != "" {
		pool, err := loadCertPool(config.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return credentials.NewTLS(tlsConfig), nil
}

// LoadClientTLSCredentials builds credentials for one remote alias. A
// non-empty serverName overrides the host used for SNI and certificate
// verification, which proxy deployments need.
func LoadClientTLSCredentials(config *ports.TLSConfig, serverName string) (credentials.TransportCredentials, error) {
	if config == nil || !config.Enabled {
		return nil, domain.NewConfigurationError("tls", "TLS configuration is not enabled", "enable TLS in transport configuration")
	}

	tlsConfig := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if config.CAFile != "" {
		pool, err := loadCertPool(config.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	if config.CertFile != "" && config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		if err != nil {
			return nil, domain.Error{
				Type:    domain.ErrorTypeInternal,
				Message: "failed to load client TLS certificates",
				Details: map[string]interface{}{
					"cert_file": config.CertFile,
					"key_file":  config.KeyFile,
				},
				Cause: err,
			}
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return credentials.NewTLS(tlsConfig), nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to read CA certificate file",
			Details: map[string]interface{}{"ca_file": caFile},
			Cause:   err,
		}
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(ca) {
		return nil, domain.Error{
			Type:    domain.ErrorTypeInternal,
			Message: "failed to append CA certificate to pool",
			Details: map[string]interface{}{"ca_file": caFile},
		}
	}
	return pool, nil
}
