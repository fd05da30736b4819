package utils

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

func decodeEnv(envVar string) ([]byte, error) {
	b64 := os.Getenv(envVar)
	if b64 == "" {
		return nil, fmt.Errorf("missing env var: %s", envVar)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", envVar, err)
	}
	return data, nil
}

// Decode builds the client key pair and CA pool for a managed (TLS) Kafka
// cluster from the SERVICE_CERT_BASE64, SERVICE_KEY_BASE64 and CA_PEM_BASE64
// env vars.
func Decode() (tls.Certificate, *x509.CertPool, error) {
	cert, err := decodeEnv("SERVICE_CERT_BASE64")
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	key, err := decodeEnv("SERVICE_KEY_BASE64")
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	ca, err := decodeEnv("CA_PEM_BASE64")
	if err != nil {
		return tls.Certificate{}, nil, err
	}

	keypair, err := tls.X509KeyPair(cert, key)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("failed to load TLS keypair: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(ca) {
		return tls.Certificate{}, nil, errors.New("failed to parse CA PEM")
	}
	return keypair, caCertPool, nil
}
