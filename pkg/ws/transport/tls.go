// Package transport содержит общие настройки транспортов для wss:// соединений.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
)

// TLSEnv описывает TLS материалы в base64 (PEM).
type TLSEnv struct {
	Cert string `env:"WSP_TLS_CERT"`
	Key  string `env:"WSP_TLS_KEY"`
	CA   string `env:"WSP_TLS_CA"`
}

// TLSConfigFromEnv загружает TLS конфигурацию из переменных окружения
// WSP_TLS_CERT, WSP_TLS_KEY и WSP_TLS_CA. Если ни одна не задана,
// возвращает nil: используются системные корневые сертификаты.
func TLSConfigFromEnv() (*tls.Config, error) {
	var e TLSEnv

	if err := envdecode.Decode(&e); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil, nil
		}

		return nil, fmt.Errorf("decode tls environment: %w", err)
	}

	return e.Config()
}

// Config собирает *tls.Config. Сертификат и ключ задаются только вместе,
// CA необязателен.
func (e TLSEnv) Config() (*tls.Config, error) {
	if e.Cert == "" && e.Key == "" && e.CA == "" {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if e.Cert != "" || e.Key != "" {
		if e.Cert == "" || e.Key == "" {
			return nil, fmt.Errorf("WSP_TLS_CERT and WSP_TLS_KEY must be set together")
		}

		certPEM, err := base64.StdEncoding.DecodeString(e.Cert)
		if err != nil {
			return nil, fmt.Errorf("failed to decode WSP_TLS_CERT: %w", err)
		}

		keyPEM, err := base64.StdEncoding.DecodeString(e.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to decode WSP_TLS_KEY: %w", err)
		}

		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to load key pair: %w", err)
		}

		cfg.Certificates = []tls.Certificate{cert}
	}

	if e.CA != "" {
		caPEM, err := base64.StdEncoding.DecodeString(e.CA)
		if err != nil {
			return nil, fmt.Errorf("failed to decode WSP_TLS_CA: %w", err)
		}

		rootCAs := x509.NewCertPool()
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}

		cfg.RootCAs = rootCAs
	}

	return cfg, nil
}
