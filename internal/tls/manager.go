package tls

import (
	"crypto/tls"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"finnect-auth/internal/util"
)

// TLSConfig controls how server certificates are obtained. When AutoCert is
// set, certificates come from Let's Encrypt; otherwise the manager falls back
// to CertFile/KeyFile and finally to a locally generated self-signed pair.
type TLSConfig struct {
	EnableTLS   bool
	AutoCert    bool
	Domain      string
	CertFile    string
	KeyFile     string
	AutoCertDir string
	Email       string
	Environment string
}

type TLSManager struct {
	config   *TLSConfig
	autoCert *autocert.Manager
}

func NewTLSManager(config *TLSConfig) *TLSManager {
	m := &TLSManager{config: config}

	if config.EnableTLS && config.AutoCert {
		if err := os.MkdirAll(config.AutoCertDir, 0700); err != nil {
			util.Warn("autocert cache directory unavailable, ACME disabled", zap.Error(err))
			return m
		}
		m.autoCert = &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(config.Domain),
			Cache:      autocert.DirCache(config.AutoCertDir),
			Email:      config.Email,
		}
		util.Info("autocert enabled",
			zap.String("domain", config.Domain),
			zap.String("cache_dir", config.AutoCertDir))
	}

	return m
}

// GetCertificate resolves a certificate for the handshake, preferring ACME,
// then configured files, then a self-signed pair for local development.
func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		if cert, err := m.autoCert.GetCertificate(hello); err == nil {
			return cert, nil
		}
	}

	if m.config.CertFile != "" && m.config.KeyFile != "" {
		if cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile); err == nil {
			return &cert, nil
		}
	}

	hosts := []string{m.config.Domain, "localhost", "127.0.0.1", "::1"}
	cert, err := loadOrCreateSelfSigned(m.config.AutoCertDir, hosts)
	if err != nil {
		return nil, fmt.Errorf("self-signed certificate fallback failed: %w", err)
	}
	return cert, nil
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
}

// GetAutocertManager returns the ACME manager, or nil when autocert is off.
// The HTTP listener uses it to answer http-01 challenges.
func (m *TLSManager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}
