package network

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"time"
)

// PeerOption configures a Peer.
type PeerOption func(*Peer)

// WithTimeout bounds every round. Zero waits forever.
func WithTimeout(timeout time.Duration) PeerOption {
	return func(p *Peer) {
		p.timeout = timeout
	}
}

// WithCertificate serves over TLS with cert and presents it to peers as a
// client certificate.
func WithCertificate(cert tls.Certificate) PeerOption {
	return func(p *Peer) {
		if p.tlsConfig == nil {
			p.tlsConfig = &tls.Config{}
		}
		p.tlsConfig.Certificates = append(p.tlsConfig.Certificates, cert)
	}
}

// WithRootCAs limits trusted peers to the certificates in certPool, both as
// servers and as clients.
func WithRootCAs(certPool *x509.CertPool) PeerOption {
	return func(p *Peer) {
		if p.tlsConfig == nil {
			p.tlsConfig = &tls.Config{}
		}
		p.tlsConfig.RootCAs = certPool
		p.tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		p.tlsConfig.ClientCAs = certPool
	}
}

// WithPeerLogger sets the logger used for server failures.
func WithPeerLogger(logger *slog.Logger) PeerOption {
	return func(p *Peer) {
		if logger != nil {
			p.logger = logger
		}
	}
}
