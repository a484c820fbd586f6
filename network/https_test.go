package network

import (
	"crypto/tls"
	"errors"
	"crypto/x509"
	"fmt"
	"net"
	"testing"
	"time"
)

func createHttpsPeers(t *testing.T, n int) (map[int]net.Listener, map[int]string, map[int]tls.Certificate, *x509.CertPool) {
	t.Helper()
	listeners, addresses := CreateListeners(n)
	certs := make(map[int]tls.Certificate, n)
	certPool := x509.NewCertPool()
	for i := 0; i < n; i++ {
		cert, pem, err := GenerateSelfSignedCert(addresses[i])
		if err != nil {
			t.Fatal(err)
		}
		if !certPool.AppendCertsFromPEM(pem) {
			t.Fatal("failed to add certificate to pool")
		}
		certs[i] = cert
	}
	return listeners, addresses, certs, certPool
}

// TestHttpsRejectsUntrustedPeer verifies that a peer whose certificate is missing from
// the receiver's trust bundle cannot deliver.
func TestHttpsRejectsUntrustedPeer(t *testing.T) {
	listeners, addresses, certs, fullPool := createHttpsPeers(t, 2)
	narrowPool := x509.NewCertPool()
	narrowPool.AddCert(mustParse(t, certs[0]))

	pools := map[int]*x509.CertPool{0: narrowPool, 1: fullPool}
	fatal := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			peer := NewPeer(i, addresses, listeners[i],
				WithTimeout(300*time.Millisecond),
				WithCertificate(certs[i]),
				WithRootCAs(pools[i]),
			)
			defer peer.Close()
			_, err := peer.Broadcast([]byte("snapshot"), 1)
			fatal <- err
		}(i)
	}
	for i := 0; i < 2; i++ {
		if err := <-fatal; !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
	}
}

func mustParse(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}

func TestHttpsAllToAll(t *testing.T) {
	n := 3
	listeners, addresses, certs, certPool := createHttpsPeers(t, n)
	fatal := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			peer := NewPeer(i, addresses, listeners[i],
				WithTimeout(30*time.Second),
				WithCertificate(certs[i]),
				WithRootCAs(certPool),
			)
			defer func() {
				fatal <- peer.Close()
			}()
			data := []byte(fmt.Sprint(10 * i))
			recv, err := peer.AllToAll(data)
			if err != nil {
				fatal <- err
				return
			}
			if len(recv) != n {
				fatal <- fmt.Errorf("expected length %d, %d received", n, len(recv))
				return
			}
			for j := 0; j < n; j++ {
				if string(recv[j]) != fmt.Sprint(10*j) {
					fatal <- fmt.Errorf("expected %d, actual %s", 10*j, recv[j])
					return
				}
			}
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-fatal; err != nil {
			t.Fatal(err)
		}
	}
}

func TestGenerateSelfSignedCertHostname(t *testing.T) {
	cert, pem, err := GenerateSelfSignedCert("localhost:7000")
	if err != nil {
		t.Fatal(err)
	}
	if len(pem) == 0 || len(cert.Certificate) != 1 {
		t.Fatal("expected a single PEM encoded certificate")
	}
	parsed := mustParse(t, cert)
	if err := parsed.VerifyHostname("localhost"); err != nil {
		t.Fatalf("certificate should be valid for localhost: %v", err)
	}
	if !parsed.IsCA || parsed.NotAfter.Before(time.Now().Add(300*24*time.Hour)) {
		t.Fatal("expected a self-signed root valid for about a year")
	}
	if _, _, err := GenerateSelfSignedCert("no-port"); err == nil {
		t.Fatal("expected an error for an address without port")
	}
}
