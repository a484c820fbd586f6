package main

import (
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/cybervault/meshledger/config"
	"github.com/cybervault/meshledger/ledger"
	"github.com/cybervault/meshledger/network"
)

const defaultPort = 7400

// guessIpAddress takes a base IP address and a partial address string,
// and fills in the missing octets from the base address.
func guessIpAddress(baseAddress net.IP, partialAddr string) (net.IP, error) {
	ip := make(net.IP, len(baseAddress))
	copy(ip, baseAddress)
	octets := strings.Split(partialAddr, ".")
	if len(octets) == 1 && octets[0] == "" {
		return ip, nil
	}
	if len(octets) > 4 || len(octets) > len(ip) {
		return net.IP{}, fmt.Errorf("too many octets in %q", partialAddr)
	}
	for i := 0; i < len(octets); i++ {
		octet, err := strconv.ParseUint(octets[i], 10, 8)
		if err != nil {
			return net.IP{}, err
		}
		ip[len(ip)-len(octets)+i] = byte(octet)
	}
	return ip, nil
}

// subnetOfListener returns the IP network (CIDR) of the interface that contains
// the local address used by the provided TCP listener.
func subnetOfListener(l *net.TCPListener) (net.IPNet, error) {
	tcpAddr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return net.IPNet{}, fmt.Errorf("listener is not TCP")
	}
	ip := tcpAddr.IP
	if ip == nil || ip.IsUnspecified() {
		return net.IPNet{}, fmt.Errorf("listener has unspecified IP %v", ip)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return net.IPNet{}, err
	}
	for _, ifi := range ifaces {
		addrs, _ := ifi.Addrs()
		for _, a := range addrs {
			var ipnet *net.IPNet
			switch v := a.(type) {
			case *net.IPNet:
				ipnet = v
			case *net.IPAddr:
				ipnet = &net.IPNet{IP: v.IP, Mask: v.IP.DefaultMask()}
			default:
				continue
			}
			if ipnet.Contains(ip) || ipnet.IP.Equal(ip) {
				return *ipnet, nil
			}
		}
	}
	return net.IPNet{}, fmt.Errorf("no interface found for ip %v", ip)
}

// splitHostPort splits an address into host and port, using defaultPort if no port is specified.
func splitHostPort(addr string, defaultPort int) (string, string, error) {
	ipaddr, port, err := net.SplitHostPort(addr)
	if err != nil {
		addr = addr + ":" + strconv.Itoa(defaultPort)
		ipaddr, port, err = net.SplitHostPort(addr)
		if err != nil {
			return "", "", err
		}
	}
	return ipaddr, port, nil
}

// resolvePeers turns the configured peer list into full host:port
// addresses. Numeric peers may give only the trailing octets, which are
// completed from the local address; peers without a port get defaultPort.
// The result includes local and has no duplicates.
func resolvePeers(local string, peers []string) ([]string, error) {
	localHost, _, err := net.SplitHostPort(local)
	if err != nil {
		return nil, err
	}
	base := net.ParseIP(localHost)

	addresses := []string{local}
	var errs []error
	for _, peer := range peers {
		host, port, err := splitHostPort(peer, defaultPort)
		if err != nil {
			errs = append(errs, fmt.Errorf("peer %q: %w", peer, err))
			continue
		}
		if isNumeric(host) {
			if base == nil || base.IsUnspecified() {
				errs = append(errs, fmt.Errorf("peer %q: cannot complete a partial address from %s", peer, localHost))
				continue
			}
			ip, err := guessIpAddress(base, host)
			if err != nil {
				errs = append(errs, fmt.Errorf("peer %q: %w", peer, err))
				continue
			}
			host = ip.String()
		}
		addr := net.JoinHostPort(host, port)
		if !slices.Contains(addresses, addr) {
			addresses = append(addresses, addr)
		}
	}
	return addresses, errors.Join(errs...)
}

func isNumeric(host string) bool {
	for _, r := range host {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return host != ""
}

// createPeer ranks the peers by sorted address and starts the local one on l.
func createPeer(addresses []string, l net.Listener, opts []network.PeerOption) (*network.Peer, int) {
	sorted := slices.Clone(addresses)
	slices.Sort(sorted)
	myRank := 0
	mapAddresses := make(map[int]string, len(sorted))
	for i, addr := range sorted {
		mapAddresses[i] = addr
		if addr == l.Addr().String() {
			myRank = i
		}
	}
	return network.NewPeer(myRank, mapAddresses, l, opts...), myRank
}

// joinMesh listens on the configured address and sets up the snapshot
// exchange with the configured peers.
func joinMesh(cfg *config.Config, chain *ledger.Blockchain, priv ed25519.PrivateKey, logger *slog.Logger) (*network.P2P, error) {
	l, err := net.Listen("tcp", cfg.Network.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Network.Listen, err)
	}
	pterm.Info.Println("Listening on " + l.Addr().String())

	addresses, err := resolvePeers(l.Addr().String(), cfg.Network.Peer)
	if err != nil {
		l.Close()
		return nil, err
	}
	if tl, ok := l.(*net.TCPListener); ok {
		if subnet, err := subnetOfListener(tl); err == nil {
			for _, addr := range addresses {
				host, _, _ := net.SplitHostPort(addr)
				if ip := net.ParseIP(host); ip != nil && !subnet.Contains(ip) {
					logger.Warn("peer is outside the local subnet", "peer", addr, "subnet", subnet.String())
				}
			}
		}
	}

	opts := []network.PeerOption{
		network.WithTimeout(cfg.NetworkTimeout()),
		network.WithPeerLogger(logger),
	}
	if cfg.TLS() {
		tlsOpts, err := loadTLS(cfg)
		if err != nil {
			l.Close()
			return nil, err
		}
		opts = append(opts, tlsOpts...)
	}
	peer, _ := createPeer(addresses, l, opts)
	return network.NewP2P(peer, chain, priv, logger), nil
}

// loadTLS reads the peer certificate and the bundle of trusted peers.
func loadTLS(cfg *config.Config) ([]network.PeerOption, error) {
	cert, err := tls.LoadX509KeyPair(cfg.Network.CertFile, cfg.Network.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load peer certificate: %w", err)
	}
	trust, err := os.ReadFile(cfg.Network.TrustFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read trusted certificates: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(trust) {
		return nil, fmt.Errorf("no certificate found in %s", cfg.Network.TrustFile)
	}
	return []network.PeerOption{network.WithCertificate(cert), network.WithRootCAs(pool)}, nil
}

// certgen writes node.pem and node.key for the address given in args.
// Every peer lists the node.pem of all the others in its trust file.
func certgen(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: certgen <host:port>")
	}
	cert, certPEM, err := network.GenerateSelfSignedCert(args[0])
	if err != nil {
		return err
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile("node.pem", certPEM, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile("node.key", keyPEM, 0o600); err != nil {
		return err
	}
	pterm.Success.Println("Wrote node.pem and node.key")
	return nil
}
