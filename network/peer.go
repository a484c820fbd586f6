package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned when a round does not complete within the peer timeout.
var ErrTimeout = errors.New("network: round timed out")

// retryInterval is the pause between two delivery attempts to a peer that is
// not ready yet.
const retryInterval = 10 * time.Millisecond

// Peer is one node of the mesh. Rank identifies it and Addresses[i] is
// where the peer with rank i listens.
type Peer struct {
	Rank      int
	Addresses map[int]string
	clock     uint64
	server    *http.Server
	handler   *broadcastHandler
	client    *http.Client
	timeout   time.Duration
	tlsConfig *tls.Config
	logger    *slog.Logger
}

// NewPeer creates the peer with the given rank and starts serving on l.
// When a certificate is configured the listener is wrapped in TLS and peers
// are reached over https.
func NewPeer(rank int, addresses map[int]string, l net.Listener, opts ...PeerOption) *Peer {
	handler := &broadcastHandler{
		contentChannel: make(chan message),
		errChannel:     make(chan error, 1),
	}
	p := &Peer{
		Rank:      rank,
		Addresses: maps.Clone(addresses),
		handler:   handler,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.client = &http.Client{Timeout: p.timeout}
	if p.tlsConfig != nil {
		p.client.Transport = &http.Transport{TLSClientConfig: p.tlsConfig}
		if len(p.tlsConfig.Certificates) > 0 {
			l = tls.NewListener(l, p.tlsConfig)
		}
	}
	p.server = &http.Server{Handler: handler}
	go func() {
		err := p.server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("peer server stopped", "rank", p.Rank, "error", err)
		}
	}()
	return p
}

// Close stops the peer server.
func (p *Peer) Close() error {
	return p.server.Shutdown(context.Background())
}

// message is a payload tagged with the round it was accepted for.
type message struct {
	clock   uint64
	root    int64
	content []byte
}

type broadcastHandler struct {
	active         atomic.Bool
	clock          atomic.Uint64
	root           atomic.Int64
	contentChannel chan message
	errChannel     chan error
}

func (h *broadcastHandler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if !h.active.Load() {
		rw.WriteHeader(http.StatusNotAcceptable)
		return
	}
	senderClock, err := strconv.ParseUint(req.Header.Get("Clock"), 10, 64)
	if err != nil {
		rw.WriteHeader(http.StatusNotAcceptable)
		h.report(fmt.Errorf("from handler: Clock field is missing or not a number"))
		return
	}
	senderRank, err := strconv.ParseInt(req.Header.Get("SenderRank"), 10, 64)
	if err != nil {
		rw.WriteHeader(http.StatusNotAcceptable)
		h.report(fmt.Errorf("from handler: SenderRank field is missing or not a number"))
		return
	}
	if senderClock != h.clock.Load() || senderRank != h.root.Load() {
		rw.WriteHeader(http.StatusNotAcceptable)
		return
	}
	content, err := io.ReadAll(req.Body)
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		h.report(fmt.Errorf("from handler: %v", err))
		return
	}
	select {
	case h.contentChannel <- message{clock: senderClock, root: senderRank, content: content}:
		rw.WriteHeader(http.StatusAccepted)
	case <-req.Context().Done():
	case <-time.After(time.Second):
		rw.WriteHeader(http.StatusNotAcceptable)
	}
}

// report forwards a protocol error to the waiting receiver without blocking.
func (h *broadcastHandler) report(err error) {
	select {
	case h.errChannel <- err:
	default:
	}
}

// Peer with Rank root sends the content of bufferSend to every node.
// bufferRecv will contain the value sent by the Peer with Rank root.
// This function will implicitly synchronize the peers.
func (p *Peer) Broadcast(bufferSend []byte, root int) ([]byte, error) {
	bufferRecv, err := p.broadcastNoBarrier(bufferSend, root)
	if err != nil {
		return nil, err
	}
	err = p.barrier()
	if err != nil {
		return nil, err
	}
	return bufferRecv, nil
}

// AllToAll runs one broadcast round per rank, in rank order, with every
// caller offering bufferSend. bufferRecv[i] holds the payload of rank i.
// Every peer must call it for the peers to stay in step.
func (p *Peer) AllToAll(bufferSend []byte) (bufferRecv [][]byte, err error) {
	if len(p.Addresses) == 0 {
		return nil, errors.New("no addresses found")
	}
	ranks := slices.Sorted(maps.Keys(p.Addresses))
	bufferRecv = make([][]byte, ranks[len(ranks)-1]+1)
	for _, rank := range ranks {
		recv, err := p.broadcastNoBarrier(bufferSend, rank)
		if err != nil {
			return nil, err
		}
		bufferRecv[rank] = recv
	}
	return bufferRecv, nil
}

// barrier returns once every peer has entered it.
func (p *Peer) barrier() error {
	_, err := p.AllToAll(nil)
	return err
}

// CreateListeners opens n loopback listeners on random ports and returns
// them with their addresses, both keyed by rank.
func CreateListeners(n int) (map[int]net.Listener, map[int]string) {
	listeners := make(map[int]net.Listener)
	addresses := make(map[int]string)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			panic(err)
		}
		listeners[i] = l
		addresses[i] = l.Addr().String()
	}
	return listeners, addresses
}

// url returns the endpoint of addr, adding the scheme the peer speaks.
func (p *Peer) url(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	if p.tlsConfig != nil {
		return "https://" + addr
	}
	return "http://" + addr
}

// Peer with Rank root sends the content of bufferSend to every node.
// bufferRecv will contain the value sent by the Peer with Rank root.
func (p *Peer) broadcastNoBarrier(bufferSend []byte, root int) ([]byte, error) {
	p.clock++
	if root == p.Rank {
		for i, addr := range p.Addresses {
			if i == p.Rank {
				continue
			}
			if err := p.deliver(p.url(addr), bufferSend); err != nil {
				return nil, fmt.Errorf("failed to reach peer %d: %w", i, err)
			}
		}
		return bufferSend, nil
	}

	p.handler.clock.Store(p.clock)
	p.handler.root.Store(int64(root))
	p.handler.active.Store(true)
	defer p.handler.active.Store(false)

	var timeout <-chan time.Time
	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	for {
		select {
		case m := <-p.handler.contentChannel:
			// a handler may still deliver a message accepted for an earlier round
			if m.clock != p.clock || m.root != int64(root) {
				continue
			}
			return m.content, nil
		case err := <-p.handler.errChannel:
			return nil, err
		case <-timeout:
			return nil, fmt.Errorf("%w: waiting for peer %d", ErrTimeout, root)
		}
	}
}

// deliver posts content to url until the receiver accepts it.
func (p *Peer) deliver(url string, content []byte) error {
	start := time.Now()
	for {
		req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(string(content)))
		if err != nil {
			return err
		}
		req.Header.Set("Clock", strconv.FormatUint(p.clock, 10))
		req.Header.Set("SenderRank", strconv.Itoa(p.Rank))
		resp, err := p.client.Do(req)
		if err == nil {
			status := resp.StatusCode
			if cerr := resp.Body.Close(); cerr != nil {
				return cerr
			}
			if status == http.StatusAccepted {
				return nil
			}
			err = fmt.Errorf("status code %d", status)
		}
		if p.timeout > 0 && time.Since(start) > p.timeout {
			return fmt.Errorf("%w: last attempt failed with %v", ErrTimeout, err)
		}
		time.Sleep(retryInterval)
	}
}
