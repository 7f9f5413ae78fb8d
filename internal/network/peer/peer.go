package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/ZakariaDjebbes/JP2P/internal/config"
	"github.com/ZakariaDjebbes/JP2P/internal/network"
	"github.com/ZakariaDjebbes/JP2P/internal/storage"
)

const (
	// chunkSize is the unit in which file payloads are streamed.
	chunkSize = 8192

	dialTimeout = 5 * time.Second
)

// FileStore is the local folder a node shares files from or downloads into.
type FileStore interface {
	ListFiles() ([]storage.FileEntry, error)
	Stat(name string) (storage.FileEntry, error)
	OpenRead(name string, skipBytes int64) (io.ReadCloser, int64, error)
	OpenWrite(name string, appendMode bool) (io.WriteCloser, error)
}

// Node is a running peer: it serves protocol requests from other peers and
// issues its own requests to them.
type Node struct {
	cfg       config.Config
	logger    *zap.Logger
	registry  *network.PeerRegistry
	catalog   *storage.Catalog
	shared    FileStore
	downloads FileStore

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewNode creates a node from cfg. Nothing is bound until Listen is called.
func NewNode(cfg config.Config, shared, downloads FileStore, logger *zap.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Node{
		cfg:       cfg,
		logger:    logger.With(zap.String("node", cfg.Name)),
		registry:  network.NewPeerRegistry(cfg.MaxPeers),
		catalog:   storage.NewCatalog(),
		shared:    shared,
		downloads: downloads,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Name returns the node name sent to other peers.
func (n *Node) Name() string {
	return n.cfg.Name
}

// Registry returns the known peers of this node.
func (n *Node) Registry() *network.PeerRegistry {
	return n.registry
}

// Catalog returns the files discovered by searches.
func (n *Node) Catalog() *storage.Catalog {
	return n.catalog
}

// Port returns the port the node listens on, which differs from the
// configured one when that was 0.
func (n *Node) Port() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listener != nil {
		if addr, ok := n.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return n.cfg.Port
}

// Listen binds the configured port. At most MaxWorkers connections are
// served at once; further ones wait in the accept backlog.
func (n *Node) Listen() error {
	l, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(n.cfg.Port)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", n.cfg.Port, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		l.Close()
		return net.ErrClosed
	}
	n.listener = netutil.LimitListener(l, n.cfg.MaxWorkers)

	n.logger.Info("listening for peers",
		zap.String("addr", l.Addr().String()),
		zap.Int("maxPeers", n.cfg.MaxPeers),
		zap.Int("maxWorkers", n.cfg.MaxWorkers))
	return nil
}

// Serve accepts connections until Close is called.
func (n *Node) Serve() error {
	n.mu.Lock()
	l := n.listener
	n.mu.Unlock()
	if l == nil {
		return errors.New("node is not listening")
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			n.logger.Warn("accept failed", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !n.track(conn) {
			conn.Close()
			return nil
		}

		go func() {
			defer n.untrack(conn)
			n.handleConnection(conn)
		}()
	}
}

// Start listens and serves in the background.
func (n *Node) Start() error {
	if err := n.Listen(); err != nil {
		return err
	}
	go func() {
		if err := n.Serve(); err != nil {
			n.logger.Error("serve stopped", zap.Error(err))
		}
	}()
	return nil
}

// Close stops accepting, closes every open connection and waits for their
// handlers to return.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true

	var err error
	if n.listener != nil {
		err = n.listener.Close()
	}
	for conn := range n.conns {
		conn.Close()
	}
	n.mu.Unlock()

	n.wg.Wait()
	return err
}

func (n *Node) track(conn net.Conn) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return false
	}
	n.conns[conn] = struct{}{}
	n.wg.Add(1)
	return true
}

func (n *Node) untrack(conn net.Conn) {
	n.mu.Lock()
	delete(n.conns, conn)
	n.mu.Unlock()

	conn.Close()
	n.wg.Done()
}

// dial opens a fresh connection for one outbound exchange.
func (n *Node) dial(host string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, network.TransportError("failed to connect to "+addr, err)
	}
	return conn, nil
}

// advertiseAddress is the address other peers should use to reach us over
// the interface conn goes out on.
func (n *Node) advertiseAddress(conn net.Conn) string {
	if n.cfg.AdvertiseAddress != "" {
		return n.cfg.AdvertiseAddress
	}
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	host, _, _ := net.SplitHostPort(conn.LocalAddr().String())
	return host
}
