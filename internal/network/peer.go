package network

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Peer is a remote node known by name.
type Peer struct {
	Name    string
	Address string
	Port    int
}

// NewPeer creates a peer entry.
func NewPeer(name, address string, port int) Peer {
	return Peer{
		Name:    name,
		Address: address,
		Port:    port,
	}
}

// HostPort returns the dialable address of the peer.
func (p Peer) HostPort() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
}

// String formats the peer for listings.
func (p Peer) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.HostPort())
}

// PeerRegistry is the bounded, ordered set of peers this node knows about.
// All methods are safe for concurrent use.
type PeerRegistry struct {
	mu       sync.RWMutex
	maxPeers int
	peers    []Peer
}

// NewPeerRegistry creates an empty registry holding at most maxPeers peers.
func NewPeerRegistry(maxPeers int) *PeerRegistry {
	return &PeerRegistry{
		maxPeers: maxPeers,
		peers:    make([]Peer, 0, maxPeers),
	}
}

// Add registers p. It reports false without mutating anything when a peer
// with the same name is already known, and returns ErrCapacity when the
// registry is full.
func (r *PeerRegistry) Add(p Peer) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, known := range r.peers {
		if known.Name == p.Name {
			return false, nil
		}
	}

	if len(r.peers) >= r.maxPeers {
		return false, ErrCapacity
	}

	r.peers = append(r.peers, p)
	return true, nil
}

// Remove drops the peer with the given name and reports whether one was removed.
func (r *PeerRegistry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.peers {
		if p.Name == name {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup returns the peer with the given name.
func (r *PeerRegistry) Lookup(name string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.peers {
		if p.Name == name {
			return p, true
		}
	}
	return Peer{}, false
}

// List returns a snapshot of the registry in insertion order.
func (r *PeerRegistry) List() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]Peer, len(r.peers))
	copy(peers, r.peers)
	return peers
}

// Len returns the number of known peers.
func (r *PeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Capacity returns the maximum number of peers.
func (r *PeerRegistry) Capacity() int {
	return r.maxPeers
}
