package network

import (
	"errors"
	"fmt"

	"github.com/ZakariaDjebbes/JP2P/internal/storage"
)

var (
	// ErrProtocolFormat is returned for requests that cannot be parsed.
	ErrProtocolFormat = errors.New("malformed request")
	// ErrCapacity is returned when the peer registry is full.
	ErrCapacity = errors.New("peer registry is full")
	// ErrDuplicate marks a peer or file that is already known.
	ErrDuplicate = errors.New("already known")
	// ErrNotFound is returned when a file or catalog entry does not exist.
	ErrNotFound = storage.ErrNotFound
	// ErrNoKnownPeers is returned when a search is attempted with an empty registry.
	ErrNoKnownPeers = errors.New("no known peers")
	// ErrPeerNotFound is returned when the owner of a discovered file left the network.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrSearchTimeout is returned when no search results arrive in time.
	ErrSearchTimeout = errors.New("search timed out")
	// ErrTransport wraps any I/O fault on a connection.
	ErrTransport = errors.New("transport failure")
)

// TransportError wraps err so that errors.Is matches both ErrTransport and err.
func TransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}
