package peer

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/ZakariaDjebbes/JP2P/internal/network"
)

// query sends cmd on a fresh connection and returns the text reply.
func (n *Node) query(host string, port int, build func(conn net.Conn) network.Command) (string, error) {
	conn, err := n.dial(host, port)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	cmd := build(conn)
	if err := network.SendRequest(conn, cmd.Request()); err != nil {
		return "", network.TransportError("failed to send "+cmd.Name(), err)
	}

	reply, err := network.ReceiveReply(conn)
	if err != nil {
		return "", network.TransportError("failed to read "+cmd.Name()+" reply", err)
	}
	return reply, nil
}

// notify sends a fire-and-forget command on a fresh connection.
func (n *Node) notify(host string, port int, cmd network.Command) error {
	conn, err := n.dial(host, port)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := network.SendRequest(conn, cmd.Request()); err != nil {
		return network.TransportError("failed to send "+cmd.Name(), err)
	}
	return nil
}

func staticCommand(cmd network.Command) func(net.Conn) network.Command {
	return func(net.Conn) network.Command { return cmd }
}

// SendGetName asks the peer at host:port for its name.
func (n *Node) SendGetName(host string, port int) (string, error) {
	return n.query(host, port, staticCommand(network.NameCommand{}))
}

// SendGetKnownPeers asks the peer at host:port for its peer listing.
func (n *Node) SendGetKnownPeers(host string, port int) (string, error) {
	return n.query(host, port, staticCommand(network.KnownPeersCommand{}))
}

// SendItsMe asks the peer at host:port to register this node. The reply is
// one of network.ReplyAdded, ReplyDuplicate or ReplyCapacity.
func (n *Node) SendItsMe(host string, port int) (string, error) {
	return n.query(host, port, func(conn net.Conn) network.Command {
		self := network.NewPeer(n.cfg.Name, n.advertiseAddress(conn), n.Port())
		return network.ItsMeCommand{Peer: self}
	})
}

// SendBye tells the peer at host:port that this node is leaving. The reply
// is network.ReplyRemoved or ReplyUnknown.
func (n *Node) SendBye(host string, port int) (string, error) {
	return n.query(host, port, staticCommand(network.ByeCommand{PeerName: n.cfg.Name}))
}

// Disconnect says bye to the peer at host:port and forgets it locally. The
// peer is matched by the name it reports, so host may be any alias of the
// address it was registered under.
func (n *Node) Disconnect(host string, port int) (string, error) {
	name, err := n.SendGetName(host, port)
	if err != nil {
		return "", fmt.Errorf("failed to get peer name: %w", err)
	}

	reply, err := n.SendBye(host, port)
	if err != nil {
		return "", err
	}
	if n.registry.Remove(name) {
		n.logger.Info("peer forgotten", zap.String("peer", name))
	}
	return reply, nil
}

// Introduction is the outcome of Introduce on both sides. Remote and Local
// use the "it's me" reply vocabulary.
type Introduction struct {
	Peer   network.Peer
	Remote string
	Local  string
}

// Introduce registers this node with the peer at host:port and that peer
// with this node.
func (n *Node) Introduce(host string, port int) (Introduction, error) {
	name, err := n.SendGetName(host, port)
	if err != nil {
		return Introduction{}, fmt.Errorf("failed to get peer name: %w", err)
	}
	if name == n.cfg.Name {
		return Introduction{}, fmt.Errorf("%s:%d is this node", host, port)
	}
	if !network.IsNameValid(name) {
		return Introduction{}, fmt.Errorf("%w: invalid peer name %q", network.ErrProtocolFormat, name)
	}

	remote, err := n.SendItsMe(host, port)
	if err != nil {
		return Introduction{}, fmt.Errorf("failed to introduce to %s: %w", name, err)
	}

	intro := Introduction{
		Peer:   network.NewPeer(name, host, port),
		Remote: remote,
	}
	added, err := n.registry.Add(intro.Peer)
	switch {
	case errors.Is(err, network.ErrCapacity):
		intro.Local = network.ReplyCapacity
	case !added:
		intro.Local = network.ReplyDuplicate
	default:
		intro.Local = network.ReplyAdded
	}

	n.logger.Info("introduced",
		zap.String("peer", name),
		zap.String("remote", intro.Remote),
		zap.String("local", intro.Local))
	return intro, nil
}

// Leave says bye to every known peer and returns how many acknowledged it.
func (n *Node) Leave() int {
	acked := 0
	for _, p := range n.registry.List() {
		reply, err := n.SendBye(p.Address, p.Port)
		if err != nil {
			n.logger.Debug("bye failed", zap.String("peer", p.Name), zap.Error(err))
			continue
		}
		acked++
		n.logger.Debug("bye sent", zap.String("peer", p.Name), zap.String("reply", reply))
	}
	return acked
}

// SendFindFile starts a flooded search for fileName. It returns once the
// request reached the directly known peers; results arrive later as voila
// messages and show up in the catalog.
func (n *Node) SendFindFile(fileName string, bounces int) (int, error) {
	if !network.IsNameValid(fileName) {
		return 0, fmt.Errorf("%w: invalid file name %q", network.ErrProtocolFormat, fileName)
	}
	if bounces < 0 {
		return 0, fmt.Errorf("%w: negative bounces %d", network.ErrProtocolFormat, bounces)
	}

	return n.flood(network.FileCommand{
		FileName: fileName,
		Bounces:  bounces,
	})
}

// flood sends the search to every known peer. An empty ReplyAddress is
// filled in per connection with this node's own address and port.
func (n *Node) flood(cmd network.FileCommand) (int, error) {
	peers := n.registry.List()
	if len(peers) == 0 {
		return 0, network.ErrNoKnownPeers
	}

	var errs []error
	sent := 0
	for _, p := range peers {
		if err := n.sendFind(p, cmd); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		sent++
	}

	if sent == 0 {
		return 0, fmt.Errorf("search reached no peer: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		n.logger.Debug("search not delivered", zap.Error(err))
	}
	return sent, nil
}

func (n *Node) sendFind(p network.Peer, cmd network.FileCommand) error {
	conn, err := n.dial(p.Address, p.Port)
	if err != nil {
		return err
	}
	defer conn.Close()

	if cmd.ReplyAddress == "" {
		cmd.ReplyAddress = n.advertiseAddress(conn)
		cmd.ReplyPort = n.Port()
	}
	if err := network.SendRequest(conn, cmd.Request()); err != nil {
		return network.TransportError("failed to send file", err)
	}
	return nil
}

// AwaitResults blocks until the catalog holds more than since entries or the
// configured search timeout elapses, in which case it returns
// network.ErrSearchTimeout. It returns the number of new entries.
func (n *Node) AwaitResults(ctx context.Context, since int) (int, error) {
	if n.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.SearchTimeout)
		defer cancel()
	}

	for {
		changed := n.catalog.Changed()
		if count := n.catalog.Len(); count > since {
			return count - since, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, network.ErrSearchTimeout
			}
			return 0, ctx.Err()
		}
	}
}
