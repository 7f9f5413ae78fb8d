package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/ZakariaDjebbes/JP2P/internal/network"
	"github.com/ZakariaDjebbes/JP2P/internal/storage"
)

// handleConnection serves requests from one peer, in order, until the
// stream ends or the peer breaks the protocol.
func (n *Node) handleConnection(conn net.Conn) {
	log := n.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("connection accepted")

	for {
		req, err := network.ReceiveRequest(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				log.Debug("connection closed by peer")
			case errors.Is(err, network.ErrProtocolFormat):
				log.Warn("dropping connection", zap.Error(err))
			default:
				log.Debug("connection failed", zap.Error(err))
			}
			return
		}

		if err := n.dispatch(conn, req); err != nil {
			log.Warn("request failed, dropping connection",
				zap.String("command", req.Command),
				zap.Error(err))
			return
		}
	}
}

// dispatch runs the handler of one request. Unknown commands are ignored so
// newer peers can talk to us.
func (n *Node) dispatch(conn net.Conn, req network.Request) error {
	cmd, known, err := network.ParseCommand(req)
	if err != nil {
		return err
	}
	if !known {
		n.logger.Debug("ignoring unknown command", zap.String("command", req.Command))
		return nil
	}

	switch c := cmd.(type) {
	case network.NameCommand:
		return n.reply(conn, n.cfg.Name)
	case network.KnownPeersCommand:
		return n.reply(conn, n.describeKnownPeers())
	case network.ItsMeCommand:
		return n.reply(conn, n.handleItsMe(c))
	case network.ByeCommand:
		return n.reply(conn, n.handleBye(c))
	case network.FileCommand:
		n.handleFindFile(c)
		return nil
	case network.VoilaCommand:
		n.handleVoila(c)
		return nil
	case network.DownloadCommand:
		return n.serveDownload(conn, c)
	}
	return nil
}

func (n *Node) reply(conn net.Conn, reply string) error {
	if err := network.SendReply(conn, reply); err != nil {
		return network.TransportError("failed to send reply", err)
	}
	return nil
}

func (n *Node) describeKnownPeers() string {
	peers := n.registry.List()
	if len(peers) == 0 {
		return "I have no known peers"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I know %d peers :\n", len(peers))
	b.WriteString("Name \tAddress \tPort \n")
	for _, p := range peers {
		fmt.Fprintf(&b, "%s \t%s \t%d\n", p.Name, p.Address, p.Port)
	}
	return b.String()
}

func (n *Node) handleItsMe(c network.ItsMeCommand) string {
	added, err := n.registry.Add(c.Peer)
	switch {
	case errors.Is(err, network.ErrCapacity):
		n.logger.Info("peer rejected, registry full", zap.String("peer", c.Peer.Name))
		return network.ReplyCapacity
	case !added:
		return network.ReplyDuplicate
	}

	n.logger.Info("peer added",
		zap.String("peer", c.Peer.Name),
		zap.String("addr", c.Peer.HostPort()))
	return network.ReplyAdded
}

func (n *Node) handleBye(c network.ByeCommand) string {
	if !n.registry.Remove(c.PeerName) {
		return network.ReplyUnknown
	}
	n.logger.Info("peer left", zap.String("peer", c.PeerName))
	return network.ReplyRemoved
}

// handleFindFile answers a flooded search: a match goes straight back to the
// requester as a voila, anything else travels one bounce further.
func (n *Node) handleFindFile(c network.FileCommand) {
	log := n.logger.With(zap.String("file", c.FileName), zap.Int("bounces", c.Bounces))
	if c.Bounces <= 0 {
		log.Debug("search exhausted")
		return
	}

	matches, err := n.findShared(c.FileName)
	if err != nil {
		log.Warn("failed to list shared files", zap.Error(err))
	}

	if len(matches) > 0 {
		voila := network.VoilaCommand{PeerName: n.cfg.Name, Files: matches}
		if err := n.notify(c.ReplyAddress, c.ReplyPort, voila); err != nil {
			log.Warn("failed to send search result",
				zap.String("replyTo", c.ReplyAddress),
				zap.Int("replyPort", c.ReplyPort),
				zap.Error(err))
			return
		}
		log.Info("search hit, result sent", zap.String("replyTo", c.ReplyAddress))
		return
	}

	next := c
	next.Bounces--
	sent, err := n.flood(next)
	if err != nil && !errors.Is(err, network.ErrNoKnownPeers) {
		log.Debug("search forwarding failed", zap.Error(err))
	}
	log.Debug("search forwarded", zap.Int("peers", sent))
}

// findShared returns the shared files whose name is exactly fileName.
func (n *Node) findShared(fileName string) ([]network.FileInfo, error) {
	files, err := n.shared.ListFiles()
	if err != nil {
		return nil, err
	}

	var matches []network.FileInfo
	for _, f := range files {
		if f.Name == fileName {
			matches = append(matches, network.FileInfo{Name: f.Name, Size: f.Size})
		}
	}
	return matches, nil
}

// handleVoila records search results. A flood that looped back here can
// list this node's own files; those are skipped.
func (n *Node) handleVoila(c network.VoilaCommand) {
	if c.PeerName == n.cfg.Name {
		n.logger.Debug("ignoring search results from self", zap.Int("files", len(c.Files)))
		return
	}

	added := 0
	for _, f := range c.Files {
		if n.catalog.Add(c.PeerName, f.Name, f.Size) {
			added++
		}
	}
	n.logger.Info("search results received",
		zap.String("peer", c.PeerName),
		zap.Int("files", len(c.Files)),
		zap.Int("new", added))
}

// serveDownload streams a shared file from the requested offset. A missing
// file is answered with a length of -1 and the connection stays usable.
func (n *Node) serveDownload(conn net.Conn, c network.DownloadCommand) error {
	log := n.logger.With(zap.String("file", c.FileName), zap.Int64("skip", c.SkipBytes))

	file, length, err := n.shared.OpenRead(c.FileName, c.SkipBytes)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
			log.Info("requested file not shared")
			if err := network.WriteLength(conn, -1); err != nil {
				return network.TransportError("failed to send length", err)
			}
			return nil
		}
		return fmt.Errorf("failed to open shared file: %w", err)
	}
	defer file.Close()

	if err := network.WriteLength(conn, length); err != nil {
		return network.TransportError("failed to send length", err)
	}

	buf := make([]byte, chunkSize)
	var sent int64
	for {
		nr, rerr := file.Read(buf)
		if nr > 0 {
			if _, err := conn.Write(buf[:nr]); err != nil {
				return network.TransportError("failed to send chunk", err)
			}
			sent += int64(nr)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("failed to read shared file: %w", rerr)
		}
	}

	log.Info("file sent", zap.Int64("length", length), zap.Int64("sent", sent))
	return nil
}
