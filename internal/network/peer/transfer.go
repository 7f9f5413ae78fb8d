package peer

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ZakariaDjebbes/JP2P/internal/network"
	"github.com/ZakariaDjebbes/JP2P/internal/storage"
)

// ProgressFunc is called after every chunk written to disk with the bytes
// downloaded so far and the total length reported by the serving peer.
type ProgressFunc func(downloaded, total int64)

// SendDownload downloads the catalog entry at index into the downloads
// folder. An interrupted transfer keeps its progress and resumes from there
// on the next call; a completed one starts over. It returns the number of
// bytes of the file present locally when the attempt ends.
func (n *Node) SendDownload(index int, progress ProgressFunc) (int64, error) {
	entry, err := n.catalog.Get(index)
	if err != nil {
		return 0, err
	}

	owner, ok := n.registry.Lookup(entry.PeerName)
	if !ok {
		return entry.DownloadedBytes, fmt.Errorf("%w: %s", network.ErrPeerNotFound, entry.PeerName)
	}

	conn, err := n.dial(owner.Address, owner.Port)
	if err != nil {
		return entry.DownloadedBytes, err
	}
	defer conn.Close()

	entry, err = n.catalog.BeginDownload(index)
	if err != nil {
		return 0, err
	}
	if entry.DownloadedBytes > 0 && !n.hasPartial(entry) {
		n.logger.Info("partial file changed on disk, restarting download",
			zap.String("file", entry.FileName),
			zap.String("peer", owner.Name),
			zap.Int64("expected", entry.DownloadedBytes))
		if entry, err = n.catalog.RestartDownload(index); err != nil {
			return 0, err
		}
	}
	log := n.logger.With(
		zap.String("file", entry.FileName),
		zap.String("peer", owner.Name),
		zap.Int64("offset", entry.DownloadedBytes))

	req := network.DownloadCommand{FileName: entry.FileName, SkipBytes: entry.DownloadedBytes}
	if err := network.SendRequest(conn, req.Request()); err != nil {
		return entry.DownloadedBytes, network.TransportError("failed to send download", err)
	}

	length, err := network.ReadLength(conn)
	if err != nil {
		return entry.DownloadedBytes, network.TransportError("failed to read file length", err)
	}
	if length < 0 {
		return entry.DownloadedBytes, fmt.Errorf("%w: %s is no longer shared by %s", network.ErrNotFound, entry.FileName, owner.Name)
	}

	out, err := n.downloads.OpenWrite(entry.FileName, entry.DownloadedBytes > 0)
	if err != nil {
		return entry.DownloadedBytes, fmt.Errorf("failed to open download file: %w", err)
	}
	defer out.Close()

	downloaded, transferErr := n.receive(conn, out, index, entry.DownloadedBytes, length, progress)

	if n.catalog.FinishDownload(index, length) {
		log.Info("download complete", zap.Int64("length", length))
		return downloaded, nil
	}

	if transferErr == nil {
		transferErr = fmt.Errorf("download stopped at %d of %d bytes", downloaded, length)
	}
	log.Warn("download interrupted",
		zap.Int64("downloaded", downloaded),
		zap.Int64("length", length),
		zap.Error(transferErr))
	return downloaded, transferErr
}

// hasPartial reports whether the downloads folder still holds exactly the
// bytes recorded for entry. Another entry with the same file name, or the
// user, may have replaced them.
func (n *Node) hasPartial(entry storage.DiscoveredFile) bool {
	local, err := n.downloads.Stat(entry.FileName)
	return err == nil && local.Size == entry.DownloadedBytes
}

// receive copies the payload into out chunk by chunk. Only bytes that made
// it to out are counted, so the catalog offset always matches the file.
func (n *Node) receive(conn io.Reader, out io.Writer, index int, downloaded, length int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, chunkSize)
	for downloaded < length {
		want := min(int64(len(buf)), length-downloaded)
		nr, rerr := conn.Read(buf[:want])
		if nr > 0 {
			nw, werr := out.Write(buf[:nr])
			if nw > 0 {
				downloaded = n.catalog.AddProgress(index, int64(nw))
				if progress != nil {
					progress(downloaded, length)
				}
			}
			if werr != nil {
				return downloaded, fmt.Errorf("failed to write download file: %w", werr)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				rerr = io.ErrUnexpectedEOF
			}
			return downloaded, network.TransportError("failed to receive chunk", rerr)
		}
	}
	return downloaded, nil
}
