package network

import (
	"fmt"
	"strconv"
	"strings"
)

// Command names as they appear on the wire.
const (
	CmdName       = "name"
	CmdKnownPeers = "known peers"
	CmdItsMe      = "it's me"
	CmdBye        = "bye"
	CmdFile       = "file"
	CmdVoila      = "voila"
	CmdDownload   = "download"
)

// Replies to "it's me" and "bye".
const (
	ReplyAdded     = "added"
	ReplyDuplicate = "duplicate"
	ReplyCapacity  = "capacity-exceeded"
	ReplyRemoved   = "removed"
	ReplyUnknown   = "unknown"
)

// Command is one of the typed protocol commands below.
type Command interface {
	Name() string
	Request() Request
}

type NameCommand struct{}

type KnownPeersCommand struct{}

// ItsMeCommand introduces the sending peer.
type ItsMeCommand struct {
	Peer Peer
}

// ByeCommand announces that the named peer is leaving.
type ByeCommand struct {
	PeerName string
}

// FileCommand is a flooded search request.
type FileCommand struct {
	FileName     string
	Bounces      int
	ReplyPort    int
	ReplyAddress string
}

// FileInfo is a file name with its size in bytes.
type FileInfo struct {
	Name string
	Size int64
}

// VoilaCommand carries search results back to the requester.
type VoilaCommand struct {
	PeerName string
	Files    []FileInfo
}

// DownloadCommand asks for a file starting at byte SkipBytes.
type DownloadCommand struct {
	FileName  string
	SkipBytes int64
}

func (NameCommand) Name() string       { return CmdName }
func (KnownPeersCommand) Name() string { return CmdKnownPeers }
func (ItsMeCommand) Name() string      { return CmdItsMe }
func (ByeCommand) Name() string        { return CmdBye }
func (FileCommand) Name() string       { return CmdFile }
func (VoilaCommand) Name() string      { return CmdVoila }
func (DownloadCommand) Name() string   { return CmdDownload }

func (NameCommand) Request() Request       { return NewQuery(CmdName) }
func (KnownPeersCommand) Request() Request { return NewQuery(CmdKnownPeers) }

func (c ItsMeCommand) Request() Request {
	return NewQuery(CmdItsMe, c.Peer.Name, c.Peer.Address, strconv.Itoa(c.Peer.Port))
}

func (c ByeCommand) Request() Request {
	return NewQuery(CmdBye, c.PeerName)
}

func (c FileCommand) Request() Request {
	return NewNotify(CmdFile, c.FileName, strconv.Itoa(c.Bounces), strconv.Itoa(c.ReplyPort), c.ReplyAddress)
}

func (c VoilaCommand) Request() Request {
	args := make([]string, 0, 2+2*len(c.Files))
	args = append(args, c.PeerName, strconv.Itoa(len(c.Files)))
	for _, f := range c.Files {
		args = append(args, f.Name, strconv.FormatInt(f.Size, 10))
	}
	return NewNotify(CmdVoila, args...)
}

func (c DownloadCommand) Request() Request {
	return NewQuery(CmdDownload, c.FileName, strconv.FormatInt(c.SkipBytes, 10))
}

type commandParser func(args []string) (Command, error)

var commandParsers = map[string]commandParser{
	CmdName:       parseName,
	CmdKnownPeers: parseKnownPeers,
	CmdItsMe:      parseItsMe,
	CmdBye:        parseBye,
	CmdFile:       parseFile,
	CmdVoila:      parseVoila,
	CmdDownload:   parseDownload,
}

// ParseCommand converts a request into its typed command. The boolean is
// false for command names this node does not know; those are not errors.
func ParseCommand(req Request) (Command, bool, error) {
	parse, ok := commandParsers[req.Command]
	if !ok {
		return nil, false, nil
	}

	cmd, err := parse(req.Args)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %s: %v", ErrProtocolFormat, req.Command, err)
	}
	return cmd, true, nil
}

// IsNameValid reports whether s can travel as a single argument.
func IsNameValid(s string) bool {
	return s != "" && !strings.ContainsAny(s, " \t\r\n")
}

func expectArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}

func parseName([]string) (Command, error) { return NameCommand{}, nil }

func parseKnownPeers([]string) (Command, error) { return KnownPeersCommand{}, nil }

func parseItsMe(args []string) (Command, error) {
	if err := expectArgs(args, 3); err != nil {
		return nil, err
	}
	port, err := parsePort(args[2])
	if err != nil {
		return nil, err
	}
	return ItsMeCommand{Peer: NewPeer(args[0], args[1], port)}, nil
}

func parseBye(args []string) (Command, error) {
	if err := expectArgs(args, 1); err != nil {
		return nil, err
	}
	return ByeCommand{PeerName: args[0]}, nil
}

func parseFile(args []string) (Command, error) {
	if err := expectArgs(args, 4); err != nil {
		return nil, err
	}
	bounces, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, fmt.Errorf("invalid bounces %q", args[1])
	}
	port, err := parsePort(args[2])
	if err != nil {
		return nil, err
	}
	return FileCommand{
		FileName:     args[0],
		Bounces:      bounces,
		ReplyPort:    port,
		ReplyAddress: args[3],
	}, nil
}

func parseVoila(args []string) (Command, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("expected at least 2 arguments, got %d", len(args))
	}
	count, err := strconv.Atoi(args[1])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("invalid file count %q", args[1])
	}
	if err := expectArgs(args[2:], 2*count); err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, count)
	for i := 2; i < len(args); i += 2 {
		size, err := strconv.ParseInt(args[i+1], 10, 64)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("invalid size %q for %s", args[i+1], args[i])
		}
		files = append(files, FileInfo{Name: args[i], Size: size})
	}
	return VoilaCommand{PeerName: args[0], Files: files}, nil
}

func parseDownload(args []string) (Command, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	skip, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || skip < 0 {
		return nil, fmt.Errorf("invalid skip bytes %q", args[1])
	}
	return DownloadCommand{FileName: args[0], SkipBytes: skip}, nil
}

// OutcomeError maps an "it's me" or "bye" reply to the matching sentinel.
// Successful outcomes map to nil and unrecognised replies to ErrProtocolFormat.
func OutcomeError(reply string) error {
	switch reply {
	case ReplyAdded, ReplyRemoved:
		return nil
	case ReplyDuplicate:
		return ErrDuplicate
	case ReplyCapacity:
		return ErrCapacity
	case ReplyUnknown:
		return ErrPeerNotFound
	default:
		return fmt.Errorf("%w: unexpected reply %q", ErrProtocolFormat, reply)
	}
}
