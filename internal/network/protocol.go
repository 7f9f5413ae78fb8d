package network

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// MaxFrameSize bounds a single text frame.
const MaxFrameSize = 1 << 20

// Kind tells whether the sender of a request waits for a reply.
type Kind byte

const (
	Query  Kind = '?'
	Notify Kind = '!'
)

// Request is one decoded request line: a command name, its terminator and
// the space separated arguments that follow it.
type Request struct {
	Command string
	Kind    Kind
	Args    []string
}

// NewQuery builds a request that expects a reply.
func NewQuery(command string, args ...string) Request {
	return Request{Command: command, Kind: Query, Args: args}
}

// NewNotify builds a fire-and-forget request.
func NewNotify(command string, args ...string) Request {
	return Request{Command: command, Kind: Notify, Args: args}
}

// String encodes the request as "<command><terminator> <arg1> ... <argN>".
func (r Request) String() string {
	var b strings.Builder
	b.WriteString(r.Command)
	b.WriteByte(byte(r.Kind))
	for _, arg := range r.Args {
		b.WriteByte(' ')
		b.WriteString(arg)
	}
	return b.String()
}

// ParseRequest splits a request line at the first '?' or '!' terminator.
func ParseRequest(line string) (Request, error) {
	idx := strings.IndexAny(line, "?!")
	if idx < 0 {
		return Request{}, fmt.Errorf("%w: missing '?' or '!' terminator in %q", ErrProtocolFormat, line)
	}

	command := strings.TrimSpace(line[:idx])
	if command == "" {
		return Request{}, fmt.Errorf("%w: empty command name in %q", ErrProtocolFormat, line)
	}

	return Request{
		Command: command,
		Kind:    Kind(line[idx]),
		Args:    strings.Fields(line[idx+1:]),
	}, nil
}

// WriteFrame writes a 4-byte big-endian length followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrProtocolFormat, len(payload))
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame written by WriteFrame. A clean end of stream
// before the header is reported as io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header)
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrProtocolFormat, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// SendRequest writes req as a single text frame.
func SendRequest(w io.Writer, req Request) error {
	return WriteFrame(w, []byte(req.String()))
}

// ReceiveRequest reads and parses one request frame.
func ReceiveRequest(r io.Reader) (Request, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return Request{}, err
	}
	return ParseRequest(string(payload))
}

// SendReply writes a text reply frame.
func SendReply(w io.Writer, reply string) error {
	return WriteFrame(w, []byte(reply))
}

// ReceiveReply reads a text reply frame.
func ReceiveReply(r io.Reader) (string, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// WriteLength writes the 8-byte big-endian length header of a file payload.
func WriteLength(w io.Writer, length int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(length))
	_, err := w.Write(buf)
	return err
}

// ReadLength reads the header written by WriteLength.
func ReadLength(r io.Reader) (int64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}
