package network

import (
	"errors"
	"reflect"
	"testing"
)

func parse(t *testing.T, line string) (Command, bool, error) {
	t.Helper()
	req, err := ParseRequest(line)
	if err != nil {
		t.Fatalf("ParseRequest(%q) failed: %v", line, err)
	}
	return ParseCommand(req)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"name?", NameCommand{}},
		{"known peers?", KnownPeersCommand{}},
		{"it's me? alice 10.0.0.2 9000", ItsMeCommand{Peer: NewPeer("alice", "10.0.0.2", 9000)}},
		{"bye? alice", ByeCommand{PeerName: "alice"}},
		{"file! report.pdf 3 8080 10.0.0.1", FileCommand{FileName: "report.pdf", Bounces: 3, ReplyPort: 8080, ReplyAddress: "10.0.0.1"}},
		{"voila! bob 2 a.txt 10 b.txt 0", VoilaCommand{PeerName: "bob", Files: []FileInfo{{"a.txt", 10}, {"b.txt", 0}}}},
		{"download? report.pdf 400", DownloadCommand{FileName: "report.pdf", SkipBytes: 400}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			cmd, known, err := parse(t, tt.line)
			if err != nil || !known {
				t.Fatalf("ParseCommand(%q) = %v, %v", tt.line, known, err)
			}
			if !reflect.DeepEqual(cmd, tt.want) {
				t.Fatalf("ParseCommand(%q) = %#v, want %#v", tt.line, cmd, tt.want)
			}
			if got := cmd.Request().String(); got != tt.line {
				t.Fatalf("re-encoded as %q, want %q", got, tt.line)
			}
		})
	}
}

func TestParseCommandUnknown(t *testing.T) {
	cmd, known, err := parse(t, "hello? there")
	if cmd != nil || known || err != nil {
		t.Fatalf("ParseCommand(unknown) = %v, %v, %v; want nil, false, nil", cmd, known, err)
	}
}

func TestParseCommandBadArguments(t *testing.T) {
	lines := []string{
		"it's me? alice 10.0.0.2",
		"it's me? alice 10.0.0.2 port",
		"it's me? alice 10.0.0.2 70000",
		"bye?",
		"file! report.pdf many 8080 10.0.0.1",
		"file! report.pdf 3 8080",
		"voila! bob",
		"voila! bob 2 a.txt 10",
		"voila! bob 1 a.txt -5",
		"voila! bob -1",
		"download? report.pdf",
		"download? report.pdf -1",
	}
	for _, line := range lines {
		_, known, err := parse(t, line)
		if !known {
			t.Errorf("%q: command not recognised", line)
		}
		if !errors.Is(err, ErrProtocolFormat) {
			t.Errorf("%q: error = %v, want ErrProtocolFormat", line, err)
		}
	}
}

func TestVoilaWithoutFiles(t *testing.T) {
	cmd, _, err := parse(t, "voila! bob 0")
	if err != nil {
		t.Fatal(err)
	}
	v := cmd.(VoilaCommand)
	if v.PeerName != "bob" || len(v.Files) != 0 {
		t.Fatalf("got %+v", v)
	}
}

func TestOutcomeError(t *testing.T) {
	tests := []struct {
		reply string
		want  error
	}{
		{ReplyAdded, nil},
		{ReplyRemoved, nil},
		{ReplyDuplicate, ErrDuplicate},
		{ReplyCapacity, ErrCapacity},
		{ReplyUnknown, ErrPeerNotFound},
		{"maybe", ErrProtocolFormat},
	}
	for _, tt := range tests {
		err := OutcomeError(tt.reply)
		if tt.want == nil {
			if err != nil {
				t.Errorf("OutcomeError(%q) = %v, want nil", tt.reply, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("OutcomeError(%q) = %v, want %v", tt.reply, err, tt.want)
		}
	}
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	err := TransportError("failed to connect", cause)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, cause) {
		t.Fatalf("TransportError does not wrap both ErrTransport and the cause: %v", err)
	}
}
