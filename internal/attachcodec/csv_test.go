package attachcodec

import (
	"testing"

	"github.com/collab-daemon/collabd/internal/wire"
)

func TestCSVRoundTripPlain(t *testing.T) {
	bd := wire.BufferDiff{Pos: 12, OldLen: 3, NewStr: "hello world"}
	line := encodeCSV(bd)
	if line != "12,3,hello world" {
		t.Fatalf("unexpected encoding: %q", line)
	}
	got, err := decodeCSV(line)
	if err != nil {
		t.Fatal(err)
	}
	if got != bd {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, bd)
	}
}

func TestCSVRoundTripNeedsQuoting(t *testing.T) {
	cases := []string{
		`a,b`,
		`say "hi"`,
		"line\nbreak",
		`back\slash`,
		``,
	}
	for _, s := range cases {
		bd := wire.BufferDiff{Pos: 0, OldLen: 0, NewStr: s}
		line := encodeCSV(bd)
		got, err := decodeCSV(line)
		if err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if got.NewStr != s {
			t.Fatalf("round trip mismatch for %q: encoded as %q, decoded as %q", s, line, got.NewStr)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	bd := wire.BufferDiff{Pos: 5, OldLen: 2, NewStr: `quote " and comma ,`}
	line, err := Encode(ModeJSON, bd)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(ModeJSON, line)
	if err != nil {
		t.Fatal(err)
	}
	if got != bd {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, bd)
	}
}
