package wire

import (
	"encoding/json"
	"fmt"

	"github.com/collab-daemon/collabd/internal/fsreg"
)

// RemoteMsg is the tagged union of everything a peer can send. Exactly one
// of the payload fields is meaningful, selected by Type.
type RemoteMsg struct {
	Type string `json:"type"`

	FsDiff      *FsDiffWire `json:"fs_diff,omitempty"`
	BufferPath  fsreg.RelPath `json:"buffer_path,omitempty"`
	BufferDiff  *BufferDiff `json:"buffer_diff,omitempty"`
	Addr        string      `json:"addr,omitempty"`
}

const (
	RemoteTypeFsDiff          = "FsDiff"
	RemoteTypeBufferDiff      = "BufferDiff"
	RemoteTypeAddPeer         = "AddPeer"
	RemoteTypeStartup         = "Startup"
	RemoteTypeLocalDisconnect = "LocalDisconnect"
)

func RemoteFsDiff(d fsreg.Diff) RemoteMsg {
	w := ToWire(d)
	return RemoteMsg{Type: RemoteTypeFsDiff, FsDiff: &w}
}

func RemoteBufferDiff(path fsreg.RelPath, bd BufferDiff) RemoteMsg {
	return RemoteMsg{Type: RemoteTypeBufferDiff, BufferPath: path, BufferDiff: &bd}
}

func RemoteAddPeer(addr string) RemoteMsg {
	return RemoteMsg{Type: RemoteTypeAddPeer, Addr: addr}
}

func RemoteStartup(addr string) RemoteMsg {
	return RemoteMsg{Type: RemoteTypeStartup, Addr: addr}
}

// RemoteLocalDisconnect is the writer-termination sentinel. It is pushed
// onto a peer's outbound channel but never actually transmitted over the
// wire — the writer goroutine checks for it and returns before encoding
// anything.
var RemoteLocalDisconnect = RemoteMsg{Type: RemoteTypeLocalDisconnect}

// EncodeRemoteMsg serializes msg to a single JSON document (no trailing
// delimiter — the transport layer appends the '\0' frame terminator).
func EncodeRemoteMsg(msg RemoteMsg) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeRemoteMsg parses a single JSON-encoded RemoteMsg frame.
func DecodeRemoteMsg(data []byte) (RemoteMsg, error) {
	var msg RemoteMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return RemoteMsg{}, Wrap(KindDecode, "decode RemoteMsg", err)
	}
	switch msg.Type {
	case RemoteTypeFsDiff, RemoteTypeBufferDiff, RemoteTypeAddPeer, RemoteTypeStartup, RemoteTypeLocalDisconnect:
		return msg, nil
	default:
		return RemoteMsg{}, Wrap(KindDecode, "decode RemoteMsg", fmt.Errorf("unknown type %q", msg.Type))
	}
}

// Diff extracts the fsreg.Diff from an FsDiff-typed message.
func (m RemoteMsg) Diff() (fsreg.Diff, error) {
	if m.Type != RemoteTypeFsDiff || m.FsDiff == nil {
		return fsreg.Diff{}, Wrap(KindDecode, "RemoteMsg.Diff", fmt.Errorf("not an FsDiff message"))
	}
	d, err := m.FsDiff.FromWire()
	if err != nil {
		return fsreg.Diff{}, Wrap(KindDecode, "RemoteMsg.Diff", err)
	}
	return d, nil
}
