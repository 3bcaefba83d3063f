// Package wire defines the serialization schema for every message that
// crosses a peer or IPC connection: RemoteMsg, IpcClientMsg,
// IpcClientResponse, their FsDiff/BufferDiff payloads, and the small
// info/peer structs embedded in them.
//
// Each union type carries an explicit "type" discriminator field, encoded
// and decoded with plain encoding/json the way a tagged WebSocket envelope
// would be — no schema or codegen library is reached for here.
package wire

import (
	"fmt"

	"github.com/collab-daemon/collabd/internal/fsreg"
)

// BufferDiff is an in-buffer text splice: replace OldLen bytes starting at
// byte offset Pos with NewStr. The router never interprets these, only
// routes them by path.
type BufferDiff struct {
	Pos    uint32 `json:"pos"`
	OldLen uint32 `json:"old_len"`
	NewStr string `json:"new_str"`
}

// FsDiffWire is the wire encoding of fsreg.Diff.
type FsDiffWire struct {
	Op   string         `json:"op"`
	Path fsreg.RelPath  `json:"path,omitempty"`
	To   fsreg.RelPath  `json:"to,omitempty"`
	Data []byte         `json:"data,omitempty"` // json handles []byte as base64
	Perm fsreg.FilePerm `json:"perm,omitempty"`
}

// ToWire converts an in-memory Diff to its wire form.
func ToWire(d fsreg.Diff) FsDiffWire {
	return FsDiffWire{
		Op:   d.Op.String(),
		Path: d.Path,
		To:   d.To,
		Data: d.Data,
		Perm: d.Perm,
	}
}

// FromWire converts a decoded wire diff back into fsreg.Diff.
func (w FsDiffWire) FromWire() (fsreg.Diff, error) {
	switch w.Op {
	case "Write":
		return fsreg.WriteDiff(w.Path, w.Data), nil
	case "NewDir":
		return fsreg.NewDirDiff(w.Path), nil
	case "Del":
		return fsreg.DelDiff(w.Path), nil
	case "Move":
		return fsreg.MoveDiff(w.Path, w.To), nil
	case "Chmod":
		return fsreg.ChmodDiff(w.Path, w.Perm), nil
	default:
		return fsreg.Diff{}, Wrap(KindDecode, "FsDiffWire.FromWire", fmt.Errorf("unknown op %q", w.Op))
	}
}

// PeerInfo is the handful of facts about a peer published to other peers
// and to IPC clients via InfoRequest.
type PeerInfo struct {
	AdvertisedAddr string `json:"advertised_addr"`
}

// AttachedIpcClientInfo identifies one attached editor for IPC InfoRequest
// responses.
type AttachedIpcClientInfo struct {
	Path fsreg.RelPath `json:"path"`
	Addr string        `json:"addr"`
	Desc string        `json:"desc"`
}

// IpcClientInfo is the daemon's answer to InfoRequest.
type IpcClientInfo struct {
	Addr            string                  `json:"addr"`
	Peers           []PeerInfo              `json:"peers"`
	AttachedClients []AttachedIpcClientInfo `json:"attached_clients"`
}
