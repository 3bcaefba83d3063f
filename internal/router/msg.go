// Package router is the single-consumer event-routing engine: the sole
// owner of the file registry, the peer table, and the attached-client
// table. It reads one inbound queue fed by the FS watcher, the peer
// transport, and the IPC transport, and drives every downstream fan-out
// from that one vantage point.
package router

import "github.com/collab-daemon/collabd/internal/wire"

// Body is the payload half of an inbound Msg: either a peer-wire message
// or a local IPC client message.
type Body struct {
	Remote    *wire.RemoteMsg
	IpcClient *wire.IpcClientMsg
}

func RemoteBody(m wire.RemoteMsg) Body       { return Body{Remote: &m} }
func IpcClientBody(m wire.IpcClientMsg) Body { return Body{IpcClient: &m} }

// SourceKind discriminates where a Msg originated.
type SourceKind int

const (
	SourceFs SourceKind = iota
	SourcePeer
	SourceIpcClient
)

func (k SourceKind) String() string {
	switch k {
	case SourceFs:
		return "fs"
	case SourcePeer:
		return "peer"
	case SourceIpcClient:
		return "ipc_client"
	default:
		return "unknown"
	}
}

// Source identifies the producer of a Msg. Addr is the peer's observed
// remote address for SourcePeer, or the IPC client's connection address
// for SourceIpcClient; it is empty for SourceFs.
type Source struct {
	Kind SourceKind
	Addr string
}

func FsSource() Source                { return Source{Kind: SourceFs} }
func PeerSource(addr string) Source   { return Source{Kind: SourcePeer, Addr: addr} }
func IpcSource(addr string) Source    { return Source{Kind: SourceIpcClient, Addr: addr} }

// Msg is the single envelope type flowing through the router's inbound
// queue, labelled with where it came from so dispatch can apply the
// source-dependent rules from the dispatch table.
type Msg struct {
	Body   Body
	Source Source
}
