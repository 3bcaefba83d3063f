package router

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/collab-daemon/collabd/internal/fsreg"
	"github.com/collab-daemon/collabd/internal/ignore"
	"github.com/collab-daemon/collabd/internal/ipctransport"
	"github.com/collab-daemon/collabd/internal/peertransport"
	"github.com/collab-daemon/collabd/internal/wire"
)

// testRouter wires a Router over real loopback transports and an
// in-test-controlled fsEvents channel, and starts it running.
type testRouter struct {
	r          *Router
	fsEvents   chan fsreg.Diff
	peerAddr   string
	ipcAddr    string
	cancel     context.CancelFunc
}

func newTestRouter(t *testing.T, root string) *testRouter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	fsEvents := make(chan fsreg.Diff, 16)
	peerTr := peertransport.New()
	ipcTr := ipctransport.New()

	peerAddr, err := peerTr.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ipcAddr, err := ipcTr.Listen(ctx)
	if err != nil {
		t.Fatal(err)
	}

	r := New(root, peerAddr.String(), "", ignore.New(), peerTr, ipcTr, fsEvents)
	go r.Run(ctx)

	return &testRouter{r: r, fsEvents: fsEvents, peerAddr: peerAddr.String(), ipcAddr: ipcAddr.String(), cancel: cancel}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition never became true")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestFsDiffEchoSuppression(t *testing.T) {
	root := t.TempDir()
	tr := newTestRouter(t, root)
	defer tr.cancel()

	observer := peertransport.New()
	if err := observer.AddPeer(context.Background(), tr.peerAddr, ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(tr.r.peerTransport.Peers()) == 1 })

	d := fsreg.WriteDiff("a.txt", []byte("hello"))
	tr.fsEvents <- d

	select {
	case in := <-observer.Inbound():
		if in.Msg.Type != wire.RemoteTypeFsDiff {
			t.Fatalf("expected FsDiff broadcast, got %+v", in.Msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast of first FsDiff")
	}

	// Re-observing the identical write must not change the registry, so
	// it must not be broadcast a second time.
	tr.fsEvents <- d
	select {
	case in := <-observer.Inbound():
		t.Fatalf("unexpected second broadcast: %+v", in.Msg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRemotePeerFsDiffWritesToDisk(t *testing.T) {
	root := t.TempDir()
	tr := newTestRouter(t, root)
	defer tr.cancel()

	peer := peertransport.New()
	if err := peer.AddPeer(context.Background(), tr.peerAddr, ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(tr.r.peerTransport.Peers()) == 1 })

	// Send from the dialing peer's own transport, keyed by the address it
	// dialed, to simulate the router receiving a diff from that peer.
	if !peer.Send(tr.peerAddr, wire.RemoteFsDiff(fsreg.WriteDiff("b.txt", []byte("from peer")))) {
		t.Fatal("expected send to succeed")
	}

	waitFor(t, func() bool {
		data, err := os.ReadFile(filepath.Join(root, "b.txt"))
		return err == nil && string(data) == "from peer"
	})
}

// ipcTestClient is a minimal raw client for the IPC wire protocol, used
// directly (bypassing ipctransport.Client's session-file discovery, which
// these tests don't set up).
type ipcTestClient struct {
	conn net.Conn
	recv chan wire.IpcClientResponse
}

func dialIpc(t *testing.T, addr string) *ipcTestClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	c := &ipcTestClient{conn: conn, recv: make(chan wire.IpcClientResponse, 16)}
	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadBytes(0)
			if err != nil {
				close(c.recv)
				return
			}
			resp, err := wire.DecodeIpcClientResponse(bytes.TrimSuffix(line, []byte{0}))
			if err != nil {
				continue
			}
			c.recv <- resp
		}
	}()
	return c
}

func (c *ipcTestClient) send(t *testing.T, msg wire.IpcClientMsg) {
	t.Helper()
	data, err := wire.EncodeIpcClientMsg(msg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.conn.Write(append(data, 0)); err != nil {
		t.Fatal(err)
	}
}

func TestIpcBufferDiffFanoutAndPeerBroadcast(t *testing.T) {
	root := t.TempDir()
	tr := newTestRouter(t, root)
	defer tr.cancel()

	peer := peertransport.New()
	if err := peer.AddPeer(context.Background(), tr.peerAddr, ""); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(tr.r.peerTransport.Peers()) == 1 })

	c1 := dialIpc(t, tr.ipcAddr)
	c2 := dialIpc(t, tr.ipcAddr)

	c1.send(t, wire.IpcAttachRequest("shared.go", "editor-1"))
	c2.send(t, wire.IpcAttachRequest("shared.go", "editor-2"))
	time.Sleep(100 * time.Millisecond)

	bd := wire.BufferDiff{Pos: 0, OldLen: 0, NewStr: "hi"}
	c1.send(t, wire.IpcBufferDiff(bd))

	select {
	case resp := <-c2.recv:
		if resp.Type != wire.IpcRespBufferDiff || resp.BufferDiff == nil || resp.BufferDiff.NewStr != "hi" {
			t.Fatalf("unexpected response on c2: %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("c2 never received fanned-out BufferDiff")
	}

	select {
	case in := <-peer.Inbound():
		if in.Msg.Type != wire.RemoteTypeBufferDiff || in.Msg.BufferPath != "shared.go" {
			t.Fatalf("unexpected peer broadcast: %+v", in.Msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received BufferDiff broadcast")
	}
}

func TestIpcInfoRequestReportsPeersAndClients(t *testing.T) {
	root := t.TempDir()
	tr := newTestRouter(t, root)
	defer tr.cancel()

	peer := peertransport.New()
	if err := peer.AddPeer(context.Background(), tr.peerAddr, "10.0.0.5:9"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(tr.r.peers.Snapshot()) == 1 })

	c := dialIpc(t, tr.ipcAddr)
	c.send(t, wire.IpcAttachRequest("f.go", "editor"))
	time.Sleep(50 * time.Millisecond)

	c.send(t, wire.IpcInfoRequest())
	select {
	case resp := <-c.recv:
		if resp.Type != wire.IpcRespInfo || resp.Info == nil {
			t.Fatalf("unexpected response: %+v", resp)
		}
		if len(resp.Info.Peers) != 1 || resp.Info.Peers[0].AdvertisedAddr != "10.0.0.5:9" {
			t.Fatalf("unexpected peers in info: %+v", resp.Info.Peers)
		}
		if len(resp.Info.AttachedClients) != 1 || resp.Info.AttachedClients[0].Path != "f.go" {
			t.Fatalf("unexpected attached clients in info: %+v", resp.Info.AttachedClients)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for InfoRequest response")
	}
}

func TestShutdownRequestStopsRouter(t *testing.T) {
	root := t.TempDir()
	tr := newTestRouter(t, root)
	defer tr.cancel()

	c := dialIpc(t, tr.ipcAddr)
	c.send(t, wire.IpcShutdownRequest())

	waitFor(t, func() bool {
		select {
		case <-tr.r.shutdown:
			return true
		default:
			return false
		}
	})
}

func TestClientTableDualIndexInvariant(t *testing.T) {
	ct := NewClientTable()
	ct.Add("addr1", "a.go", "editor-1")
	ct.Add("addr1", "b.go", "editor-1-moved")

	if addrs := ct.AddrsForPath("a.go", ""); len(addrs) != 0 {
		t.Fatalf("expected addr1 removed from old path index, got %v", addrs)
	}
	if addrs := ct.AddrsForPath("b.go", ""); len(addrs) != 1 || addrs[0] != "addr1" {
		t.Fatalf("expected addr1 indexed under new path, got %v", addrs)
	}
	if path, ok := ct.PathForAddr("addr1"); !ok || path != "b.go" {
		t.Fatalf("byAddr index out of sync with byPath: path=%q ok=%v", path, ok)
	}

	ct.RemoveByAddr("addr1")
	if _, ok := ct.PathForAddr("addr1"); ok {
		t.Fatal("expected addr1 removed from byAddr")
	}
	if addrs := ct.AddrsForPath("b.go", ""); len(addrs) != 0 {
		t.Fatalf("expected b.go's path index emptied after removal, got %v", addrs)
	}
}
