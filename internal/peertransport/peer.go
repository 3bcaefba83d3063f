// Package peertransport maintains the mesh of peer TCP connections: one
// reader and one writer goroutine per connection, exchanging
// '\0'-delimited JSON-encoded wire.RemoteMsg frames.
package peertransport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/collab-daemon/collabd/internal/logger"
	"github.com/collab-daemon/collabd/internal/wire"
)

// Inbound is a decoded frame paired with the address it arrived from, ready
// for the router to wrap into its own envelope type.
type Inbound struct {
	Msg  wire.RemoteMsg
	Addr string
}

type peerConn struct {
	conn     net.Conn
	outbound chan wire.RemoteMsg
}

// Transport owns every active peer connection.
type Transport struct {
	mu    sync.Mutex
	peers map[string]*peerConn

	inbound chan Inbound
}

// New returns a Transport with no peers yet connected.
func New() *Transport {
	return &Transport{
		peers:   make(map[string]*peerConn),
		inbound: make(chan Inbound, 256),
	}
}

// Inbound is the channel the router drains decoded peer frames from.
func (t *Transport) Inbound() <-chan Inbound { return t.inbound }

// Listen accepts incoming peer connections on addr until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peertransport: listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			t.adopt(ctx, conn, conn.RemoteAddr().String())
		}
	}()
	return ln.Addr(), nil
}

// AddPeer dials addr and, if advertisedAddr is non-empty, announces this
// daemon's own address with a Startup frame before any other traffic.
func (t *Transport) AddPeer(ctx context.Context, addr string, advertisedAddr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("peertransport: dial %s: %w", addr, err)
	}
	t.adopt(ctx, conn, addr)
	if advertisedAddr != "" {
		t.Send(addr, wire.RemoteStartup(advertisedAddr))
	}
	return nil
}

func (t *Transport) adopt(ctx context.Context, conn net.Conn, addr string) {
	pc := &peerConn{conn: conn, outbound: make(chan wire.RemoteMsg, 64)}
	t.mu.Lock()
	t.peers[addr] = pc
	t.mu.Unlock()

	go t.writer(pc)
	go t.reader(ctx, conn, addr)
}

// reader decodes frames until EOF or a read error, then disconnects the
// peer. A malformed individual frame is logged and skipped rather than
// tearing down the whole connection.
func (t *Transport) reader(ctx context.Context, conn net.Conn, addr string) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes(0)
		if err != nil {
			t.disconnectPeer(addr)
			return
		}
		data := bytes.TrimSuffix(line, []byte{0})
		msg, err := wire.DecodeRemoteMsg(data)
		if err != nil {
			logger.Error("peertransport malformed frame", "addr", addr, "err", err)
			continue
		}
		select {
		case t.inbound <- Inbound{Msg: msg, Addr: addr}:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) writer(pc *peerConn) {
	for msg := range pc.outbound {
		if msg.Type == wire.RemoteTypeLocalDisconnect {
			pc.conn.Close()
			return
		}
		data, err := wire.EncodeRemoteMsg(msg)
		if err != nil {
			continue
		}
		data = append(data, 0)
		if _, err := pc.conn.Write(data); err != nil {
			return
		}
	}
}

// disconnectPeer is the single place a peer is removed from the table; it
// closes the outbound channel by pushing the LocalDisconnect sentinel
// rather than closing the channel directly, so a writer mid-send never
// panics on a closed channel.
func (t *Transport) disconnectPeer(addr string) {
	t.mu.Lock()
	pc, ok := t.peers[addr]
	if ok {
		delete(t.peers, addr)
	}
	t.mu.Unlock()
	if ok {
		pc.outbound <- wire.RemoteLocalDisconnect
	}
}

// DisconnectPeer is the exported equivalent of disconnectPeer, for callers
// outside the transport that decide to drop a peer themselves.
func (t *Transport) DisconnectPeer(addr string) { t.disconnectPeer(addr) }

// Send delivers msg to the named peer's outbound queue. It reports whether
// the peer was known.
func (t *Transport) Send(addr string, msg wire.RemoteMsg) bool {
	t.mu.Lock()
	pc, ok := t.peers[addr]
	t.mu.Unlock()
	if !ok {
		return false
	}
	pc.outbound <- msg
	return true
}

// Broadcast delivers msg to every known peer except the one named by
// exceptAddr (used to avoid echoing a diff back to the peer it came from).
func (t *Transport) Broadcast(msg wire.RemoteMsg, exceptAddr string) {
	t.mu.Lock()
	targets := make([]*peerConn, 0, len(t.peers))
	for addr, pc := range t.peers {
		if addr == exceptAddr {
			continue
		}
		targets = append(targets, pc)
	}
	t.mu.Unlock()
	for _, pc := range targets {
		pc.outbound <- msg
	}
}

// Peers returns a snapshot of currently connected peer addresses.
func (t *Transport) Peers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.peers))
	for addr := range t.peers {
		out = append(out, addr)
	}
	return out
}
