package ipctransport

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

// Inbound is a decoded IPC frame paired with the connection it arrived on.
type Inbound struct {
	Msg  wire.IpcClientMsg
	Addr string
}

type ipcConn struct {
	conn     net.Conn
	outbound chan wire.IpcClientResponse
}

// Transport binds an ephemeral loopback port and spawns a reader/writer
// pair per attached client, the same shape as peertransport.Transport.
type Transport struct {
	mu      sync.Mutex
	clients map[string]*ipcConn

	inbound chan Inbound
}

func New() *Transport {
	return &Transport{
		clients: make(map[string]*ipcConn),
		inbound: make(chan Inbound, 256),
	}
}

func (t *Transport) Inbound() <-chan Inbound { return t.inbound }

// Listen binds 127.0.0.1:0 and accepts connections until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context) (net.Addr, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("ipctransport: listen: %w", err)
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
			t.adopt(ctx, conn)
		}
	}()
	return ln.Addr(), nil
}

func (t *Transport) adopt(ctx context.Context, conn net.Conn) {
	addr := conn.RemoteAddr().String()
	ic := &ipcConn{conn: conn, outbound: make(chan wire.IpcClientResponse, 64)}
	t.mu.Lock()
	t.clients[addr] = ic
	t.mu.Unlock()

	go t.writer(ic)
	go t.reader(ctx, conn, addr)
}

func (t *Transport) reader(ctx context.Context, conn net.Conn, addr string) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes(0)
		if err != nil {
			t.disconnect(addr, wire.IpcRespRemoteDisconnectMsg)
			return
		}
		data := bytes.TrimSuffix(line, []byte{0})
		msg, err := wire.DecodeIpcClientMsg(data)
		if err != nil {
			logger.Error("ipctransport malformed frame", "addr", addr, "err", err)
			continue
		}
		select {
		case t.inbound <- Inbound{Msg: msg, Addr: addr}:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) writer(ic *ipcConn) {
	for msg := range ic.outbound {
		data, err := wire.EncodeIpcClientResponse(msg)
		if err == nil {
			data = append(data, 0)
			ic.conn.Write(data)
		}
		if msg.Type == wire.IpcRespLocalDisconnect || msg.Type == wire.IpcRespRemoteDisconnect {
			ic.conn.Close()
			return
		}
	}
}

func (t *Transport) disconnect(addr string, reason wire.IpcClientResponse) {
	t.mu.Lock()
	ic, ok := t.clients[addr]
	if ok {
		delete(t.clients, addr)
	}
	t.mu.Unlock()
	if ok {
		ic.outbound <- reason
	}
}

// DisconnectClient tears down addr's connection from the daemon's side,
// sending the client a LocalDisconnect before closing it.
func (t *Transport) DisconnectClient(addr string) {
	t.disconnect(addr, wire.IpcRespLocalDisconnectMsg)
}

// Send delivers resp to the named client. It reports whether the client
// was still known.
func (t *Transport) Send(addr string, resp wire.IpcClientResponse) bool {
	t.mu.Lock()
	ic, ok := t.clients[addr]
	t.mu.Unlock()
	if !ok {
		return false
	}
	ic.outbound <- resp
	return true
}
