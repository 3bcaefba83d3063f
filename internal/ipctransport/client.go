package ipctransport

import (
	"bufio"
	"bytes"
	"fmt"
	"net"

	"github.com/collab-daemon/collabd/internal/wire"
)

// ClientConn is an editor/CLI-side connection to an attached daemon.
type ClientConn struct {
	conn net.Conn
	Send chan wire.IpcClientMsg
	Recv chan wire.IpcClientResponse
}

// Client walks startDir's ancestors for a live session, then connects to
// its daemon over loopback.
func Client(startDir string) (*ClientConn, error) {
	_, info, found, err := FindSession(startDir)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, wire.Wrap(wire.KindSessionMissing, "Client", fmt.Errorf("no running daemon found above %s", startDir))
	}
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", info.Port))
	if err != nil {
		return nil, fmt.Errorf("ipctransport: dial session: %w", err)
	}
	c := &ClientConn{
		conn: conn,
		Send: make(chan wire.IpcClientMsg, 16),
		Recv: make(chan wire.IpcClientResponse, 16),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func (c *ClientConn) writeLoop() {
	for msg := range c.Send {
		data, err := wire.EncodeIpcClientMsg(msg)
		if err == nil {
			data = append(data, 0)
			c.conn.Write(data)
		}
		if msg.Type == wire.IpcMsgLocalDisconnect {
			c.conn.Close()
			return
		}
	}
}

func (c *ClientConn) readLoop() {
	defer close(c.Recv)
	r := bufio.NewReader(c.conn)
	for {
		line, err := r.ReadBytes(0)
		if err != nil {
			return
		}
		data := bytes.TrimSuffix(line, []byte{0})
		resp, err := wire.DecodeIpcClientResponse(data)
		if err != nil {
			continue
		}
		c.Recv <- resp
		if resp.Type == wire.IpcRespLocalDisconnect || resp.Type == wire.IpcRespRemoteDisconnect {
			return
		}
	}
}

// Close requests a clean disconnect from the daemon's side.
func (c *ClientConn) Close() {
	c.Send <- wire.IpcLocalDisconnect
}
