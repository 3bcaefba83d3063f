package peertransport

import (
	"context"
	"testing"
	"time"

	"github.com/collab-daemon/collabd/internal/fsreg"
	"github.com/collab-daemon/collabd/internal/wire"
)

func TestRoundTripOverLoopback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverT := New()
	addr, err := serverT.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	clientT := New()
	if err := clientT.AddPeer(ctx, addr.String(), "10.0.0.1:9000"); err != nil {
		t.Fatal(err)
	}

	select {
	case in := <-serverT.Inbound():
		if in.Msg.Type != wire.RemoteTypeStartup || in.Msg.Addr != "10.0.0.1:9000" {
			t.Fatalf("unexpected startup message: %+v", in.Msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for startup frame")
	}

	serverPeers := serverT.Peers()
	if len(serverPeers) != 1 {
		t.Fatalf("expected server to track one peer, got %v", serverPeers)
	}

	diffMsg := wire.RemoteFsDiff(fsreg.WriteDiff("a.txt", []byte("hello")))
	if !serverT.Send(serverPeers[0], diffMsg) {
		t.Fatal("expected send to known peer to succeed")
	}

	select {
	case in := <-clientT.Inbound():
		if in.Msg.Type != wire.RemoteTypeFsDiff {
			t.Fatalf("expected FsDiff message, got %+v", in.Msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for FsDiff frame on client")
	}
}

func TestDisconnectRemovesPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverT := New()
	addr, err := serverT.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	clientT := New()
	if err := clientT.AddPeer(ctx, addr.String(), ""); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(serverT.Peers()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("server never observed the client connection")
		case <-time.After(10 * time.Millisecond):
		}
	}

	clientT.DisconnectPeer(addr.String())

	deadline = time.After(2 * time.Second)
	for {
		if len(clientT.Peers()) == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("client peer was not removed after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
