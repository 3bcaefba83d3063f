package router

import (
	"sync"

	"github.com/collab-daemon/collabd/internal/fsreg"
)

// AttachedClient is the router's record of one locally attached editor
// connection.
type AttachedClient struct {
	Addr string
	Path fsreg.RelPath
	Desc string
}

// ClientTable is the dual-index table of attached IPC clients: byAddr for
// direct lookup on disconnect, byPath for fan-out to every client editing
// the same file. The two indexes are updated together under one lock so
// they can never observe each other out of sync (the DUAL-INDEX
// invariant).
type ClientTable struct {
	mu     sync.Mutex
	byAddr map[string]AttachedClient
	byPath map[fsreg.RelPath]map[string]struct{}
}

// NewClientTable returns an empty client table.
func NewClientTable() *ClientTable {
	return &ClientTable{
		byAddr: make(map[string]AttachedClient),
		byPath: make(map[fsreg.RelPath]map[string]struct{}),
	}
}

// Add records addr as attached to path with the given description,
// replacing any prior attachment for addr (moving it out of its old
// path's index if it had one).
func (t *ClientTable) Add(addr string, path fsreg.RelPath, desc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.byAddr[addr]; ok {
		t.removeFromPathLocked(old.Path, addr)
	}
	t.byAddr[addr] = AttachedClient{Addr: addr, Path: path, Desc: desc}
	set, ok := t.byPath[path]
	if !ok {
		set = make(map[string]struct{})
		t.byPath[path] = set
	}
	set[addr] = struct{}{}
}

// RemoveByAddr drops addr from both indexes. It reports whether addr was
// known.
func (t *ClientTable) RemoveByAddr(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	client, ok := t.byAddr[addr]
	if !ok {
		return false
	}
	delete(t.byAddr, addr)
	t.removeFromPathLocked(client.Path, addr)
	return true
}

func (t *ClientTable) removeFromPathLocked(path fsreg.RelPath, addr string) {
	set, ok := t.byPath[path]
	if !ok {
		return
	}
	delete(set, addr)
	if len(set) == 0 {
		delete(t.byPath, path)
	}
}

// AddrsForPath returns every attached client address editing path, except
// excludeAddr (the originator of the change being fanned out).
func (t *ClientTable) AddrsForPath(path fsreg.RelPath, excludeAddr string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.byPath[path]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		if addr == excludeAddr {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// PathForAddr returns the path addr is attached to, if any.
func (t *ClientTable) PathForAddr(addr string) (fsreg.RelPath, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	client, ok := t.byAddr[addr]
	if !ok {
		return "", false
	}
	return client.Path, true
}

// Snapshot returns every attached client, for InfoRequest responses.
func (t *ClientTable) Snapshot() []AttachedClient {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AttachedClient, 0, len(t.byAddr))
	for _, c := range t.byAddr {
		out = append(out, c)
	}
	return out
}

// PeerTable tracks the advertised address of every connected peer, keyed
// by the address the connection was observed on (which for an inbound
// connection differs from the peer's own listen address until its Startup
// frame arrives).
type PeerTable struct {
	mu     sync.Mutex
	byAddr map[string]string
}

// NewPeerTable returns an empty peer table.
func NewPeerTable() *PeerTable {
	return &PeerTable{byAddr: make(map[string]string)}
}

// SetAdvertised records advertisedAddr for the peer observed at addr. An
// empty advertisedAddr is recorded as addr itself. The router calls it
// only on a Startup frame, so a peer that never sends Startup (e.g. an
// outbound connection we dialed) is not in the table.
func (t *PeerTable) SetAdvertised(addr, advertisedAddr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if advertisedAddr == "" {
		advertisedAddr = addr
	}
	t.byAddr[addr] = advertisedAddr
}

// Remove drops addr from the table.
func (t *PeerTable) Remove(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byAddr, addr)
}

// Snapshot returns every known peer's advertised address.
func (t *PeerTable) Snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.byAddr))
	for _, adv := range t.byAddr {
		out = append(out, adv)
	}
	return out
}

// Addrs returns every known peer's observed (connection) address, the form
// Transport.Send and Transport.Broadcast expect.
func (t *PeerTable) Addrs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.byAddr))
	for addr := range t.byAddr {
		out = append(out, addr)
	}
	return out
}

// AdvertisedExcept returns the advertised address of every peer other than
// excludeAddr, for relaying AddPeer to a freshly connected peer during the
// startup handshake.
func (t *PeerTable) AdvertisedExcept(excludeAddr string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.byAddr))
	for addr, adv := range t.byAddr {
		if addr == excludeAddr {
			continue
		}
		out = append(out, adv)
	}
	return out
}

// RegistryGuard is the router's sole owner of the shared file registry. It
// implements fswatch.RegistryAccess so the watcher's initial scan can
// register paths directly, bypassing the normal echo-suppression dispatch
// that would otherwise treat the scan's own diffs as foreign changes.
type RegistryGuard struct {
	mu  sync.Mutex
	reg fsreg.Registry
}

// NewRegistryGuard returns a guard wrapping an empty registry.
func NewRegistryGuard() *RegistryGuard {
	return &RegistryGuard{reg: fsreg.NewRegistry()}
}

// WithRegistry runs fn with exclusive access to the registry.
func (g *RegistryGuard) WithRegistry(fn func(fsreg.Registry)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.reg)
}

// ChangesRegister reports whether d would alter the registry, without
// mutating it.
func (g *RegistryGuard) ChangesRegister(d fsreg.Diff) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return d.ChangesRegister(g.reg)
}

// Register applies d to the registry.
func (g *RegistryGuard) Register(d fsreg.Diff) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return d.Register(g.reg)
}
