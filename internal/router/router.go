package router

import (
	"context"
	"fmt"

	"github.com/collab-daemon/collabd/internal/diagnostics"
	"github.com/collab-daemon/collabd/internal/fsreg"
	"github.com/collab-daemon/collabd/internal/ignore"
	"github.com/collab-daemon/collabd/internal/ipctransport"
	"github.com/collab-daemon/collabd/internal/logger"
	"github.com/collab-daemon/collabd/internal/peertransport"
	"github.com/collab-daemon/collabd/internal/wire"
)

// Router is the single-consumer event loop: the sole authority over the
// registry, the peer table, and the attached-client table. Three pump
// goroutines (one per producer) forward their source's events into one
// shared buffered channel, so the main loop's dispatch is a plain
// two-way select between ctx.Done() and that one inbound channel — a
// single FIFO inbound queue rather than a multi-way select across
// independent sources, whose pseudo-random tie-breaking would not give a
// single FIFO order. The queue is bounded (1024 entries): when it is full,
// the pump goroutines block until the dispatch loop drains it.
type Router struct {
	root           string
	advertisedAddr string
	sessionRoot    string

	reg     *RegistryGuard
	peers   *PeerTable
	clients *ClientTable
	matcher *ignore.Matcher

	peerTransport *peertransport.Transport
	ipcTransport  *ipctransport.Transport
	fsEvents      <-chan fsreg.Diff

	inbound  chan Msg
	shutdown chan struct{}

	diagLog *diagnostics.Log
}

// WithDiagnostics attaches an audit log that records every FsDiff the
// router applies to the registry. Passing nil (the zero value) disables
// diagnostics entirely; Log's methods are no-ops on a nil receiver.
func (r *Router) WithDiagnostics(log *diagnostics.Log) *Router {
	r.diagLog = log
	return r
}

// New assembles a Router with its own fresh registry over already-
// constructed transports and watcher. root is the session root on disk;
// advertisedAddr is this daemon's own peer-listen address as announced to
// others in Startup frames.
func New(root, advertisedAddr, sessionRoot string, matcher *ignore.Matcher, peerTr *peertransport.Transport, ipcTr *ipctransport.Transport, fsEvents <-chan fsreg.Diff) *Router {
	return NewWithRegistry(root, advertisedAddr, sessionRoot, matcher, peerTr, ipcTr, fsEvents, NewRegistryGuard())
}

// NewWithRegistry is New, but over a caller-supplied RegistryGuard. Daemon
// startup needs this: the FS watcher's initial scan (fswatch.RegistryAccess)
// must register directly into the same guard the router will later drive
// dispatch against, and the watcher must exist (to hand the router its
// Events() channel) before the router itself can be constructed.
func NewWithRegistry(root, advertisedAddr, sessionRoot string, matcher *ignore.Matcher, peerTr *peertransport.Transport, ipcTr *ipctransport.Transport, fsEvents <-chan fsreg.Diff, reg *RegistryGuard) *Router {
	return &Router{
		root:           root,
		advertisedAddr: advertisedAddr,
		sessionRoot:    sessionRoot,
		reg:            reg,
		peers:          NewPeerTable(),
		clients:        NewClientTable(),
		matcher:        matcher,
		peerTransport:  peerTr,
		ipcTransport:   ipcTr,
		fsEvents:       fsEvents,
		inbound:        make(chan Msg, 1024),
		shutdown:       make(chan struct{}),
	}
}

// RegistryGuard exposes the router's registry guard so the FS watcher's
// initial scan can register paths directly (see RegistryGuard.WithRegistry).
func (r *Router) RegistryGuard() *RegistryGuard { return r.reg }

// Run starts the three pump goroutines and drives the dispatch loop until
// ctx is cancelled or a ShutdownRequest is handled.
func (r *Router) Run(ctx context.Context) error {
	go r.pumpFs(ctx)
	go r.pumpPeer(ctx)
	go r.pumpIpc(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.shutdown:
			return nil
		case msg := <-r.inbound:
			if err := r.dispatch(ctx, msg); err != nil {
				logger.Error("router dispatch failed", "err", err)
			}
		}
	}
}

func (r *Router) pumpFs(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-r.fsEvents:
			if !ok {
				return
			}
			r.push(ctx, Msg{Body: RemoteBody(wire.RemoteFsDiff(d)), Source: FsSource()})
		}
	}
}

func (r *Router) pumpPeer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-r.peerTransport.Inbound():
			if !ok {
				return
			}
			r.push(ctx, Msg{Body: RemoteBody(in.Msg), Source: PeerSource(in.Addr)})
		}
	}
}

func (r *Router) pumpIpc(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-r.ipcTransport.Inbound():
			if !ok {
				return
			}
			r.push(ctx, Msg{Body: IpcClientBody(in.Msg), Source: IpcSource(in.Addr)})
		}
	}
}

func (r *Router) push(ctx context.Context, msg Msg) {
	select {
	case r.inbound <- msg:
	case <-ctx.Done():
	}
}

// dispatch routes one envelope according to (body, source), mirroring the
// table of (body, source) pairs the router acts on.
func (r *Router) dispatch(ctx context.Context, msg Msg) error {
	switch {
	case msg.Body.Remote != nil:
		return r.dispatchRemote(ctx, *msg.Body.Remote, msg.Source)
	case msg.Body.IpcClient != nil:
		return r.dispatchIpcClient(ctx, *msg.Body.IpcClient, msg.Source)
	default:
		return fmt.Errorf("router: empty message body")
	}
}

func (r *Router) dispatchRemote(ctx context.Context, m wire.RemoteMsg, src Source) error {
	switch m.Type {
	case wire.RemoteTypeFsDiff:
		return r.dispatchFsDiff(m, src)
	case wire.RemoteTypeBufferDiff:
		return r.dispatchRemoteBufferDiff(m, src)
	case wire.RemoteTypeAddPeer:
		return r.dispatchAddPeer(ctx, m)
	case wire.RemoteTypeStartup:
		return r.dispatchStartup(ctx, m, src)
	default:
		return fmt.Errorf("router: unexpected remote message type %q from %v", m.Type, src)
	}
}

// dispatchFsDiff is the echo-suppression core: changes_register is the
// sole mechanism that breaks replication loops. A diff that would not
// change the registry is the watcher re-observing its own prior write (or
// a peer's diff we already applied) and is silently dropped.
func (r *Router) dispatchFsDiff(m wire.RemoteMsg, src Source) error {
	d, err := m.Diff()
	if err != nil {
		return err
	}
	if !r.reg.ChangesRegister(d) {
		return nil
	}
	if err := r.reg.Register(d); err != nil {
		return wire.Wrap(wire.KindRegistryInvariant, "dispatchFsDiff", err)
	}
	if err := r.diagLog.RecordApplied(d, src.Kind.String(), src.Addr); err != nil {
		logger.Error("diagnostics record failed", "path", d.Path, "err", err)
	}
	switch src.Kind {
	case SourcePeer:
		// This is the only site that writes the filesystem on behalf of
		// a peer.
		return d.ApplyToDisk(r.root)
	case SourceFs:
		r.peerTransport.Broadcast(wire.RemoteFsDiff(d), "")
		return nil
	case SourceIpcClient:
		// FS diffs are not produced by clients; drop.
		return nil
	default:
		return fmt.Errorf("router: FsDiff from unknown source kind %v", src.Kind)
	}
}

// dispatchRemoteBufferDiff fans a peer's buffer edit out to every attached
// client on that path. It never re-broadcasts to other peers: a peer only
// ever sends a BufferDiff for a path its own attached clients produced,
// and every peer in the mesh already receives it directly from whichever
// peer its own clients are attached through.
func (r *Router) dispatchRemoteBufferDiff(m wire.RemoteMsg, src Source) error {
	if src.Kind != SourcePeer || m.BufferDiff == nil {
		return fmt.Errorf("router: malformed remote BufferDiff from %v", src)
	}
	resp := wire.IpcRespondBufferDiff(*m.BufferDiff)
	for _, addr := range r.clients.AddrsForPath(m.BufferPath, "") {
		r.ipcTransport.Send(addr, resp)
	}
	return nil
}

func (r *Router) dispatchAddPeer(ctx context.Context, m wire.RemoteMsg) error {
	if m.Addr == "" {
		return fmt.Errorf("router: AddPeer with empty address")
	}
	return r.peerTransport.AddPeer(ctx, m.Addr, "")
}

// dispatchStartup binds the new peer's advertised address, then drives the
// startup handshake: announce the rest of the mesh to the new peer and
// stream it a full snapshot of the registry.
func (r *Router) dispatchStartup(ctx context.Context, m wire.RemoteMsg, src Source) error {
	if src.Kind != SourcePeer {
		return fmt.Errorf("router: Startup from non-peer source %v", src)
	}
	r.peers.SetAdvertised(src.Addr, m.Addr)

	for _, adv := range r.peers.AdvertisedExcept(src.Addr) {
		r.peerTransport.Send(src.Addr, wire.RemoteAddPeer(adv))
	}

	return r.sendSnapshot(src.Addr)
}

func (r *Router) sendSnapshot(peerAddr string) error {
	diffs, err := fsreg.LoadDir(r.root, func(p fsreg.RelPath) bool {
		return r.matcher.IsIgnored(p.String())
	})
	if err != nil {
		return fmt.Errorf("router: snapshot %s: %w", r.root, err)
	}
	for _, d := range diffs {
		if err := r.reg.Register(d); err != nil {
			logger.Error("router snapshot register failed", "path", d.Path, "err", err)
			continue
		}
		r.peerTransport.Send(peerAddr, wire.RemoteFsDiff(d))
	}
	return nil
}

func (r *Router) dispatchIpcClient(ctx context.Context, m wire.IpcClientMsg, src Source) error {
	if src.Kind != SourceIpcClient {
		return fmt.Errorf("router: IPC message from non-IPC source %v", src)
	}
	switch m.Type {
	case wire.IpcMsgAttachRequest:
		r.clients.Add(src.Addr, m.Path, m.Desc)
		return nil
	case wire.IpcMsgLocalDisconnect:
		r.clients.RemoveByAddr(src.Addr)
		return nil
	case wire.IpcMsgBufferDiff:
		return r.dispatchIpcBufferDiff(m, src)
	case wire.IpcMsgShutdownRequest:
		return r.dispatchShutdown()
	case wire.IpcMsgInfoRequest:
		return r.dispatchInfoRequest(src)
	default:
		return fmt.Errorf("router: unexpected IPC message type %q from %v", m.Type, src)
	}
}

// dispatchIpcBufferDiff fans an editor's in-buffer edit out to every other
// attached client on the same path, and to every peer so their own
// attached clients see it too.
func (r *Router) dispatchIpcBufferDiff(m wire.IpcClientMsg, src Source) error {
	if m.BufferDiff == nil {
		return fmt.Errorf("router: BufferDiff message with nil payload from %v", src)
	}
	path, ok := r.clients.PathForAddr(src.Addr)
	if !ok {
		return fmt.Errorf("router: BufferDiff from unattached client %v", src)
	}
	resp := wire.IpcRespondBufferDiff(*m.BufferDiff)
	for _, addr := range r.clients.AddrsForPath(path, src.Addr) {
		r.ipcTransport.Send(addr, resp)
	}
	r.peerTransport.Broadcast(wire.RemoteBufferDiff(path, *m.BufferDiff), "")
	return nil
}

// dispatchShutdown unbinds the session key and signals Run to return.
// Closing r.shutdown, not r.inbound, avoids a send-on-closed-channel panic
// in the still-running pump goroutines.
func (r *Router) dispatchShutdown() error {
	if r.sessionRoot != "" {
		if err := ipctransport.Unbind(r.sessionRoot); err != nil {
			logger.Error("router unbind session failed", "root", r.sessionRoot, "err", err)
		}
	}
	close(r.shutdown)
	return nil
}

func (r *Router) dispatchInfoRequest(src Source) error {
	peerInfos := make([]wire.PeerInfo, 0)
	for _, adv := range r.peers.Snapshot() {
		peerInfos = append(peerInfos, wire.PeerInfo{AdvertisedAddr: adv})
	}
	clientInfos := make([]wire.AttachedIpcClientInfo, 0)
	for _, c := range r.clients.Snapshot() {
		clientInfos = append(clientInfos, wire.AttachedIpcClientInfo{Path: c.Path, Addr: c.Addr, Desc: c.Desc})
	}
	info := wire.IpcClientInfo{
		Addr:            r.advertisedAddr,
		Peers:           peerInfos,
		AttachedClients: clientInfos,
	}
	r.ipcTransport.Send(src.Addr, wire.IpcRespondInfo(info))
	return nil
}
