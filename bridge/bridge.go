// Package bridge is the asynchronous request/response messaging layer
// joining the three contexts of the system: the background site-volume
// store, the per-tab agents, and the control panel.
//
// Each context registers command handlers under a peer name (the store
// under Background, agents under their tab target ID). Senders call
// Call(ctx, peer, cmd, payload) and either receive a response or an error
// they treat as "peer unavailable" — never fatal. Fire-and-forget commands
// are ordinary calls whose response the sender discards.
//
//	r := bridge.New(bridge.WithLogger(logger))
//	r.Register(bridge.Background, bridge.CmdGetVolume, store.handleGet)
//	...
//	resp, err := r.Call(ctx, tabID, bridge.CmdQuery, nil)
package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/karune/tabvol/idgen"
)

// Background is the reserved peer name for the site-volume store.
const Background = "background"

// Command names. These are the wire contract between the three contexts.
const (
	// Background commands.
	CmdGetVolume     = "getVolume"
	CmdGetAllVolumes = "getAllVolumes"
	CmdSetVolume     = "setVolume"

	// Tab commands.
	CmdQuery       = "query"
	CmdPlay        = "play"
	CmdPause       = "pause"
	CmdPauseAll    = "pauseAll"
	CmdMute        = "mute"
	CmdUnmute      = "unmute"
	CmdVolume      = "volume"
	CmdCurrentTime = "currentTime"
	CmdFocus       = "focus"
)

// Handler is a context-agnostic command function: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Router dispatches commands to registered peers. Thread-safe: agents
// register and deregister while the panel's poll loop is calling.
type Router struct {
	mu     sync.RWMutex
	peers  map[string]map[string]Handler
	logger *slog.Logger
	newID  idgen.Generator
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithRequestIDs sets a custom request-ID generator (used in debug logs).
func WithRequestIDs(gen idgen.Generator) Option {
	return func(r *Router) { r.newID = gen }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		peers:  make(map[string]map[string]Handler),
		logger: slog.Default(),
		newID:  idgen.Prefixed("req_", idgen.Default),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register installs a handler for one command of one peer, replacing any
// previous handler for the same pair.
func (r *Router) Register(peer, cmd string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmds, ok := r.peers[peer]
	if !ok {
		cmds = make(map[string]Handler)
		r.peers[peer] = cmds
	}
	cmds[cmd] = h
}

// Deregister removes a peer and all its handlers. Calls to a deregistered
// peer fail with ErrPeerUnavailable, which callers treat as "zero media".
func (r *Router) Deregister(peer string) {
	r.mu.Lock()
	delete(r.peers, peer)
	r.mu.Unlock()
}

// HasPeer reports whether a peer currently has any registered handlers.
func (r *Router) HasPeer(peer string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[peer]
	return ok
}

// Call dispatches cmd to peer. A missing peer yields ErrPeerUnavailable,
// a missing command on a live peer yields ErrUnknownCommand. Handler
// errors propagate unwrapped; the caller decides whether they are fatal
// (in this system they never are).
func (r *Router) Call(ctx context.Context, peer, cmd string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	cmds, ok := r.peers[peer]
	var h Handler
	if ok {
		h = cmds[cmd]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, &ErrPeerUnavailable{Peer: peer}
	}
	if h == nil {
		return nil, &ErrUnknownCommand{Peer: peer, Cmd: cmd}
	}

	reqID := r.newID()
	r.logger.DebugContext(ctx, "bridge: dispatch", "peer", peer, "cmd", cmd, "req", reqID)

	resp, err := h(ctx, payload)
	if err != nil {
		r.logger.DebugContext(ctx, "bridge: handler failed",
			"peer", peer, "cmd", cmd, "req", reqID, "error", err)
	}
	return resp, err
}

// Send is the fire-and-forget form of Call: the response is discarded and
// failures are logged at debug level only.
func (r *Router) Send(ctx context.Context, peer, cmd string, payload []byte) {
	if _, err := r.Call(ctx, peer, cmd, payload); err != nil {
		r.logger.DebugContext(ctx, "bridge: send dropped",
			"peer", peer, "cmd", cmd, "error", err)
	}
}
