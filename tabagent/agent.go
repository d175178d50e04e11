// Package tabagent embeds a control surface into each browser tab: it
// scans the document for playable media elements, executes playback
// commands against them, and autonomously re-applies locked site volumes
// when elements become ready or enter the document.
//
// The DOM work happens in an injected script (agent.js) that keeps a
// per-scan element registry; the Go side owns selection, the bridge
// handlers, and the enforcement round-trip to the background store.
package tabagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/karune/tabvol/bridge"
	"github.com/karune/tabvol/media"
)

// tabMeta is the page-side tab metadata fetched alongside scans.
type tabMeta struct {
	Title   string `json:"title"`
	Favicon string `json:"favicon"`
	Muted   bool   `json:"muted"`
	Focused bool   `json:"focused"`
}

// pageDOM is the agent's execution surface inside the page. The real
// implementation evaluates into the injected registry; tests substitute
// a fake.
type pageDOM interface {
	Scan(ctx context.Context) ([]rawElement, error)
	Apply(ctx context.Context, action string, ids []int) error
	PauseAll(ctx context.Context) error
	SetVolume(ctx context.Context, id int, volume float64) (bool, error)
	SetCurrentTime(ctx context.Context, id int, seconds float64) (bool, error)
	Focus(ctx context.Context, id int) (bool, error)
	SetTabMuted(ctx context.Context, muted bool) error
	ApplyPending(ctx context.Context, token int, volume float64) (bool, error)
	Meta(ctx context.Context) (tabMeta, error)
}

// Agent is the per-tab media controller.
type Agent struct {
	tabID  string
	dom    pageDOM
	router *bridge.Router
	opts   ScanOptions
	logger *slog.Logger

	mu       sync.RWMutex
	host     string
	tabMuted bool
}

// newAgent wires an agent over an arbitrary DOM surface. Production code
// goes through Attach (supervisor.go), which builds the page-backed DOM.
func newAgent(tabID, host string, dom pageDOM, router *bridge.Router, opts ScanOptions, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		tabID:  tabID,
		dom:    dom,
		router: router,
		opts:   opts,
		logger: logger,
		host:   host,
	}
}

// TabID returns the agent's tab target ID (its bridge peer name).
func (a *Agent) TabID() string { return a.tabID }

// Host returns the tab's current site identity.
func (a *Agent) Host() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.host
}

// setHost updates the site identity after a navigation.
func (a *Agent) setHost(host string) {
	a.mu.Lock()
	a.host = host
	a.mu.Unlock()
}

// TabMuted reports the tab-level mute flag.
func (a *Agent) TabMuted() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tabMuted
}

// Query rescans the document and returns the selected media descriptors.
// The registry (and therefore every ID) is rebuilt from scratch: IDs from
// a previous query are void.
func (a *Agent) Query(ctx context.Context) ([]media.Descriptor, error) {
	raws, err := a.dom.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent: scan: %w", err)
	}
	return selectElements(raws, a.Host(), a.opts), nil
}

// inverse maps an action to its inverse label, returned as the command
// acknowledgement. Callers use it for logging only.
func inverse(action string) string {
	switch action {
	case "play":
		return "pause"
	case "pause":
		return "play"
	case "mute":
		return "unmute"
	case "unmute":
		return "mute"
	}
	return ""
}

// apply runs one action for each id still present in the current
// registry; stale ids are skipped silently.
func (a *Agent) apply(ctx context.Context, action string, ids []int) (string, error) {
	if err := a.dom.Apply(ctx, action, ids); err != nil {
		return "", fmt.Errorf("agent: %s: %w", action, err)
	}
	return inverse(action), nil
}

// Play starts playback for the referenced elements.
func (a *Agent) Play(ctx context.Context, ids []int) (string, error) {
	return a.apply(ctx, "play", ids)
}

// Pause pauses the referenced elements.
func (a *Agent) Pause(ctx context.Context, ids []int) (string, error) {
	return a.apply(ctx, "pause", ids)
}

// Mute mutes the referenced elements.
func (a *Agent) Mute(ctx context.Context, ids []int) (string, error) {
	return a.apply(ctx, "mute", ids)
}

// Unmute unmutes the referenced elements.
func (a *Agent) Unmute(ctx context.Context, ids []int) (string, error) {
	return a.apply(ctx, "unmute", ids)
}

// PauseAll pauses every currently tracked element regardless of id.
func (a *Agent) PauseAll(ctx context.Context) (string, error) {
	if err := a.dom.PauseAll(ctx); err != nil {
		return "", fmt.Errorf("agent: pauseAll: %w", err)
	}
	return "play", nil
}

// SetVolume sets one element's volume. False when the id is stale or the
// assignment throws; never an error for those cases.
func (a *Agent) SetVolume(ctx context.Context, id int, volume float64) bool {
	ok, err := a.dom.SetVolume(ctx, id, media.ClampVolume(volume))
	if err != nil {
		a.logger.Debug("agent: setVolume failed", "tab", a.tabID, "id", id, "error", err)
		return false
	}
	return ok
}

// SetCurrentTime seeks one element. False when the id is stale or the
// site forbids programmatic seeking.
func (a *Agent) SetCurrentTime(ctx context.Context, id int, seconds float64) bool {
	ok, err := a.dom.SetCurrentTime(ctx, id, seconds)
	if err != nil {
		a.logger.Debug("agent: seek failed", "tab", a.tabID, "id", id, "error", err)
		return false
	}
	return ok
}

// Focus scrolls one element into the viewport center.
func (a *Agent) Focus(ctx context.Context, id int) bool {
	ok, err := a.dom.Focus(ctx, id)
	if err != nil {
		a.logger.Debug("agent: focus failed", "tab", a.tabID, "id", id, "error", err)
		return false
	}
	return ok
}

// SetTabMuted applies the tab-level mute overlay, distinct from
// per-element mute state.
func (a *Agent) SetTabMuted(ctx context.Context, muted bool) error {
	if err := a.dom.SetTabMuted(ctx, muted); err != nil {
		return fmt.Errorf("agent: tab mute: %w", err)
	}
	a.mu.Lock()
	a.tabMuted = muted
	a.mu.Unlock()
	return nil
}

// Meta fetches the page-side tab metadata.
func (a *Agent) Meta(ctx context.Context) (tabMeta, error) {
	return a.dom.Meta(ctx)
}

// enforce resolves one enforcement token raised by the page: ask the
// background store for the site's locked volume and apply it to exactly
// the parked element when it differs at 2-decimal precision. One-shot,
// fire-and-forget: failures are logged at debug level only.
func (a *Agent) enforce(ctx context.Context, token int) {
	vol := -1.0 // discard marker: no lock for this site

	req, _ := json.Marshal(map[string]string{"host": a.Host()})
	raw, err := a.router.Call(ctx, bridge.Background, bridge.CmdGetVolume, req)
	if err == nil {
		var resp struct {
			Volume float64 `json:"volume"`
			Ok     bool    `json:"ok"`
		}
		if json.Unmarshal(raw, &resp) == nil && resp.Ok {
			vol = resp.Volume
		}
	}

	applied, err := a.dom.ApplyPending(ctx, token, vol)
	if err != nil {
		a.logger.Debug("agent: enforcement dropped", "tab", a.tabID, "token", token, "error", err)
		return
	}
	if applied {
		a.logger.Debug("agent: locked volume enforced",
			"tab", a.tabID, "host", a.Host(), "volume", vol)
	}
}
