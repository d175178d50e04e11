package tabagent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/karune/tabvol/bridge"
	"github.com/karune/tabvol/media"
	"github.com/karune/tabvol/tabagent/internal/browser"
)

// TabInfo is the supervisor's metadata for one attached tab.
type TabInfo struct {
	ID      string
	URL     string
	Title   string
	Favicon string
	Muted   bool
	Active  bool
}

// tabHandle is what the supervisor needs from an attached tab after
// attach time. *browser.Tab implements it; tests substitute a fake.
type tabHandle interface {
	Info(ctx context.Context) (*proto.TargetTargetInfo, error)
	Activate(ctx context.Context) error
}

// installer re-injects the page registry into a live page.
type installer interface {
	install(ctx context.Context) error
}

// Supervisor tracks the browser's open tabs, attaches an Agent to every
// page matching the broad URL filter (http/https), registers each agent's
// command handlers on the bridge under its tab target ID, and tears them
// down as tabs close. Create one per tabvol instance.
type Supervisor struct {
	mgr    *browser.Manager
	router *bridge.Router
	opts   ScanOptions
	logger *slog.Logger

	sweepInterval time.Duration

	mu     sync.Mutex
	agents map[string]*agentEntry // keyed by tab target ID
}

type agentEntry struct {
	agent *Agent
	tab   tabHandle
	dom   installer

	// url is the document the registry was last installed into. Any
	// navigation, same-host ones included, voids the page registry and
	// the enforcement hooks.
	url string

	// last is the most recent metadata served for the tab, kept so an
	// unresponsive tab stays listed with stale-but-stable values.
	// Guarded by Supervisor.mu.
	last TabInfo
}

// BrowserConfig tells the supervisor how to reach the browser.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of a running browser.
	// Empty = launch a local instance.
	RemoteURL string

	// Headless applies to locally launched instances only.
	Headless bool

	// Stealth installs automation-detection countermeasures on every
	// attached tab.
	Stealth bool
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Browser       BrowserConfig
	Router        *bridge.Router
	Scan          ScanOptions
	SweepInterval time.Duration // tab discovery period; default 2s
	Logger        *slog.Logger
}

// NewSupervisor creates a Supervisor from configuration.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 2 * time.Second
	}
	return &Supervisor{
		mgr: browser.NewManager(browser.Config{
			RemoteURL: cfg.Browser.RemoteURL,
			Headless:  cfg.Browser.Headless,
			Stealth:   cfg.Browser.Stealth,
			Logger:    cfg.Logger,
		}),
		router:        cfg.Router,
		opts:          cfg.Scan,
		logger:        cfg.Logger,
		sweepInterval: cfg.SweepInterval,
		agents:        make(map[string]*agentEntry),
	}
}

// Start connects to the browser, attaches agents to the current tabs, and
// begins the discovery loop.
func (s *Supervisor) Start(ctx context.Context) error {
	if _, err := s.mgr.Start(ctx); err != nil {
		return err
	}

	s.sweep(ctx)
	go s.sweepLoop(ctx)
	return nil
}

// Stop deregisters all agents and disconnects from the browser.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	for id := range s.agents {
		s.router.Deregister(id)
	}
	s.agents = make(map[string]*agentEntry)
	s.mu.Unlock()

	s.mgr.Close()
}

func (s *Supervisor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep reconciles the agent set against the browser's current pages:
// attach to new tabs, re-install after navigations, drop closed tabs.
func (s *Supervisor) sweep(ctx context.Context) {
	b := s.mgr.Browser()
	if b == nil {
		return
	}

	pages, err := b.Pages()
	if err != nil {
		s.logger.Warn("supervisor: enumerate tabs", "error", err)
		return
	}

	seen := make(map[string]bool, len(pages))

	for _, page := range pages {
		tab := browser.Attach(page)
		info, err := tab.Info(ctx)
		if err != nil {
			continue // closed mid-sweep
		}
		if !controllableURL(info.URL) {
			continue
		}
		seen[tab.TargetID] = true

		s.mu.Lock()
		entry, attached := s.agents[tab.TargetID]
		s.mu.Unlock()

		host := media.Hostname(info.URL)
		if attached {
			s.refreshAttached(ctx, entry, info.URL, host)
			continue
		}

		s.attach(ctx, tab, host, info.URL, info.Title)
	}

	// Drop agents for vanished tabs.
	s.mu.Lock()
	for id := range s.agents {
		if !seen[id] {
			delete(s.agents, id)
			s.router.Deregister(id)
			s.logger.Info("supervisor: tab closed", "tab", id)
		}
	}
	s.mu.Unlock()
}

// refreshAttached re-installs the page registry when the tab navigated
// since the last sweep. The registry dies with the old document whether
// or not the hostname changed, so any URL change triggers a re-install.
// Reports whether the agent is usable for this cycle.
func (s *Supervisor) refreshAttached(ctx context.Context, entry *agentEntry, url, host string) bool {
	if entry.url == url {
		return true
	}
	if err := entry.dom.install(ctx); err != nil {
		s.logger.Debug("supervisor: re-install failed",
			"tab", entry.agent.TabID(), "error", err)
		return false
	}
	entry.url = url
	entry.agent.setHost(host)
	return true
}

func (s *Supervisor) attach(ctx context.Context, tab *browser.Tab, host, url, title string) {
	if s.mgr.Stealth() {
		if err := tab.ApplyStealth(); err != nil {
			s.logger.Debug("supervisor: stealth install failed", "tab", tab.TargetID, "error", err)
		}
	}

	dom := newPageDOM(tab, s.opts)
	if err := dom.install(ctx); err != nil {
		s.logger.Debug("supervisor: install failed", "tab", tab.TargetID, "error", err)
		return
	}

	agent := newAgent(tab.TargetID, host, dom, s.router, s.opts, s.logger)
	agent.registerBridge()
	agent.listenEnforce(ctx, tab)

	s.mu.Lock()
	s.agents[tab.TargetID] = &agentEntry{
		agent: agent,
		tab:   tab,
		dom:   dom,
		url:   url,
		last:  TabInfo{ID: tab.TargetID, URL: url, Title: title},
	}
	s.mu.Unlock()

	s.logger.Info("supervisor: agent attached", "tab", tab.TargetID, "host", host)
}

// controllableURL is the broad tab filter: ordinary web pages only.
func controllableURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// Tabs returns metadata for every attached tab. A tab that fails to
// answer contributes its last-known metadata rather than dropping out of
// the list.
func (s *Supervisor) Tabs(ctx context.Context) []TabInfo {
	s.mu.Lock()
	entries := make([]*agentEntry, 0, len(s.agents))
	for _, e := range s.agents {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]TabInfo, 0, len(entries))
	for _, e := range entries {
		s.mu.Lock()
		ti := e.last
		s.mu.Unlock()

		if info, err := e.tab.Info(ctx); err == nil {
			ti.URL = info.URL
			ti.Title = info.Title
		}
		ti.Muted = e.agent.TabMuted()
		if m, err := e.agent.Meta(ctx); err == nil {
			ti.Favicon = m.Favicon
			ti.Active = m.Focused
			if m.Title != "" {
				ti.Title = m.Title
			}
		}

		s.mu.Lock()
		e.last = ti
		s.mu.Unlock()
		out = append(out, ti)
	}
	return out
}

// Activate brings a tab to the foreground.
func (s *Supervisor) Activate(ctx context.Context, tabID string) error {
	s.mu.Lock()
	entry, ok := s.agents[tabID]
	s.mu.Unlock()
	if !ok {
		return &bridge.ErrPeerUnavailable{Peer: tabID}
	}
	return entry.tab.Activate(ctx)
}

// SetTabMuted toggles a tab's tab-level mute, independent of per-element
// mute state.
func (s *Supervisor) SetTabMuted(ctx context.Context, tabID string, muted bool) error {
	s.mu.Lock()
	entry, ok := s.agents[tabID]
	s.mu.Unlock()
	if !ok {
		return &bridge.ErrPeerUnavailable{Peer: tabID}
	}
	return entry.agent.SetTabMuted(ctx, muted)
}
