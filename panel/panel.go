// Package panel is the control surface of the system: it periodically
// queries every attached tab over the bridge, merges the answers into a
// site-grouped view, keeps locked volumes enforced, and serves the view
// plus the command endpoints over a local chi HTTP API.
//
// The panel runs a two-state machine. In Polling, a fixed-interval ticker
// drives refreshes. While the user is dragging a control (UserInteracting,
// entered via the interaction endpoints) scheduled refreshes are skipped;
// a quiet delay after the last interaction returns to Polling and triggers
// exactly one immediate refresh.
package panel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/karune/tabvol/bridge"
	"github.com/karune/tabvol/media"
	"github.com/karune/tabvol/sitevol"
	"github.com/karune/tabvol/tabagent"
)

// TabSource enumerates and manipulates browser tabs. The supervisor is
// the production implementation; tests substitute a fake.
type TabSource interface {
	Tabs(ctx context.Context) []tabagent.TabInfo
	Activate(ctx context.Context, tabID string) error
	SetTabMuted(ctx context.Context, tabID string, muted bool) error
}

type state int

const (
	statePolling state = iota
	stateInteracting
)

// Panel merges tab agent answers into the served view.
type Panel struct {
	router *bridge.Router
	tabs   TabSource
	logger *slog.Logger

	pollInterval time.Duration
	quietDelay   time.Duration

	mu         sync.Mutex
	state      state
	quietTimer *time.Timer
	view       View
	runCtx     context.Context
}

// Config configures a Panel.
type Config struct {
	Router       *bridge.Router
	Tabs         TabSource
	PollInterval time.Duration // refresh period; default 1500ms
	QuietDelay   time.Duration // post-interaction settle time; default 500ms
	Logger       *slog.Logger
}

// New creates a Panel. Run starts the poll loop.
func New(cfg Config) *Panel {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1500 * time.Millisecond
	}
	if cfg.QuietDelay <= 0 {
		cfg.QuietDelay = 500 * time.Millisecond
	}
	return &Panel{
		router:       cfg.Router,
		tabs:         cfg.Tabs,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		quietDelay:   cfg.QuietDelay,
		view:         View{Volumes: map[string]float64{}},
		runCtx:       context.Background(),
	}
}

// Run drives the poll loop until ctx ends. It performs one immediate
// refresh before the first tick.
func (p *Panel) Run(ctx context.Context) {
	p.mu.Lock()
	p.runCtx = ctx
	p.mu.Unlock()

	p.Refresh(ctx)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			if p.quietTimer != nil {
				p.quietTimer.Stop()
			}
			p.mu.Unlock()
			return
		case <-ticker.C:
			p.mu.Lock()
			skip := p.state != statePolling
			p.mu.Unlock()
			if skip {
				continue
			}
			p.Refresh(ctx)
		}
	}
}

// View returns a copy of the current reconciled view.
func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view.clone()
}

// BeginInteraction suspends scheduled refreshes while the user holds a
// control. A Begin during a pending quiet window cancels the window.
func (p *Panel) BeginInteraction() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = stateInteracting
	if p.quietTimer != nil {
		p.quietTimer.Stop()
		p.quietTimer = nil
	}
}

// EndInteraction arms the quiet timer. When it expires without another
// Begin, the panel returns to Polling and refreshes once immediately.
func (p *Panel) EndInteraction() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateInteracting {
		return
	}
	if p.quietTimer != nil {
		p.quietTimer.Stop()
	}
	p.quietTimer = time.AfterFunc(p.quietDelay, func() {
		p.mu.Lock()
		p.state = statePolling
		p.quietTimer = nil
		ctx := p.runCtx
		p.mu.Unlock()
		p.Refresh(ctx)
	})
}

// Refresh runs one full merge cycle. Any error or panic inside it leaves
// the previous content in place under a generic error banner; the next
// tick retries at the fixed interval.
func (p *Panel) Refresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panel: refresh panicked", "panic", r)
			p.markError()
		}
	}()

	if err := p.refresh(ctx); err != nil {
		p.logger.Warn("panel: refresh failed", "error", err)
		p.markError()
	}
}

func (p *Panel) markError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.view.Err == "" {
		p.view.Err = "refresh failed"
		p.view.Revision++
	}
}

func (p *Panel) refresh(ctx context.Context) error {
	volumes, err := p.lockedVolumes(ctx)
	if err != nil {
		return err
	}

	tabs := p.tabs.Tabs(ctx)
	snapshots := p.querySnapshots(ctx, tabs)

	p.enforceLocks(ctx, snapshots, volumes)

	withMedia := make([]media.TabSnapshot, 0, len(snapshots))
	var active *media.TabSnapshot
	for i, s := range snapshots {
		if len(s.Media) == 0 {
			continue
		}
		withMedia = append(withMedia, s)
		if s.Active && active == nil {
			active = &snapshots[i]
		}
	}

	var sites []media.SiteGroup
	focusMode := false
	if active != nil {
		// Focus mode: the active tab is playing something, show only
		// its site group.
		focusMode = true
		sites = []media.SiteGroup{{Host: active.Host(), Tabs: []media.TabSnapshot{*active}}}
	} else {
		sites = groupByHost(withMedia)
	}

	p.mu.Lock()
	p.view = reconcile(p.view, sites, volumes, focusMode)
	p.mu.Unlock()
	return nil
}

// lockedVolumes fetches the full site-volume table from the background
// store over the bridge.
func (p *Panel) lockedVolumes(ctx context.Context) (map[string]float64, error) {
	raw, err := p.router.Call(ctx, bridge.Background, bridge.CmdGetAllVolumes, nil)
	if err != nil {
		return nil, err
	}
	var resp sitevol.AllResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Volumes == nil {
		resp.Volumes = map[string]float64{}
	}
	return resp.Volumes, nil
}

// querySnapshots asks every tab's agent for its media list, concurrently.
// A tab whose agent fails (no agent ever injected, closed mid-query)
// contributes zero media rather than an error.
func (p *Panel) querySnapshots(ctx context.Context, tabs []tabagent.TabInfo) []media.TabSnapshot {
	snapshots := make([]media.TabSnapshot, len(tabs))

	var wg sync.WaitGroup
	for i, t := range tabs {
		snapshots[i] = media.TabSnapshot{
			TabID:   t.ID,
			URL:     t.URL,
			Title:   t.Title,
			Favicon: t.Favicon,
			Muted:   t.Muted,
			Active:  t.Active,
		}

		wg.Add(1)
		go func(i int, tabID string) {
			defer wg.Done()
			raw, err := p.router.Call(ctx, tabID, bridge.CmdQuery, nil)
			if err != nil {
				p.logger.Debug("panel: tab query failed", "tab", tabID, "error", err)
				return
			}
			ds, err := media.UnmarshalDescriptors(raw)
			if err != nil {
				p.logger.Debug("panel: tab answer malformed", "tab", tabID, "error", err)
				return
			}
			snapshots[i].Media = ds
		}(i, t.ID)
	}
	wg.Wait()
	return snapshots
}

// enforceLocks issues corrective volume commands for every element whose
// reported volume strays from its site's locked value. The agents enforce
// autonomously too; this pass covers elements their hooks missed.
func (p *Panel) enforceLocks(ctx context.Context, snapshots []media.TabSnapshot, volumes map[string]float64) {
	for _, s := range snapshots {
		lock, ok := volumes[s.Host()]
		if !ok {
			continue
		}
		for _, d := range s.Media {
			if media.SameVolume(d.Volume, lock) {
				continue
			}
			req, _ := json.Marshal(tabagent.VolumeRequest{ID: d.ID, Volume: lock})
			p.router.Send(ctx, s.TabID, bridge.CmdVolume, req)
			p.logger.Debug("panel: corrective volume",
				"tab", s.TabID, "id", d.ID, "from", d.Volume, "to", lock)
		}
	}
}
