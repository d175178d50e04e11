package tabagent

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"github.com/karune/tabvol/tabagent/internal/browser"
)

//go:embed agent.js
var agentJS string

// bindingName is the page→Go channel for enforcement events.
const bindingName = "__tabvol_binding"

// pageBackedDOM evaluates agent operations inside the live page registry.
type pageBackedDOM struct {
	tab  *browser.Tab
	opts ScanOptions
}

func newPageDOM(tab *browser.Tab, opts ScanOptions) *pageBackedDOM {
	return &pageBackedDOM{tab: tab, opts: opts}
}

// install sets the scan configuration, exposes the enforcement binding,
// and injects the registry script. Installing is idempotent: a re-install
// after navigation re-arms the hooks.
func (p *pageBackedDOM) install(ctx context.Context) error {
	if err := p.tab.AddBinding(ctx, bindingName); err != nil {
		// The binding survives navigations; re-adding may be rejected.
		_ = err
	}

	opts := p.opts
	opts.defaults()
	cfg := fmt.Sprintf("window.__tabvol_config = {viewportMargin: %d, feedMargin: %d};",
		opts.ViewportMargin, opts.FeedMargin)
	if err := p.tab.Run(ctx, "() => { "+cfg+" }"); err != nil {
		return fmt.Errorf("agent: set scan config: %w", err)
	}

	if err := p.tab.Run(ctx, agentJS); err != nil {
		return fmt.Errorf("agent: inject: %w", err)
	}
	return nil
}

func (p *pageBackedDOM) Scan(ctx context.Context) ([]rawElement, error) {
	raw, err := p.tab.EvalString(ctx, `() => window.__tabvol.scan()`)
	if err != nil {
		return nil, err
	}
	var els []rawElement
	if err := json.Unmarshal([]byte(raw), &els); err != nil {
		return nil, fmt.Errorf("agent: parse scan: %w", err)
	}
	return els, nil
}

func (p *pageBackedDOM) Apply(ctx context.Context, action string, ids []int) error {
	return p.tab.Run(ctx, `(action, ids) => { window.__tabvol.apply(action, ids); }`, action, ids)
}

func (p *pageBackedDOM) PauseAll(ctx context.Context) error {
	return p.tab.Run(ctx, `() => { window.__tabvol.pauseAll(); }`)
}

func (p *pageBackedDOM) SetVolume(ctx context.Context, id int, volume float64) (bool, error) {
	return p.tab.EvalBool(ctx, `(id, v) => window.__tabvol.setVolume(id, v)`, id, volume)
}

func (p *pageBackedDOM) SetCurrentTime(ctx context.Context, id int, seconds float64) (bool, error) {
	return p.tab.EvalBool(ctx, `(id, s) => window.__tabvol.setCurrentTime(id, s)`, id, seconds)
}

func (p *pageBackedDOM) Focus(ctx context.Context, id int) (bool, error) {
	return p.tab.EvalBool(ctx, `(id) => window.__tabvol.focus(id)`, id)
}

func (p *pageBackedDOM) SetTabMuted(ctx context.Context, muted bool) error {
	return p.tab.Run(ctx, `(m) => { window.__tabvol.setTabMuted(m); }`, muted)
}

func (p *pageBackedDOM) ApplyPending(ctx context.Context, token int, volume float64) (bool, error) {
	return p.tab.EvalBool(ctx, `(t, v) => window.__tabvol.applyPending(t, v)`, token, volume)
}

func (p *pageBackedDOM) Meta(ctx context.Context) (tabMeta, error) {
	raw, err := p.tab.EvalString(ctx, `() => window.__tabvol.meta()`)
	if err != nil {
		return tabMeta{}, err
	}
	var m tabMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return tabMeta{}, fmt.Errorf("agent: parse meta: %w", err)
	}
	return m, nil
}

// listenEnforce subscribes to enforcement tokens raised by the page
// script and resolves each one against the background store. The event
// wait loop blocks until the page context ends, so it runs on its own
// goroutine; the call itself returns once the subscription is armed.
func (a *Agent) listenEnforce(ctx context.Context, tab *browser.Tab) {
	wait := tab.Page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		a.handleBindingRaised(ctx, e.Name, e.Payload)
	})
	go wait()
}

// handleBindingRaised filters and decodes one raised binding event and
// kicks off the enforcement round-trip.
func (a *Agent) handleBindingRaised(ctx context.Context, name, payload string) {
	if name != bindingName {
		return
	}
	var ev struct {
		Token int `json:"token"`
	}
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		a.logger.Debug("agent: bad enforcement payload", "tab", a.tabID, "error", err)
		return
	}
	go a.enforce(ctx, ev.Token)
}
