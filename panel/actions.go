package panel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/karune/tabvol/bridge"
	"github.com/karune/tabvol/media"
	"github.com/karune/tabvol/sitevol"
	"github.com/karune/tabvol/tabagent"
)

// SetSiteVolume locks a site's volume: the store is updated, every known
// element of every tab under that site receives a volume command, and the
// local view is patched immediately so the UI does not wait for the next
// poll.
func (p *Panel) SetSiteVolume(ctx context.Context, host string, volume float64) error {
	if host == "" {
		return fmt.Errorf("panel: set volume: empty host")
	}
	volume = media.ClampVolume(volume)

	req, err := json.Marshal(sitevol.SetRequest{Host: host, Volume: volume})
	if err != nil {
		return fmt.Errorf("panel: set volume: marshal: %w", err)
	}
	p.router.Send(ctx, bridge.Background, bridge.CmdSetVolume, req)

	// Fan out to the site's known elements and patch the view in the
	// same pass.
	p.mu.Lock()
	p.view.Volumes[host] = volume
	for i, g := range p.view.Sites {
		if g.Host != host {
			continue
		}
		for j, t := range g.Tabs {
			for k, d := range t.Media {
				vreq, _ := json.Marshal(tabagent.VolumeRequest{ID: d.ID, Volume: volume})
				p.router.Send(ctx, t.TabID, bridge.CmdVolume, vreq)
				p.view.Sites[i].Tabs[j].Media[k].Volume = volume
			}
		}
	}
	p.view.Revision++
	p.mu.Unlock()
	return nil
}

// MediaAction runs one of play/pause/mute/unmute against a single element.
func (p *Panel) MediaAction(ctx context.Context, tabID string, id int, action string) error {
	var cmd string
	switch action {
	case "play":
		cmd = bridge.CmdPlay
	case "pause":
		cmd = bridge.CmdPause
	case "mute":
		cmd = bridge.CmdMute
	case "unmute":
		cmd = bridge.CmdUnmute
	default:
		return fmt.Errorf("panel: unknown media action %q", action)
	}

	req, _ := json.Marshal(tabagent.IDsRequest{IDs: []int{id}})
	if _, err := p.router.Call(ctx, tabID, cmd, req); err != nil {
		return err
	}
	return nil
}

// Seek moves one element's playback position and patches the elapsed
// label optimistically; the next poll confirms.
func (p *Panel) Seek(ctx context.Context, tabID string, id int, seconds float64) error {
	req, _ := json.Marshal(tabagent.TimeRequest{ID: id, CurrentTime: seconds})
	if _, err := p.router.Call(ctx, tabID, bridge.CmdCurrentTime, req); err != nil {
		return err
	}

	p.mu.Lock()
	for i, g := range p.view.Sites {
		for j, t := range g.Tabs {
			if t.TabID != tabID {
				continue
			}
			for k, d := range t.Media {
				if d.ID == id {
					p.view.Sites[i].Tabs[j].Media[k].CurrentTime = seconds
					p.view.Revision++
				}
			}
		}
	}
	p.mu.Unlock()
	return nil
}

// Focus activates the element's tab, then scrolls the element into view.
func (p *Panel) Focus(ctx context.Context, tabID string, id int) error {
	if err := p.tabs.Activate(ctx, tabID); err != nil {
		return err
	}
	req, _ := json.Marshal(tabagent.FocusRequest{ID: id})
	_, err := p.router.Call(ctx, tabID, bridge.CmdFocus, req)
	return err
}

// PauseAll pauses every tracked element in one tab.
func (p *Panel) PauseAll(ctx context.Context, tabID string) error {
	_, err := p.router.Call(ctx, tabID, bridge.CmdPauseAll, nil)
	return err
}

// SetTabMuted toggles a tab's tab-level mute.
func (p *Panel) SetTabMuted(ctx context.Context, tabID string, muted bool) error {
	return p.tabs.SetTabMuted(ctx, tabID, muted)
}

// Activate brings a tab to the foreground.
func (p *Panel) Activate(ctx context.Context, tabID string) error {
	return p.tabs.Activate(ctx, tabID)
}
