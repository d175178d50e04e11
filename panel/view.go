package panel

import (
	"reflect"

	"github.com/karune/tabvol/media"
)

// View is the reconciled panel state served to the UI. Revision bumps
// only when the content changed, so a client re-rendering on revision
// never flickers through identical frames.
type View struct {
	Revision  int64              `json:"revision"`
	FocusMode bool               `json:"focus_mode"`
	Sites     []media.SiteGroup  `json:"sites"`
	Volumes   map[string]float64 `json:"volumes"`
	Err       string             `json:"error,omitempty"`
}

// clone copies the view deep enough that callers can mutate the result
// without racing the panel's own copy.
func (v View) clone() View {
	out := v
	out.Sites = make([]media.SiteGroup, len(v.Sites))
	for i, g := range v.Sites {
		tabs := make([]media.TabSnapshot, len(g.Tabs))
		for j, t := range g.Tabs {
			t.Media = append([]media.Descriptor(nil), t.Media...)
			tabs[j] = t
		}
		out.Sites[i] = media.SiteGroup{Host: g.Host, Tabs: tabs}
	}
	out.Volumes = make(map[string]float64, len(v.Volumes))
	for h, vol := range v.Volumes {
		out.Volumes[h] = vol
	}
	return out
}

// groupByHost buckets tab snapshots into site groups, hosts in discovery
// order, tabs in discovery order within each group.
func groupByHost(tabs []media.TabSnapshot) []media.SiteGroup {
	byHost := make(map[string]int)
	var groups []media.SiteGroup

	for _, t := range tabs {
		host := t.Host()
		if host == "" {
			continue
		}
		idx, ok := byHost[host]
		if !ok {
			idx = len(groups)
			byHost[host] = idx
			groups = append(groups, media.SiteGroup{Host: host})
		}
		groups[idx].Tabs = append(groups[idx].Tabs, t)
	}
	return groups
}

// reconcile merges a fresh refresh result into the previous view. Groups
// are keyed by hostname, tabs by target ID: sections present in both old
// and new keep their previous position, new sections append in discovery
// order, vanished sections drop. The revision advances only when
// something actually changed.
func reconcile(prev View, sites []media.SiteGroup, volumes map[string]float64, focusMode bool) View {
	next := View{
		Revision:  prev.Revision,
		FocusMode: focusMode,
		Sites:     reorder(prev.Sites, sites),
		Volumes:   volumes,
	}

	if prev.Err != "" ||
		prev.FocusMode != next.FocusMode ||
		!reflect.DeepEqual(prev.Sites, next.Sites) ||
		!reflect.DeepEqual(prev.Volumes, next.Volumes) {
		next.Revision++
	}
	return next
}

// reorder arranges the fresh site groups so that hosts surviving from the
// previous view keep their relative position; genuinely new hosts follow
// in discovery order.
func reorder(prev, fresh []media.SiteGroup) []media.SiteGroup {
	byHost := make(map[string]media.SiteGroup, len(fresh))
	for _, g := range fresh {
		byHost[g.Host] = g
	}

	out := make([]media.SiteGroup, 0, len(fresh))
	for _, g := range prev {
		if ng, ok := byHost[g.Host]; ok {
			out = append(out, ng)
			delete(byHost, g.Host)
		}
	}
	for _, g := range fresh {
		if _, ok := byHost[g.Host]; ok {
			out = append(out, g)
			delete(byHost, g.Host)
		}
	}
	return out
}
