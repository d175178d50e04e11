package tabagent

import (
	"strings"

	"github.com/karune/tabvol/media"
)

// rawElement is one media element as reported by the page-side scan, in
// document order, before selection. The JSON tags are the wire contract
// with agent.js.
type rawElement struct {
	ID            int        `json:"id"` // registry ordinal, 1-based
	Kind          media.Kind `json:"kind"`
	Playing       bool       `json:"playing"`
	Muted         bool       `json:"muted"`
	CurrentTime   float64    `json:"current_time"`
	Duration      float64    `json:"duration"` // -1 = non-finite (live)
	Volume        float64    `json:"volume"`
	ReadyState    int        `json:"ready_state"`
	Width         float64    `json:"width"`
	Height        float64    `json:"height"`
	Visible       bool       `json:"visible"`
	NearViewport  bool       `json:"near_viewport"`
	Thumbnail     string     `json:"thumbnail"`
	Color         string     `json:"color"`
	ContrastColor string     `json:"contrast_color"`
}

// ScanOptions tunes selection. Zero values fall back to the defaults of
// the scan: 3 visible, 1 off-screen.
type ScanOptions struct {
	VisibleLimit   int
	OffscreenLimit int
	ViewportMargin int // visibility margin around the viewport, px
	FeedHosts      []string
	FeedMinWidth   float64
	FeedMinHeight  float64
	FeedMargin     int // near-viewport margin for the feed heuristic, px
}

func (o *ScanOptions) defaults() {
	if o.VisibleLimit <= 0 {
		o.VisibleLimit = 3
	}
	if o.OffscreenLimit <= 0 {
		o.OffscreenLimit = 1
	}
	if o.ViewportMargin <= 0 {
		o.ViewportMargin = 100
	}
	if o.FeedMinWidth <= 0 {
		o.FeedMinWidth = 200
	}
	if o.FeedMinHeight <= 0 {
		o.FeedMinHeight = 200
	}
	if o.FeedMargin <= 0 {
		o.FeedMargin = 50
	}
}

// isFeedHost reports whether host is one of the configured video-heavy
// feed sites (exact match or subdomain).
func isFeedHost(host string, feeds []string) bool {
	for _, f := range feeds {
		if host == f || strings.HasSuffix(host, "."+f) {
			return true
		}
	}
	return false
}

// usable filters out elements without workable metadata: a zero ready
// state or a degenerate duration (0 or NaN). Infinite durations (live
// streams, encoded as -1 on the wire) pass.
func usable(r rawElement) bool {
	if r.ReadyState <= 0 {
		return false
	}
	return r.Duration > 0 || r.Duration == media.NonFinite
}

// selectElements applies the inclusion heuristics and the selection
// budget to a raw scan, preserving registry ordinals:
//
//   - on feed hosts, paused videos must have a minimum footprint and sit
//     substantially within the viewport; playing elements and audio
//     bypass the filter unconditionally;
//   - all playing elements are kept, then up to VisibleLimit additional
//     visible-or-audio elements, then at most OffscreenLimit off-screen
//     ones; playing entries come first, document order within groups.
func selectElements(raws []rawElement, host string, opts ScanOptions) []media.Descriptor {
	opts.defaults()
	feed := isFeedHost(host, opts.FeedHosts)

	var playing, visible, offscreen []rawElement
	for _, r := range raws {
		if !usable(r) {
			continue
		}

		if feed && r.Kind == media.KindVideo && !r.Playing {
			if r.Width < opts.FeedMinWidth || r.Height < opts.FeedMinHeight || !r.NearViewport {
				continue
			}
		}

		switch {
		case r.Playing:
			playing = append(playing, r)
		case r.Visible || r.Kind == media.KindAudio:
			if len(visible) < opts.VisibleLimit {
				visible = append(visible, r)
			}
		default:
			if len(offscreen) < opts.OffscreenLimit {
				offscreen = append(offscreen, r)
			}
		}
	}

	out := make([]media.Descriptor, 0, len(playing)+len(visible)+len(offscreen))
	for _, group := range [][]rawElement{playing, visible, offscreen} {
		for _, r := range group {
			out = append(out, toDescriptor(r))
		}
	}
	return out
}

func toDescriptor(r rawElement) media.Descriptor {
	return media.Descriptor{
		ID:            r.ID,
		Kind:          r.Kind,
		Playing:       r.Playing,
		Muted:         r.Muted,
		CurrentTime:   r.CurrentTime,
		Duration:      r.Duration,
		Volume:        r.Volume,
		Visible:       r.Visible,
		Thumbnail:     r.Thumbnail,
		Color:         r.Color,
		ContrastColor: r.ContrastColor,
	}
}
