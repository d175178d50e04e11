// Package media defines the wire types exchanged between the tab agents,
// the site-volume store, and the control panel: per-element descriptors,
// per-tab snapshots, and hostname-keyed site groups.
//
// Descriptor IDs are scan ordinals. They are rebuilt from scratch on every
// scan and carry no identity across scans; a command referencing an ID from
// a previous scan resolves against the current registry and silently no-ops
// when absent. Consumers must not cache IDs across query cycles.
package media

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
)

// Kind distinguishes audio from video elements.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// NonFinite encodes Infinity/NaN durations and positions on the wire,
// since JSON cannot carry non-finite numbers. Live streams report it as
// their duration.
const NonFinite float64 = -1

// Descriptor is one playable element's transient state as reported by a
// tab agent. The JSON tags are the wire contract with the injected
// scanner script.
type Descriptor struct {
	ID            int     `json:"id"` // 1-based scan ordinal, unstable across scans
	Kind          Kind    `json:"kind"`
	Playing       bool    `json:"playing"`
	Muted         bool    `json:"muted"`
	CurrentTime   float64 `json:"current_time"` // seconds, NonFinite for live
	Duration      float64 `json:"duration"`     // seconds, NonFinite for live
	Volume        float64 `json:"volume"`       // [0,1]
	Visible       bool    `json:"visible"`
	Thumbnail     string  `json:"thumbnail,omitempty"` // data URL, best effort
	Color         string  `json:"color,omitempty"`
	ContrastColor string  `json:"contrast_color,omitempty"`
}

// Live reports whether the descriptor represents a stream without a
// finite duration.
func (d Descriptor) Live() bool {
	return d.Duration == NonFinite
}

// TabSnapshot pairs a tab's metadata with its current ordered media list.
type TabSnapshot struct {
	TabID   string       `json:"tab_id"`
	URL     string       `json:"url"`
	Title   string       `json:"title"`
	Favicon string       `json:"favicon,omitempty"`
	Muted   bool         `json:"muted"`
	Active  bool         `json:"active"`
	Media   []Descriptor `json:"media"`
}

// Host returns the snapshot's site identity, or "" for unparseable URLs.
func (t TabSnapshot) Host() string {
	return Hostname(t.URL)
}

// SiteGroup is an ordered list of tab snapshots sharing one hostname.
type SiteGroup struct {
	Host string        `json:"host"`
	Tabs []TabSnapshot `json:"tabs"`
}

// Hostname extracts the site identity from a raw URL. Case is preserved
// exactly as URL parsing produces it; the empty string marks a URL with
// no usable host.
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// ClampVolume bounds v to [0,1]. NaN clamps to 0.
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SameVolume compares two volumes at 2-decimal precision. Enforcement uses
// this to avoid floating-point churn when reapplying locked volumes.
func SameVolume(a, b float64) bool {
	return math.Round(a*100) == math.Round(b*100)
}

// EncodeSeconds maps a DOM time value to its wire form: non-finite values
// become NonFinite.
func EncodeSeconds(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NonFinite
	}
	return v
}

// MarshalDescriptors serialises a scan result.
func MarshalDescriptors(ds []Descriptor) ([]byte, error) {
	data, err := json.Marshal(ds)
	if err != nil {
		return nil, fmt.Errorf("media: marshal descriptors: %w", err)
	}
	return data, nil
}

// UnmarshalDescriptors parses a scan result.
func UnmarshalDescriptors(data []byte) ([]Descriptor, error) {
	var ds []Descriptor
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("media: unmarshal descriptors: %w", err)
	}
	return ds, nil
}
