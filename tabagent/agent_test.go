package tabagent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/karune/tabvol/bridge"
	"github.com/karune/tabvol/dbopen"
	"github.com/karune/tabvol/media"
	"github.com/karune/tabvol/sitevol"
	_ "modernc.org/sqlite"
)

// fakeDOM simulates the page-side registry. Enforcement arrives on its
// own goroutine, so the pending fields are mutex-guarded.
type fakeDOM struct {
	mu      sync.Mutex
	raws    []rawElement
	actions []string // one entry per element an action reached
	volumes map[int]float64
	seekErr bool
	meta    tabMeta

	pendingVol   float64 // last ApplyPending volume
	pendingToken int
}

func newFakeDOM(raws ...rawElement) *fakeDOM {
	return &fakeDOM{raws: raws, volumes: make(map[int]float64), pendingVol: -2}
}

func (f *fakeDOM) has(id int) bool {
	for _, r := range f.raws {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeDOM) Scan(ctx context.Context) ([]rawElement, error) { return f.raws, nil }

func (f *fakeDOM) Apply(ctx context.Context, action string, ids []int) error {
	for _, id := range ids {
		if !f.has(id) {
			continue // stale id: silent no-op
		}
		f.actions = append(f.actions, action)
	}
	return nil
}

func (f *fakeDOM) PauseAll(ctx context.Context) error {
	f.actions = append(f.actions, "pauseAll")
	return nil
}

func (f *fakeDOM) SetVolume(ctx context.Context, id int, v float64) (bool, error) {
	if !f.has(id) {
		return false, nil
	}
	f.volumes[id] = v
	return true, nil
}

func (f *fakeDOM) SetCurrentTime(ctx context.Context, id int, s float64) (bool, error) {
	if f.seekErr || !f.has(id) {
		return false, nil
	}
	return true, nil
}

func (f *fakeDOM) Focus(ctx context.Context, id int) (bool, error) {
	return f.has(id), nil
}

func (f *fakeDOM) SetTabMuted(ctx context.Context, muted bool) error { return nil }

func (f *fakeDOM) ApplyPending(ctx context.Context, token int, v float64) (bool, error) {
	f.mu.Lock()
	f.pendingToken = token
	f.pendingVol = v
	f.mu.Unlock()
	return v >= 0, nil
}

// pending returns the last ApplyPending token and volume.
func (f *fakeDOM) pending() (int, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingToken, f.pendingVol
}

func (f *fakeDOM) Meta(ctx context.Context) (tabMeta, error) { return f.meta, nil }

func testAgent(t *testing.T, dom pageDOM, host string) (*Agent, *bridge.Router) {
	t.Helper()
	r := bridge.New()
	a := newAgent("tab-1", host, dom, r, ScanOptions{}, nil)
	a.registerBridge()
	return a, r
}

func TestQuerySelects(t *testing.T) {
	dom := newFakeDOM(
		video(1, false, true),
		video(2, true, false),
	)
	a, _ := testAgent(t, dom, "example.com")

	ds, err := a.Query(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(ds))
	}
	if ds[0].ID != 2 || !ds[0].Playing {
		t.Errorf("playing element first, got %+v", ds[0])
	}
}

func TestStaleIDsSilentlySkipped(t *testing.T) {
	dom := newFakeDOM(video(1, true, true))
	a, _ := testAgent(t, dom, "example.com")
	ctx := context.Background()

	ack, err := a.Pause(ctx, []int{1, 99})
	if err != nil {
		t.Fatal(err)
	}
	if ack != "play" {
		t.Errorf("ack = %q, want inverse label play", ack)
	}
	if len(dom.actions) != 1 {
		t.Errorf("exactly one element should be paused, got %v", dom.actions)
	}

	if a.SetVolume(ctx, 99, 0.5) {
		t.Error("stale id volume set should report false")
	}
	if a.Focus(ctx, 99) {
		t.Error("stale id focus should report false")
	}
}

func TestInverseAckLabels(t *testing.T) {
	dom := newFakeDOM(video(1, false, true))
	a, _ := testAgent(t, dom, "example.com")
	ctx := context.Background()

	tests := []struct {
		fn   func(context.Context, []int) (string, error)
		want string
	}{
		{a.Play, "pause"},
		{a.Pause, "play"},
		{a.Mute, "unmute"},
		{a.Unmute, "mute"},
	}
	for _, tt := range tests {
		ack, err := tt.fn(ctx, []int{1})
		if err != nil {
			t.Fatal(err)
		}
		if ack != tt.want {
			t.Errorf("ack = %q, want %q", ack, tt.want)
		}
	}
}

func TestBridgeQueryRoundtrip(t *testing.T) {
	dom := newFakeDOM(video(1, true, true))
	_, r := testAgent(t, dom, "example.com")

	raw, err := r.Call(context.Background(), "tab-1", bridge.CmdQuery, nil)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := media.UnmarshalDescriptors(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || ds[0].ID != 1 {
		t.Fatalf("descriptors = %+v", ds)
	}
}

func TestBridgeVolumeCommand(t *testing.T) {
	dom := newFakeDOM(video(1, true, true))
	_, r := testAgent(t, dom, "example.com")

	req, _ := json.Marshal(VolumeRequest{ID: 1, Volume: 0.3})
	raw, err := r.Call(context.Background(), "tab-1", bridge.CmdVolume, req)
	if err != nil {
		t.Fatal(err)
	}
	var resp BoolResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Ok {
		t.Fatal("volume set should succeed")
	}
	if dom.volumes[1] != 0.3 {
		t.Errorf("element volume = %v, want 0.3", dom.volumes[1])
	}
}

func TestEnforceAppliesLockedVolume(t *testing.T) {
	dom := newFakeDOM(video(1, true, true))
	r := bridge.New()

	store := sitevol.NewWithDB(dbopen.OpenMemory(t, dbopen.WithSchema(sitevol.Schema)), nil)
	store.RegisterBridge(r)
	ctx := context.Background()
	store.Set(ctx, "example.com", 0.25)

	a := newAgent("tab-1", "example.com", dom, r, ScanOptions{}, nil)
	a.enforce(ctx, 7)

	token, vol := dom.pending()
	if token != 7 {
		t.Errorf("token = %d, want 7", token)
	}
	if vol != 0.25 {
		t.Errorf("enforced volume = %v, want 0.25", vol)
	}
}

func TestEnforceDiscardsWithoutLock(t *testing.T) {
	dom := newFakeDOM(video(1, true, true))
	r := bridge.New()

	store := sitevol.NewWithDB(dbopen.OpenMemory(t, dbopen.WithSchema(sitevol.Schema)), nil)
	store.RegisterBridge(r)

	a := newAgent("tab-1", "never-locked.example", dom, r, ScanOptions{}, nil)
	a.enforce(context.Background(), 3)

	if _, vol := dom.pending(); vol >= 0 {
		t.Errorf("no lock: pending must be discarded, got vol %v", vol)
	}
}

func TestEnforceSurvivesMissingBackground(t *testing.T) {
	dom := newFakeDOM(video(1, true, true))
	r := bridge.New() // no background registered

	a := newAgent("tab-1", "example.com", dom, r, ScanOptions{}, nil)
	a.enforce(context.Background(), 1) // must not panic

	if _, vol := dom.pending(); vol >= 0 {
		t.Error("unavailable background must discard the pending token")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestBindingRaisedDispatchesEnforcement(t *testing.T) {
	dom := newFakeDOM(video(1, true, true))
	r := bridge.New()

	store := sitevol.NewWithDB(dbopen.OpenMemory(t, dbopen.WithSchema(sitevol.Schema)), nil)
	store.RegisterBridge(r)
	ctx := context.Background()
	store.Set(ctx, "example.com", 0.4)

	a := newAgent("tab-1", "example.com", dom, r, ScanOptions{}, nil)

	// The binding callback must return immediately; the enforcement
	// round-trip runs on its own goroutine.
	done := make(chan struct{})
	go func() {
		a.handleBindingRaised(ctx, bindingName, `{"token":5}`)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("binding dispatch blocked")
	}

	waitFor(t, func() bool {
		token, vol := dom.pending()
		return token == 5 && vol == 0.4
	})
}

func TestBindingRaisedFiltersNameAndPayload(t *testing.T) {
	dom := newFakeDOM(video(1, true, true))
	r := bridge.New()

	store := sitevol.NewWithDB(dbopen.OpenMemory(t, dbopen.WithSchema(sitevol.Schema)), nil)
	store.RegisterBridge(r)
	ctx := context.Background()
	store.Set(ctx, "example.com", 0.4)

	a := newAgent("tab-1", "example.com", dom, r, ScanOptions{}, nil)

	a.handleBindingRaised(ctx, "someOtherBinding", `{"token":9}`)
	a.handleBindingRaised(ctx, bindingName, `not json`) // must not panic

	time.Sleep(50 * time.Millisecond)
	if token, _ := dom.pending(); token != 0 {
		t.Errorf("filtered events must not reach the page, got token %d", token)
	}
}

// errDOM fails every operation, standing in for a navigated-away page.
type errDOM struct{}

var errGone = errors.New("execution context destroyed")

func (errDOM) Scan(context.Context) ([]rawElement, error)            { return nil, errGone }
func (errDOM) Apply(context.Context, string, []int) error            { return errGone }
func (errDOM) PauseAll(context.Context) error                        { return errGone }
func (errDOM) SetVolume(context.Context, int, float64) (bool, error) { return false, errGone }
func (errDOM) SetCurrentTime(context.Context, int, float64) (bool, error) {
	return false, errGone
}
func (errDOM) Focus(context.Context, int) (bool, error)              { return false, errGone }
func (errDOM) SetTabMuted(context.Context, bool) error               { return errGone }
func (errDOM) ApplyPending(context.Context, int, float64) (bool, error) {
	return false, errGone
}
func (errDOM) Meta(context.Context) (tabMeta, error) { return tabMeta{}, errGone }

func TestSettersReportFalseOnDOMFailure(t *testing.T) {
	a, _ := testAgent(t, errDOM{}, "example.com")
	ctx := context.Background()

	if a.SetVolume(ctx, 1, 0.5) {
		t.Error("SetVolume must report false when the page is gone")
	}
	if a.SetCurrentTime(ctx, 1, 10) {
		t.Error("SetCurrentTime must report false when the page is gone")
	}
	if a.Focus(ctx, 1) {
		t.Error("Focus must report false when the page is gone")
	}
}
