package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/karune/tabvol/bridge"
	"github.com/karune/tabvol/tabagent"
	_ "modernc.org/sqlite"
)

func testServer(t *testing.T) (*Panel, *fakeAgent, *fakeTabs, http.Handler) {
	t.Helper()
	r := bridge.New()
	newStore(t, r)
	a := newFakeAgent("t1", desc(1, 0.8))
	a.register(r)
	tabs := &fakeTabs{infos: []tabagent.TabInfo{{ID: "t1", URL: "https://news.example/"}}}

	p := New(Config{Router: r, Tabs: tabs})
	p.Refresh(context.Background())
	return p, a, tabs, p.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPView(t *testing.T) {
	_, _, _, h := testServer(t)

	rec := do(t, h, http.MethodGet, "/api/view", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var v View
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if len(v.Sites) != 1 || v.Sites[0].Host != "news.example" {
		t.Fatalf("view sites = %+v, want news.example", v.Sites)
	}
}

func TestHTTPSiteVolume(t *testing.T) {
	_, a, _, h := testServer(t)

	rec := do(t, h, http.MethodPost, "/api/sites/news.example/volume", `{"volume":0.3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := a.volume(1); got != 0.3 {
		t.Errorf("agent volume = %v, want 0.3", got)
	}
}

func TestHTTPMediaActions(t *testing.T) {
	_, a, _, h := testServer(t)

	rec := do(t, h, http.MethodPost, "/api/tabs/t1/media/1/pause", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	a.mu.Lock()
	paused := len(a.paused)
	a.mu.Unlock()
	if paused != 1 {
		t.Errorf("pause reached %d elements, want 1", paused)
	}

	if rec := do(t, h, http.MethodPost, "/api/tabs/t1/media/zero/pause", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad media id: status = %d, want 400", rec.Code)
	}
}

func TestHTTPSeekPatchesView(t *testing.T) {
	p, _, _, h := testServer(t)

	rec := do(t, h, http.MethodPost, "/api/tabs/t1/media/1/seek", `{"seconds":42}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("seek status = %d, body %s", rec.Code, rec.Body)
	}

	v := p.View()
	if got := v.Sites[0].Tabs[0].Media[0].CurrentTime; got != 42 {
		t.Errorf("optimistic elapsed patch = %v, want 42", got)
	}
}

func TestHTTPUnknownTab(t *testing.T) {
	_, _, _, h := testServer(t)

	rec := do(t, h, http.MethodPost, "/api/tabs/no-such-tab/pause-all", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown tab: status = %d, want 404", rec.Code)
	}
}

func TestHTTPFocusActivatesTab(t *testing.T) {
	_, _, tabs, h := testServer(t)

	rec := do(t, h, http.MethodPost, "/api/tabs/t1/media/1/focus", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("focus status = %d", rec.Code)
	}
	tabs.mu.Lock()
	activated := len(tabs.activated)
	tabs.mu.Unlock()
	if activated != 1 {
		t.Error("focus must activate the tab first")
	}
}

func TestHTTPInteraction(t *testing.T) {
	p, _, _, h := testServer(t)

	if rec := do(t, h, http.MethodPost, "/api/interaction/begin", ""); rec.Code != http.StatusOK {
		t.Fatalf("begin status = %d", rec.Code)
	}
	p.mu.Lock()
	st := p.state
	p.mu.Unlock()
	if st != stateInteracting {
		t.Error("begin must enter the interacting state")
	}

	if rec := do(t, h, http.MethodPost, "/api/interaction/end", ""); rec.Code != http.StatusOK {
		t.Fatalf("end status = %d", rec.Code)
	}
}
