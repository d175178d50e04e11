package panel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/karune/tabvol/bridge"
)

// Handler builds the panel's HTTP API. All endpoints are local-only by
// deployment (the server binds a loopback address); there is no auth.
func (p *Panel) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/view", p.handleView)

		r.Post("/interaction/begin", p.handleInteractionBegin)
		r.Post("/interaction/end", p.handleInteractionEnd)

		r.Post("/sites/{host}/volume", p.handleSiteVolume)

		r.Route("/tabs/{tab}", func(r chi.Router) {
			r.Post("/media/{id}/play", p.mediaActionHandler("play"))
			r.Post("/media/{id}/pause", p.mediaActionHandler("pause"))
			r.Post("/media/{id}/mute", p.mediaActionHandler("mute"))
			r.Post("/media/{id}/unmute", p.mediaActionHandler("unmute"))
			r.Post("/media/{id}/seek", p.handleSeek)
			r.Post("/media/{id}/focus", p.handleFocus)

			r.Post("/pause-all", p.handlePauseAll)
			r.Post("/mute", p.tabMuteHandler(true))
			r.Post("/unmute", p.tabMuteHandler(false))
			r.Post("/activate", p.handleActivate)
		})
	})
	return r
}

func (p *Panel) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.View())
}

func (p *Panel) handleInteractionBegin(w http.ResponseWriter, r *http.Request) {
	p.BeginInteraction()
	writeOK(w)
}

func (p *Panel) handleInteractionEnd(w http.ResponseWriter, r *http.Request) {
	p.EndInteraction()
	writeOK(w)
}

func (p *Panel) handleSiteVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume float64 `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := p.SetSiteVolume(r.Context(), chi.URLParam(r, "host"), body.Volume); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w)
}

func (p *Panel) mediaActionHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tab, id, ok := mediaParams(w, r)
		if !ok {
			return
		}
		if err := p.MediaAction(r.Context(), tab, id, action); err != nil {
			writeBridgeError(w, err)
			return
		}
		writeOK(w)
	}
}

func (p *Panel) handleSeek(w http.ResponseWriter, r *http.Request) {
	tab, id, ok := mediaParams(w, r)
	if !ok {
		return
	}
	var body struct {
		Seconds float64 `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := p.Seek(r.Context(), tab, id, body.Seconds); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeOK(w)
}

func (p *Panel) handleFocus(w http.ResponseWriter, r *http.Request) {
	tab, id, ok := mediaParams(w, r)
	if !ok {
		return
	}
	if err := p.Focus(r.Context(), tab, id); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeOK(w)
}

func (p *Panel) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	if err := p.PauseAll(r.Context(), chi.URLParam(r, "tab")); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeOK(w)
}

func (p *Panel) tabMuteHandler(muted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.SetTabMuted(r.Context(), chi.URLParam(r, "tab"), muted); err != nil {
			writeBridgeError(w, err)
			return
		}
		writeOK(w)
	}
}

func (p *Panel) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := p.Activate(r.Context(), chi.URLParam(r, "tab")); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeOK(w)
}

func mediaParams(w http.ResponseWriter, r *http.Request) (tab string, id int, ok bool) {
	tab = chi.URLParam(r, "tab")
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid media id")
		return "", 0, false
	}
	return tab, id, true
}

func writeBridgeError(w http.ResponseWriter, err error) {
	var unavailable *bridge.ErrPeerUnavailable
	if errors.As(err, &unavailable) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode failures after WriteHeader have no recovery path.
	_ = json.NewEncoder(w).Encode(v)
}
