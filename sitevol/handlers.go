package sitevol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/karune/tabvol/bridge"
)

// GetRequest asks for one site's locked volume.
type GetRequest struct {
	Host string `json:"host"`
}

// GetResponse carries the volume, or Ok=false when the site has no lock.
type GetResponse struct {
	Volume float64 `json:"volume"`
	Ok     bool    `json:"ok"`
}

// AllResponse is the full table snapshot.
type AllResponse struct {
	Volumes map[string]float64 `json:"volumes"`
}

// SetRequest creates or overwrites a site lock. Fire-and-forget: the
// handler returns no body.
type SetRequest struct {
	Host   string  `json:"host"`
	Volume float64 `json:"volume"`
}

// RegisterBridge installs the background command handlers on the router.
func (s *Store) RegisterBridge(r *bridge.Router) {
	r.Register(bridge.Background, bridge.CmdGetVolume, s.handleGet)
	r.Register(bridge.Background, bridge.CmdGetAllVolumes, s.handleGetAll)
	r.Register(bridge.Background, bridge.CmdSetVolume, s.handleSet)
}

func (s *Store) handleGet(ctx context.Context, payload []byte) ([]byte, error) {
	var req GetRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("sitevol: getVolume: unmarshal: %w", err)
	}

	var resp GetResponse
	resp.Volume, resp.Ok = s.Get(req.Host)
	return json.Marshal(resp)
}

func (s *Store) handleGetAll(ctx context.Context, _ []byte) ([]byte, error) {
	return json.Marshal(AllResponse{Volumes: s.All()})
}

func (s *Store) handleSet(ctx context.Context, payload []byte) ([]byte, error) {
	var req SetRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("sitevol: setVolume: unmarshal: %w", err)
	}
	s.Set(ctx, req.Host, req.Volume)
	return nil, nil
}
