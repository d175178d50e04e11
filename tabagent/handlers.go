package tabagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/karune/tabvol/bridge"
	"github.com/karune/tabvol/media"
)

// IDsRequest references a set of elements in the current registry.
type IDsRequest struct {
	IDs []int `json:"ids"`
}

// VolumeRequest sets one element's volume.
type VolumeRequest struct {
	ID     int     `json:"id"`
	Volume float64 `json:"volume"`
}

// TimeRequest seeks one element.
type TimeRequest struct {
	ID          int     `json:"id"`
	CurrentTime float64 `json:"currentTime"`
}

// FocusRequest scrolls one element into view.
type FocusRequest struct {
	ID int `json:"id"`
}

// AckResponse carries the inverse-action label acknowledging a bulk
// command. Logging only; no correctness hangs on it.
type AckResponse struct {
	Ack string `json:"ack"`
}

// BoolResponse reports single-element setter success.
type BoolResponse struct {
	Ok bool `json:"ok"`
}

// registerBridge installs the agent's nine command handlers under its tab
// target ID.
func (a *Agent) registerBridge() {
	r := a.router
	id := a.tabID

	r.Register(id, bridge.CmdQuery, a.handleQuery)
	r.Register(id, bridge.CmdPlay, a.actionHandler(a.Play))
	r.Register(id, bridge.CmdPause, a.actionHandler(a.Pause))
	r.Register(id, bridge.CmdMute, a.actionHandler(a.Mute))
	r.Register(id, bridge.CmdUnmute, a.actionHandler(a.Unmute))
	r.Register(id, bridge.CmdPauseAll, a.handlePauseAll)
	r.Register(id, bridge.CmdVolume, a.handleVolume)
	r.Register(id, bridge.CmdCurrentTime, a.handleCurrentTime)
	r.Register(id, bridge.CmdFocus, a.handleFocus)
}

func (a *Agent) handleQuery(ctx context.Context, _ []byte) ([]byte, error) {
	ds, err := a.Query(ctx)
	if err != nil {
		return nil, err
	}
	return media.MarshalDescriptors(ds)
}

func (a *Agent) actionHandler(fn func(context.Context, []int) (string, error)) bridge.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req IDsRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("agent: ids: unmarshal: %w", err)
		}
		ack, err := fn(ctx, req.IDs)
		if err != nil {
			return nil, err
		}
		return json.Marshal(AckResponse{Ack: ack})
	}
}

func (a *Agent) handlePauseAll(ctx context.Context, _ []byte) ([]byte, error) {
	ack, err := a.PauseAll(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(AckResponse{Ack: ack})
}

func (a *Agent) handleVolume(ctx context.Context, payload []byte) ([]byte, error) {
	var req VolumeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("agent: volume: unmarshal: %w", err)
	}
	return json.Marshal(BoolResponse{Ok: a.SetVolume(ctx, req.ID, req.Volume)})
}

func (a *Agent) handleCurrentTime(ctx context.Context, payload []byte) ([]byte, error) {
	var req TimeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("agent: currentTime: unmarshal: %w", err)
	}
	return json.Marshal(BoolResponse{Ok: a.SetCurrentTime(ctx, req.ID, req.CurrentTime)})
}

func (a *Agent) handleFocus(ctx context.Context, payload []byte) ([]byte, error) {
	var req FocusRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("agent: focus: unmarshal: %w", err)
	}
	return json.Marshal(BoolResponse{Ok: a.Focus(ctx, req.ID)})
}
