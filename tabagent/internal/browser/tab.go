package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps a rod page with the evaluation helpers the agent needs.
type Tab struct {
	Page     *rod.Page
	TargetID string
}

// Attach wraps an existing page.
func Attach(page *rod.Page) *Tab {
	return &Tab{
		Page:     page,
		TargetID: string(page.TargetID),
	}
}

// Info returns the tab's current target metadata (URL, title).
func (t *Tab) Info(ctx context.Context) (*proto.TargetTargetInfo, error) {
	info, err := t.Page.Context(ctx).Info()
	if err != nil {
		return nil, fmt.Errorf("browser: tab info: %w", err)
	}
	return info, nil
}

// EvalString evaluates js (which must return a string) in the page.
func (t *Tab) EvalString(ctx context.Context, js string, args ...interface{}) (string, error) {
	res, err := t.Page.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Str(), nil
}

// EvalBool evaluates js (which must return a boolean) in the page.
func (t *Tab) EvalBool(ctx context.Context, js string, args ...interface{}) (bool, error) {
	res, err := t.Page.Context(ctx).Eval(js, args...)
	if err != nil {
		return false, fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Bool(), nil
}

// Run evaluates js for its side effects only.
func (t *Tab) Run(ctx context.Context, js string, args ...interface{}) error {
	if _, err := t.Page.Context(ctx).Eval(js, args...); err != nil {
		return fmt.Errorf("browser: eval: %w", err)
	}
	return nil
}

// Activate brings the tab to the foreground.
func (t *Tab) Activate(ctx context.Context) error {
	if _, err := t.Page.Context(ctx).Activate(); err != nil {
		return fmt.Errorf("browser: activate: %w", err)
	}
	return nil
}

// AddBinding exposes a named browser-side binding the page script can call
// to reach the Go listener.
func (t *Tab) AddBinding(ctx context.Context, name string) error {
	return proto.RuntimeAddBinding{Name: name}.Call(t.Page.Context(ctx))
}

// ApplyStealth installs automation-detection countermeasures that run
// before any page script on the tab's future navigations. Sites that
// refuse playback to automated browsers otherwise break volume control.
func (t *Tab) ApplyStealth() error {
	if _, err := t.Page.EvalOnNewDocument(stealth.JS); err != nil {
		return fmt.Errorf("browser: apply stealth: %w", err)
	}
	return nil
}
