package table

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Button is a one-shot trigger for one action of an instance
type Button struct {
	Name     string `json:"name"`
	UniqueID string `json:"unique_id"`
	Service  string `json:"service"`
	Action   string `json:"action"`

	label    string
	instance *Instance
}

func newButton(inst *Instance, label, suffix, action string) *Button {
	return &Button{
		Name:     fmt.Sprintf("%s (%s)", label, inst.device.Title),
		UniqueID: fmt.Sprintf("duneweaver_%s_%s", inst.device.ID, suffix),
		Service:  fmt.Sprintf("%s_%s", action, inst.device.ID),
		Action:   action,
		label:    label,
		instance: inst,
	}
}

// Press calls the button's service without waiting for it to finish.
// The call outlives ctx cancellation; failures are logged and notified.
// Presses after Unload are dropped.
func (b *Button) Press(ctx context.Context) {
	inst := b.instance
	if !inst.track() {
		inst.logger.Warn(fmt.Sprintf("'%s' button pressed after unload. Ignoring.", b.label),
			zap.String("service", b.Service))
		return
	}
	inst.logger.Info(fmt.Sprintf("'%s' button pressed. Calling service.", b.label),
		zap.String("service", b.Service))

	callCtx := context.WithoutCancel(ctx)
	go func() {
		defer inst.inflight.Done()
		inst.call(callCtx, b.Action, b.label)
	}()
}
