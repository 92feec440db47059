// Package table sets up configured sand tables: it registers their services,
// creates their buttons and schedules optional automatic runs.
package table

import (
	"context"
	"fmt"
	"sync"
	"time"

	"duneweaver/internal/clock"
	"duneweaver/internal/config"
	"duneweaver/internal/duneweaver"
	"duneweaver/internal/metrics"
	"duneweaver/internal/patterns"
	"duneweaver/internal/schedule"
	"duneweaver/pkg/service"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Notifier surfaces failures of fire-and-forget actions to the user
type Notifier interface {
	Notify(title, message string) error
}

// Deps carries the shared dependencies every instance is built from
type Deps struct {
	Registry *service.Registry
	Schedule patterns.ScheduleSource
	Resolver *schedule.Resolver
	Clock    clock.Clock
	Location *time.Location
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Notifier Notifier
	ReadOnly bool
}

// ActionRecord is the result of the most recent action on a table
type ActionRecord struct {
	Outcome patterns.Outcome `json:"outcome"`
	Error   string           `json:"error,omitempty"`
}

// Instance is one set-up table
type Instance struct {
	device       config.Device
	deps         *Deps
	orchestrator *patterns.Orchestrator
	logger       *zap.Logger
	buttons      []*Button
	cron         *cron.Cron

	inflightMu sync.Mutex
	inflight   sync.WaitGroup
	unloaded   bool

	lastMu sync.RWMutex
	last   *ActionRecord
}

// Setup connects to the table over HTTP and registers its services
func Setup(device config.Device, deps *Deps) (*Instance, error) {
	client := duneweaver.NewClient(device.Host, device.Port, deps.Logger)
	return NewInstance(device, client, deps)
}

// NewInstance registers services for a table reached through dev
func NewInstance(device config.Device, dev patterns.Device, deps *Deps) (*Instance, error) {
	logger := deps.Logger.Named("table").With(zap.String("device", device.ID))

	selector := patterns.NewSelector(dev, device.ID, deps.Logger, deps.Metrics, deps.ReadOnly)
	orchestrator := patterns.NewOrchestrator(selector, deps.Schedule, deps.Resolver, deps.Clock, deps.Location, deps.Logger, deps.Metrics)

	inst := &Instance{
		device:       device,
		deps:         deps,
		orchestrator: orchestrator,
		logger:       logger,
	}

	handlers := map[string]service.Handler{
		service.ActionRunRandomPattern:  inst.recorded(orchestrator.RunRandom),
		service.ActionRunFittingPattern: inst.recorded(orchestrator.RunFitting),
	}
	for action, handler := range handlers {
		if err := deps.Registry.Register(device.ID, action, handler); err != nil {
			deps.Registry.UnregisterInstance(device.ID)
			return nil, fmt.Errorf("failed to register %s: %w", action, err)
		}
	}

	inst.buttons = []*Button{
		newButton(inst, "Run Random Pattern", "run_random", service.ActionRunRandomPattern),
		newButton(inst, "Run Fitting Pattern", "run_fitting", service.ActionRunFittingPattern),
	}

	if device.AutoRun != "" {
		if err := inst.startAutoRun(device.AutoRun); err != nil {
			deps.Registry.UnregisterInstance(device.ID)
			return nil, err
		}
	}

	logger.Info("Table set up",
		zap.String("title", device.Title),
		zap.String("host", device.Host),
		zap.Int("port", device.Port))
	return inst, nil
}

// recorded wraps a handler so its result becomes the instance's last action
func (i *Instance) recorded(h service.Handler) service.Handler {
	return func(ctx context.Context) (patterns.Outcome, error) {
		outcome, err := h(ctx)

		record := &ActionRecord{Outcome: outcome}
		if err != nil {
			record.Error = err.Error()
		}
		i.lastMu.Lock()
		i.last = record
		i.lastMu.Unlock()

		return outcome, err
	}
}

// LastAction returns the most recent action result, if any
func (i *Instance) LastAction() (ActionRecord, bool) {
	i.lastMu.RLock()
	defer i.lastMu.RUnlock()
	if i.last == nil {
		return ActionRecord{}, false
	}
	return *i.last, true
}

// startAutoRun schedules the fitting action on a cron expression
func (i *Instance) startAutoRun(expr string) error {
	loc := i.deps.Location
	if loc == nil {
		loc = time.Local
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(i.logger))),
	)

	_, err := c.AddFunc(expr, func() {
		i.logger.Info("Auto-run triggered", zap.String("schedule", expr))
		i.call(context.Background(), service.ActionRunFittingPattern, "Auto-run")
	})
	if err != nil {
		return fmt.Errorf("invalid auto_run %q: %w", expr, err)
	}

	c.Start()
	i.cron = c
	i.logger.Info("Auto-run scheduled", zap.String("schedule", expr))
	return nil
}

// call invokes a registered action and reports a failed run through the notifier
func (i *Instance) call(ctx context.Context, action, trigger string) {
	outcome, err := i.deps.Registry.Call(ctx, i.device.ID, action)
	if err != nil {
		i.logger.Error("Action failed",
			zap.String("action", action),
			zap.String("trigger", trigger),
			zap.Error(err))
		i.notify(trigger, err)
		return
	}

	i.logger.Debug("Action finished",
		zap.String("action", action),
		zap.String("trigger", trigger),
		zap.String("stage", string(outcome.Stage)),
		zap.String("pattern", outcome.Pattern))
}

func (i *Instance) notify(trigger string, err error) {
	if i.deps.Notifier == nil {
		return
	}

	title := fmt.Sprintf("Dune Weaver: %s failed", trigger)
	message := fmt.Sprintf("%s: %v", i.device.Title, err)
	if nerr := i.deps.Notifier.Notify(title, message); nerr != nil {
		i.logger.Warn("Failed to send notification", zap.Error(nerr))
	}
}

// ID returns the instance identifier
func (i *Instance) ID() string {
	return i.device.ID
}

// Device returns the table's configuration
func (i *Instance) Device() config.Device {
	return i.device
}

// Buttons returns the instance's trigger controls
func (i *Instance) Buttons() []*Button {
	return i.buttons
}

// ActivePlaylist resolves the scheduled playlist for day
func (i *Instance) ActivePlaylist(day time.Time) (string, bool) {
	return i.orchestrator.ActivePlaylist(day)
}

// track adds a background action to the in-flight set. It reports false once
// the instance is unloaded.
func (i *Instance) track() bool {
	i.inflightMu.Lock()
	defer i.inflightMu.Unlock()
	if i.unloaded {
		return false
	}
	i.inflight.Add(1)
	return true
}

// Unload removes the instance's services, stops auto-run and waits for
// presses still in flight.
func (i *Instance) Unload() {
	removed := i.deps.Registry.UnregisterInstance(i.device.ID)

	if i.cron != nil {
		<-i.cron.Stop().Done()
	}

	i.inflightMu.Lock()
	i.unloaded = true
	i.inflightMu.Unlock()

	i.inflight.Wait()
	i.logger.Info("Table unloaded", zap.Int("services_removed", removed))
}
