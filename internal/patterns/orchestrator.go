package patterns

import (
	"context"
	"time"

	"duneweaver/internal/clock"
	"duneweaver/internal/metrics"
	"duneweaver/internal/schedule"

	"go.uber.org/zap"
)

// Action names the two user-facing operations
type Action string

const (
	ActionRandom  Action = "random"
	ActionFitting Action = "fitting"
)

// Stage records which source supplied the pattern
type Stage string

const (
	StageActivePlaylist Stage = "active_playlist"
	StageNeutral        Stage = "neutral"
	StageAllPatterns    Stage = "all_patterns"
	StageNone           Stage = "none"
)

// Outcome describes one finished action. Stage is StageNone when every
// source came up empty and nothing was sent to the table.
type Outcome struct {
	Device         string    `json:"device"`
	Action         Action    `json:"action"`
	Stage          Stage     `json:"stage"`
	ActivePlaylist string    `json:"active_playlist,omitempty"`
	Pattern        string    `json:"pattern,omitempty"`
	DryRun         bool      `json:"dry_run,omitempty"`
	Time           time.Time `json:"time"`
}

// Ran reports whether a pattern was sent to the table
func (o Outcome) Ran() bool {
	return o.Stage != StageNone
}

// ScheduleSource provides the current schedule entries
type ScheduleSource interface {
	Load() ([]schedule.Entry, error)
}

// supplier is one lazily evaluated step of a fallback chain
type supplier struct {
	stage Stage
	fetch func(ctx context.Context) (string, bool)
}

// Orchestrator runs the random and fitting actions for one table
type Orchestrator struct {
	selector *Selector
	source   ScheduleSource
	resolver *schedule.Resolver
	clock    clock.Clock
	location *time.Location
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewOrchestrator wires a selector to the schedule. loc decides which
// calendar day "today" is; nil uses the clock's location.
func NewOrchestrator(
	selector *Selector,
	source ScheduleSource,
	resolver *schedule.Resolver,
	clk clock.Clock,
	loc *time.Location,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		selector: selector,
		source:   source,
		resolver: resolver,
		clock:    clk,
		location: loc,
		logger:   logger.Named("orchestrator").With(zap.String("device", selector.Name())),
		metrics:  m,
	}
}

// ActivePlaylist resolves the scheduled playlist for day. The schedule is
// read fresh; a missing or broken file means no special playlist.
func (o *Orchestrator) ActivePlaylist(day time.Time) (string, bool) {
	entries, err := o.source.Load()
	if err != nil {
		o.logger.Error("Could not load playlist schedule", zap.Error(err))
		return "", false
	}
	return o.resolver.ActivePlaylist(entries, clock.Today(day, o.location))
}

// RunRandom starts a random pattern from the full catalog
func (o *Orchestrator) RunRandom(ctx context.Context) (Outcome, error) {
	outcome := o.newOutcome(ActionRandom)

	outcome.Stage, outcome.Pattern = firstPattern(ctx, []supplier{
		{stage: StageAllPatterns, fetch: o.selector.RandomFromAll},
	})

	return o.finish(ctx, outcome)
}

// RunFitting starts a pattern that suits today: the scheduled playlist,
// then the Neutral playlist, then anything on the table.
func (o *Orchestrator) RunFitting(ctx context.Context) (Outcome, error) {
	outcome := o.newOutcome(ActionFitting)
	o.logger.Info("Determining fitting pattern")

	var chain []supplier
	if active, ok := o.ActivePlaylist(outcome.Time); ok {
		o.logger.Info("Active special playlist found", zap.String("playlist", active))
		outcome.ActivePlaylist = active
		chain = append(chain, supplier{
			stage: StageActivePlaylist,
			fetch: func(ctx context.Context) (string, bool) {
				return o.selector.RandomFromPlaylist(ctx, active)
			},
		})
	}

	chain = append(chain,
		supplier{
			stage: StageNeutral,
			fetch: func(ctx context.Context) (string, bool) {
				o.logger.Info("Trying fallback playlist", zap.String("playlist", NeutralPlaylist))
				return o.selector.RandomFromPlaylist(ctx, NeutralPlaylist)
			},
		},
		supplier{
			stage: StageAllPatterns,
			fetch: func(ctx context.Context) (string, bool) {
				o.logger.Info("Falling back to random pattern from all")
				return o.selector.RandomFromAll(ctx)
			},
		},
	)

	outcome.Stage, outcome.Pattern = firstPattern(ctx, chain)
	return o.finish(ctx, outcome)
}

func (o *Orchestrator) newOutcome(action Action) Outcome {
	return Outcome{
		Device: o.selector.Name(),
		Action: action,
		Stage:  StageNone,
		DryRun: o.selector.ReadOnly(),
		Time:   o.clock.Now(),
	}
}

// finish runs the chosen pattern. Only a failed run is returned as an error;
// an exhausted chain is logged and reported through Outcome.Stage.
func (o *Orchestrator) finish(ctx context.Context, outcome Outcome) (Outcome, error) {
	action := string(outcome.Action)

	if !outcome.Ran() {
		o.logger.Error("Could not find any pattern to run", zap.String("action", action))
		o.metrics.ObserveRun(outcome.Device, action, string(outcome.Stage), metrics.ResultNoPattern)
		return outcome, nil
	}

	if err := o.selector.Run(ctx, outcome.Pattern); err != nil {
		o.metrics.ObserveRun(outcome.Device, action, string(outcome.Stage), metrics.ResultFailed)
		return outcome, err
	}

	result := metrics.ResultStarted
	if outcome.DryRun {
		result = metrics.ResultDryRun
	}
	o.metrics.ObserveRun(outcome.Device, action, string(outcome.Stage), result)

	o.logger.Info("Pattern action complete",
		zap.String("action", action),
		zap.String("stage", string(outcome.Stage)),
		zap.String("pattern", outcome.Pattern))
	return outcome, nil
}

// firstPattern evaluates suppliers in order and stops at the first pattern
func firstPattern(ctx context.Context, chain []supplier) (Stage, string) {
	for _, s := range chain {
		if pattern, ok := s.fetch(ctx); ok {
			return s.stage, pattern
		}
	}
	return StageNone, ""
}
