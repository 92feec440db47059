// Package patterns picks a pattern for a Dune Weaver table and starts it.
//
// Selector fetches candidates from the table and runs the chosen one.
// Orchestrator composes the selector with the playlist schedule into the
// "random" and "fitting" actions.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"duneweaver/internal/duneweaver"
	"duneweaver/internal/metrics"

	"go.uber.org/zap"
)

// NeutralPlaylist is tried when no scheduled playlist yields a pattern
const NeutralPlaylist = "Neutral"

// ErrRunFailed wraps every failure to start a pattern on the table
var ErrRunFailed = errors.New("failed to run pattern")

// Device is the part of the table API used for selection and playback
type Device interface {
	GetPlaylist(ctx context.Context, name string) (*duneweaver.Playlist, error)
	ListThetaRhoFiles(ctx context.Context) ([]string, error)
	RunThetaRho(ctx context.Context, fileName string) error
}

// Selector fetches and runs patterns on one table. Fetch methods never
// return errors: every failure is logged and reported as "no pattern" so
// callers can move on to the next source.
type Selector struct {
	device   Device
	name     string
	logger   *zap.Logger
	metrics  *metrics.Metrics
	readOnly bool
	intn     func(n int) int
}

// NewSelector creates a selector for a table. name labels logs and metrics.
func NewSelector(device Device, name string, logger *zap.Logger, m *metrics.Metrics, readOnly bool) *Selector {
	return &Selector{
		device:   device,
		name:     name,
		logger:   logger.Named("selector").With(zap.String("device", name)),
		metrics:  m,
		readOnly: readOnly,
		intn:     rand.Intn,
	}
}

// Name returns the table label
func (s *Selector) Name() string {
	return s.name
}

// ReadOnly reports whether Run only logs
func (s *Selector) ReadOnly() bool {
	return s.readOnly
}

// RandomFromPlaylist returns a random file from the named playlist
func (s *Selector) RandomFromPlaylist(ctx context.Context, name string) (string, bool) {
	playlist, err := s.device.GetPlaylist(ctx, name)
	if errors.Is(err, duneweaver.ErrPlaylistNotFound) {
		s.logger.Info("Playlist not found on table", zap.String("playlist", name))
		return "", false
	}
	if err != nil {
		s.logger.Error("Failed to get playlist",
			zap.String("playlist", name),
			zap.Error(err))
		s.metrics.ObserveFetchFailure(s.name, "playlist")
		return "", false
	}

	if len(playlist.Files) == 0 {
		s.logger.Warn("Playlist is empty", zap.String("playlist", name))
		return "", false
	}

	return s.pick(playlist.Files), true
}

// RandomFromAll returns a random file from the table's full catalog
func (s *Selector) RandomFromAll(ctx context.Context) (string, bool) {
	files, err := s.device.ListThetaRhoFiles(ctx)
	if err != nil {
		s.logger.Error("Failed to list patterns", zap.Error(err))
		s.metrics.ObserveFetchFailure(s.name, "catalog")
		return "", false
	}

	if len(files) == 0 {
		s.logger.Warn("No theta-rho files found on table")
		return "", false
	}

	return s.pick(files), true
}

// Run starts drawing pattern. Errors wrap ErrRunFailed.
func (s *Selector) Run(ctx context.Context, pattern string) error {
	if s.readOnly {
		s.logger.Info("READ-ONLY mode: would start pattern", zap.String("pattern", pattern))
		return nil
	}

	if err := s.device.RunThetaRho(ctx, pattern); err != nil {
		s.logger.Error("Failed to start pattern",
			zap.String("pattern", pattern),
			zap.Error(err))
		return fmt.Errorf("%w %q on %s: %w", ErrRunFailed, pattern, s.name, err)
	}

	s.logger.Info("Started pattern", zap.String("pattern", pattern))
	return nil
}

func (s *Selector) pick(files []string) string {
	return files[s.intn(len(files))]
}
