package differ

import (
	"errors"
	"fmt"
	"time"

	"github.com/defistate/microswap/engine"
	"github.com/prometheus/client_golang/prometheus"
)

// ApplicationDiffer returns the diff from old to new. old is nil for an
// application that was not present in the previous state.
type ApplicationDiffer func(old, new any) (diff any, err error)

// emptiable is implemented by diffs that can report that nothing changed.
type emptiable interface {
	IsEmpty() bool
}

// StateDifferConfig holds all the individual differ functions and dependencies.
type StateDifferConfig struct {
	// One differ per schema (data contract), not per application identity.
	ApplicationDiffers map[engine.ApplicationSchema]ApplicationDiffer
	Registry           prometheus.Registerer
	Logger             Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *StateDifferConfig) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	for schema, d := range c.ApplicationDiffers {
		if d == nil {
			return fmt.Errorf("config: nil differ for schema %q", schema)
		}
	}
	return nil
}

// StateDiffer computes block-to-block diffs of chain states.
type StateDiffer struct {
	metrics *Metrics
	logger  Logger
	differs map[engine.ApplicationSchema]ApplicationDiffer
}

// NewStateDiffer constructs a new differ from a configuration, returning an error if the config is invalid.
func NewStateDiffer(cfg *StateDifferConfig) (*StateDiffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	differs := make(map[engine.ApplicationSchema]ApplicationDiffer, len(cfg.ApplicationDiffers))
	for schema, d := range cfg.ApplicationDiffers {
		differs[schema] = d
	}

	return &StateDiffer{
		metrics: NewMetrics(cfg.Registry),
		logger:  cfg.Logger,
		differs: differs,
	}, nil
}

// Diff compares two error-free states of the same chain. Applications whose
// view did not change are left out of the result.
func (d *StateDiffer) Diff(old, new *engine.State) (*StateDiff, error) {
	totalTimer := prometheus.NewTimer(d.metrics.diffDuration.WithLabelValues())
	defer totalTimer.ObserveDuration()

	if old.HasErrors() || new.HasErrors() {
		return nil, errors.New("differ: received state with application errors")
	}
	if old.ChainID != new.ChainID {
		return nil, fmt.Errorf("differ: chain mismatch (old=%s, new=%s)", old.ChainID.Short(), new.ChainID.Short())
	}

	diffs := make(map[engine.ApplicationID]ApplicationDiff)
	for id, newApp := range new.Applications {
		differFunc, exists := d.differs[newApp.Schema]
		if !exists {
			return nil, fmt.Errorf("differ: no differ registered for schema %q", newApp.Schema)
		}

		var oldData any
		oldApp, existed := old.Applications[id]
		if existed {
			if oldApp.Schema != newApp.Schema {
				return nil, fmt.Errorf("differ: schema changed for application %s (old=%s, new=%s)", id.Short(), oldApp.Schema, newApp.Schema)
			}
			oldData = oldApp.Data
		}

		diffData, err := differFunc(oldData, newApp.Data)
		if err != nil {
			return nil, fmt.Errorf("differ: application %s: %w", id.Short(), err)
		}
		if e, ok := diffData.(emptiable); ok && existed && e.IsEmpty() && oldApp.Meta == newApp.Meta {
			continue
		}

		diffs[id] = ApplicationDiff{
			Meta:   newApp.Meta,
			Schema: newApp.Schema,
			Data:   diffData,
		}
		d.metrics.applications.WithLabelValues(string(newApp.Schema)).Inc()
	}

	return &StateDiff{
		ChainID:      new.ChainID,
		Timestamp:    uint64(time.Now().UnixNano()),
		FromBlock:    old.Block.Height,
		ToBlock:      new.Block,
		Applications: diffs,
	}, nil
}
