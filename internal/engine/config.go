// Package engine implements the public facade of spec.md §4.6: it owns
// every registered model, its analyzer output, its model executors, the
// worker pool, the planner, and the latency estimator, and is the only
// thing client code talks to.
package engine

import (
	"fmt"

	"github.com/band-engine/band/internal/domain"
	"github.com/band-engine/band/internal/infra/estimator"
)

// ProfileConfig mirrors spec.md §6's ProfileConfig block.
type ProfileConfig struct {
	Online          bool
	NumWarmups      int
	NumRuns         int
	ProfileDataPath string
	SmoothingFactor float64
}

// PlannerConfig mirrors spec.md §6's PlannerConfig block.
type PlannerConfig struct {
	ScheduleWindowSize int
	Schedulers         []domain.SchedulerType
	CPUMask            domain.CPUMaskFlag
	LogPath            string
}

// WorkerConfig mirrors spec.md §6's WorkerConfig block: three
// equal-length parallel vectors, one entry per worker.
type WorkerConfig struct {
	Devices                     []domain.DeviceFlag
	CPUMasks                    []domain.CPUMaskFlag
	NumThreads                  []int
	AllowWorksteal              bool
	AvailabilityCheckIntervalMs int
}

// SubgraphConfig mirrors spec.md §6's SubgraphConfig block.
type SubgraphConfig struct {
	MinimumSubgraphSize    int
	SubgraphPreparationType domain.SubgraphPreparationType
}

// RuntimeConfig is the validated, immutable configuration an Engine is
// built from. Construct via RuntimeConfigBuilder, never directly.
type RuntimeConfig struct {
	Profile  ProfileConfig
	Planner  PlannerConfig
	Worker   WorkerConfig
	Subgraph SubgraphConfig
	CPUMask  domain.CPUMaskFlag

	// PersistencePath, if non-empty, opens a sqlite-backed profile store,
	// finished-job archive, and scheduler-snapshot table alongside the
	// in-memory estimator and planner (SPEC_FULL.md §4.7). Empty disables
	// persistence entirely — the engine runs purely in-memory.
	PersistencePath string
	// SnapshotIntervalMs controls how often scheduler counters are
	// written to the snapshot table. Ignored when PersistencePath is
	// empty. Defaults to 5000 if zero and persistence is enabled.
	SnapshotIntervalMs int
}

// RuntimeConfigBuilder accumulates RuntimeConfig fields and validates
// cross-field constraints at Build() time (the "config builder
// validation" supplemented feature: worker vector lengths must match,
// smoothing factor must be in (0,1], schedule window must be positive).
type RuntimeConfigBuilder struct {
	cfg RuntimeConfig
}

// NewRuntimeConfigBuilder returns a builder seeded with the spec's
// defaults: unit preparation, a single CPU worker, α=0.2.
func NewRuntimeConfigBuilder() *RuntimeConfigBuilder {
	return &RuntimeConfigBuilder{cfg: RuntimeConfig{
		Profile: ProfileConfig{NumWarmups: 1, NumRuns: 3, SmoothingFactor: 0.2},
		Planner: PlannerConfig{ScheduleWindowSize: 4, Schedulers: []domain.SchedulerType{domain.SchedulerFixedWorker}},
		Worker: WorkerConfig{
			Devices:    []domain.DeviceFlag{domain.DeviceCPU},
			CPUMasks:   []domain.CPUMaskFlag{domain.CPUMaskAll},
			NumThreads: []int{1},
		},
		Subgraph: SubgraphConfig{MinimumSubgraphSize: 1, SubgraphPreparationType: domain.PrepUnit},
		CPUMask:  domain.CPUMaskAll,
	}}
}

func (b *RuntimeConfigBuilder) WithProfile(p ProfileConfig) *RuntimeConfigBuilder {
	b.cfg.Profile = p
	return b
}

func (b *RuntimeConfigBuilder) WithPlanner(p PlannerConfig) *RuntimeConfigBuilder {
	b.cfg.Planner = p
	return b
}

func (b *RuntimeConfigBuilder) WithWorkers(w WorkerConfig) *RuntimeConfigBuilder {
	b.cfg.Worker = w
	return b
}

func (b *RuntimeConfigBuilder) WithSubgraph(s SubgraphConfig) *RuntimeConfigBuilder {
	b.cfg.Subgraph = s
	return b
}

// WithPersistence enables the sqlite-backed profile store, finished-job
// archive, and scheduler snapshots (SPEC_FULL.md §4.7). path must be
// non-empty; intervalMs may be zero to take the default.
func (b *RuntimeConfigBuilder) WithPersistence(path string, intervalMs int) *RuntimeConfigBuilder {
	b.cfg.PersistencePath = path
	b.cfg.SnapshotIntervalMs = intervalMs
	return b
}

// Build validates cross-field constraints and returns the finished
// config, or a configurationError describing the first violation.
func (b *RuntimeConfigBuilder) Build() (RuntimeConfig, error) {
	cfg := b.cfg
	w := cfg.Worker
	if len(w.Devices) == 0 {
		return cfg, fmt.Errorf("engine: %w: at least one worker is required", domain.ErrConfiguration)
	}
	if len(w.CPUMasks) != len(w.Devices) || len(w.NumThreads) != len(w.Devices) {
		return cfg, fmt.Errorf("engine: %w: worker_devices, worker_cpu_masks, and worker_num_threads must have equal length (%d, %d, %d)",
			domain.ErrConfiguration, len(w.Devices), len(w.CPUMasks), len(w.NumThreads))
	}
	if cfg.Profile.SmoothingFactor <= 0 || cfg.Profile.SmoothingFactor > 1 {
		return cfg, fmt.Errorf("engine: %w: smoothing_factor must be in (0, 1], got %v", domain.ErrConfiguration, cfg.Profile.SmoothingFactor)
	}
	if cfg.Planner.ScheduleWindowSize <= 0 {
		return cfg, fmt.Errorf("engine: %w: schedule_window_size must be positive, got %d", domain.ErrConfiguration, cfg.Planner.ScheduleWindowSize)
	}
	if len(cfg.Planner.Schedulers) == 0 {
		return cfg, fmt.Errorf("engine: %w: at least one scheduler must be installed", domain.ErrConfiguration)
	}
	if cfg.Subgraph.MinimumSubgraphSize <= 0 {
		return cfg, fmt.Errorf("engine: %w: minimum_subgraph_size must be positive, got %d", domain.ErrConfiguration, cfg.Subgraph.MinimumSubgraphSize)
	}
	return cfg, nil
}

func (c ProfileConfig) toEstimatorConfig() estimator.Config {
	return estimator.Config{
		Online:          c.Online,
		NumWarmups:      c.NumWarmups,
		NumRuns:         c.NumRuns,
		ProfilePath:     c.ProfileDataPath,
		SmoothingFactor: c.SmoothingFactor,
	}
}
