// Package estimator implements the LatencyEstimator of spec.md §4.2: an
// exponentially-smoothed per-SubgraphKey latency table, seeded either
// from an on-disk profile or by timed warmup runs at registration.
package estimator

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/band-engine/band/internal/domain"
)

// Config mirrors the ProfileConfig block of RuntimeConfig (spec.md §6).
type Config struct {
	Online          bool
	NumWarmups      int
	NumRuns         int
	ProfilePath     string
	SmoothingFactor float64 // α ∈ (0, 1]
}

// Estimator is the engine's domain.LatencyEstimator.
type Estimator struct {
	cfg Config

	mu         sync.RWMutex
	profiled   map[domain.SubgraphKey]int64
	sampleCount map[domain.SubgraphKey]int
	onUpdate   func(key domain.SubgraphKey, movingAvgUs int64, sampleCount int)
}

var _ domain.LatencyEstimator = (*Estimator)(nil)

// New constructs an Estimator and attempts to load cfg.ProfilePath if set.
// A missing or malformed profile is not fatal: the estimator starts empty
// and relies on online profiling (spec.md §4.2 "profilePathUnreadable →
// fall back to online profiling").
func New(cfg Config) *Estimator {
	if cfg.SmoothingFactor <= 0 || cfg.SmoothingFactor > 1 {
		cfg.SmoothingFactor = 0.2
	}
	e := &Estimator{
		cfg:         cfg,
		profiled:    make(map[domain.SubgraphKey]int64),
		sampleCount: make(map[domain.SubgraphKey]int),
	}
	if cfg.ProfilePath != "" {
		_ = e.load(cfg.ProfilePath) // best-effort; errors fall back to online
	}
	return e
}

// SeedFromStrings merges externally-supplied profile entries (e.g. from a
// durable store, keyed by SubgraphKey.String() the way ProfileStore.All
// returns them) into the in-memory table without disturbing entries
// already loaded from the JSON profile file, which takes precedence.
// Malformed keys are skipped.
func (e *Estimator) SeedFromStrings(entries map[string]int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for raw, micros := range entries {
		key, err := parseSubgraphKey(raw)
		if err != nil {
			continue
		}
		if _, ok := e.profiled[key]; ok {
			continue
		}
		e.profiled[key] = micros
	}
}

// SetUpdateHook installs a callback invoked after every UpdateLatency
// call with the new moving average and cumulative sample count, letting
// the engine write through to durable storage without the estimator
// importing it directly.
func (e *Estimator) SetUpdateHook(hook func(key domain.SubgraphKey, movingAvgUs int64, sampleCount int)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUpdate = hook
}

// profileFile is the on-disk shape of spec.md §6's profile file: a flat
// object keyed on SubgraphKey.String(), each value a moving-average
// microsecond count. The source format nests this one level deeper under
// a model path, which band's ModelID-keyed world has no use for — see
// DESIGN.md for this deliberate simplification.
type profileFile map[string]int64

func (e *Estimator) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("estimator: %w: %v", domain.ErrProfilePathUnreadable, err)
	}
	var pf profileFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("estimator: %w: %v", domain.ErrProfilePathUnreadable, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for raw, micros := range pf {
		key, err := parseSubgraphKey(raw)
		if err != nil {
			continue
		}
		e.profiled[key] = micros
	}
	return nil
}

// Save writes the current profile table to path in the format load reads.
func (e *Estimator) Save(path string) error {
	e.mu.RLock()
	pf := make(profileFile, len(e.profiled))
	for key, micros := range e.profiled {
		pf[key.String()] = micros
	}
	e.mu.RUnlock()

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func parseSubgraphKey(raw string) (domain.SubgraphKey, error) {
	var modelID domain.ModelID
	var workerID domain.WorkerID
	var maskHex string
	if _, err := fmt.Sscanf(raw, "%d/%d/%s", &modelID, &workerID, &maskHex); err != nil {
		return domain.SubgraphKey{}, fmt.Errorf("estimator: malformed profile key %q: %w", raw, err)
	}
	var maskVal uint64
	if _, err := fmt.Sscanf(maskHex, "0x%x", &maskVal); err != nil {
		return domain.SubgraphKey{}, fmt.Errorf("estimator: malformed profile key %q: %w", raw, err)
	}
	return domain.SubgraphKey{ModelID: modelID, WorkerID: workerID, UnitIndices: domain.BitMask(maskVal)}, nil
}

// UpdateLatency folds an observed measurement into key's moving average:
// new = α·observed + (1−α)·old (spec.md §4.2).
func (e *Estimator) UpdateLatency(key domain.SubgraphKey, observedMicros int64) {
	e.mu.Lock()
	e.sampleCount[key]++
	old, ok := e.profiled[key]
	if !ok {
		e.profiled[key] = observedMicros
	} else {
		a := e.cfg.SmoothingFactor
		e.profiled[key] = int64(a*float64(observedMicros) + (1-a)*float64(old))
	}
	updated, count, hook := e.profiled[key], e.sampleCount[key], e.onUpdate
	e.mu.Unlock()
	if hook != nil {
		hook(key, updated, count)
	}
}

// GetProfiled returns the current moving-average estimate for key.
func (e *Estimator) GetProfiled(key domain.SubgraphKey) (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.profiled[key]
	return v, ok
}

// GetExpected is interchangeable with GetProfiled in this core (spec.md
// §4.2: "the core treats them as interchangeable for scheduling").
func (e *Estimator) GetExpected(key domain.SubgraphKey) (int64, bool) {
	return e.GetProfiled(key)
}

// GetWorst returns the maximum profiled latency across every worker's
// full-model SubgraphKey for model, used for SLO scaling.
func (e *Estimator) GetWorst(model domain.ModelID) (int64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var worst int64
	found := false
	for key, micros := range e.profiled {
		if key.ModelID != model || !key.IsFullModel() {
			continue
		}
		if !found || micros > worst {
			worst, found = micros, true
		}
	}
	return worst, found
}

// Execution is a single timed or warmup run of a SubgraphKey; the engine
// supplies it so the estimator never imports domain.ModelExecutor
// directly.
type Execution func(key domain.SubgraphKey) (microseconds int64, err error)

// ProfileModel runs NumWarmups unmeasured executions followed by NumRuns
// measured executions of every key in keys, storing the mean as the
// initial profile (spec.md §4.2 ProfileModel). A key whose every measured
// run errors is left unprofiled — NeedsEligibleWorker-style failures are
// not fatal to the whole model (spec.md §4.2 "noEligibleWorker → leave
// model unprofiled and surface warning; never abort").
func (e *Estimator) ProfileModel(keys []domain.SubgraphKey, run Execution) []error {
	var warnings []error
	for _, key := range keys {
		for i := 0; i < e.cfg.NumWarmups; i++ {
			_, _ = run(key)
		}
		var total int64
		var ok int
		for i := 0; i < e.cfg.NumRuns; i++ {
			micros, err := run(key)
			if err != nil {
				continue
			}
			total += micros
			ok++
		}
		if ok == 0 {
			warnings = append(warnings, fmt.Errorf("estimator: %w: subgraph %s", domain.ErrNoEligibleWorker, key))
			continue
		}
		e.mu.Lock()
		e.profiled[key] = total / int64(ok)
		e.mu.Unlock()
	}
	return warnings
}
