package cli

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/band-engine/band/internal/domain"
	"github.com/band-engine/band/internal/engine"
)

// tomlConfig mirrors spec.md §6's config blocks as a plain nested struct —
// the one shape BurntSushi/toml decodes into. FromTOML then feeds every
// field through the same RuntimeConfigBuilder the programmatic path uses,
// so a TOML file and a Go caller share one validation path
// (SPEC_FULL.md §4.10/§6).
type tomlConfig struct {
	Profile struct {
		Online          bool    `toml:"online"`
		NumWarmups      int     `toml:"num_warmups"`
		NumRuns         int     `toml:"num_runs"`
		ProfileDataPath string  `toml:"profile_data_path"`
		SmoothingFactor float64 `toml:"smoothing_factor"`
	} `toml:"profile"`
	Planner struct {
		ScheduleWindowSize int      `toml:"schedule_window_size"`
		Schedulers         []string `toml:"schedulers"`
		CPUMask            string   `toml:"cpu_mask"`
		LogPath            string   `toml:"log_path"`
	} `toml:"planner"`
	Worker struct {
		Devices                     []string `toml:"devices"`
		CPUMasks                    []string `toml:"cpu_masks"`
		NumThreads                  []int    `toml:"num_threads"`
		AllowWorksteal              bool     `toml:"allow_worksteal"`
		AvailabilityCheckIntervalMs int      `toml:"availability_check_interval_ms"`
	} `toml:"worker"`
	Subgraph struct {
		MinimumSubgraphSize     int    `toml:"minimum_subgraph_size"`
		SubgraphPreparationType string `toml:"preparation_type"`
	} `toml:"subgraph"`
	Persistence struct {
		Path            string `toml:"path"`
		SnapshotIntervalMs int `toml:"snapshot_interval_ms"`
	} `toml:"persistence"`
}

// FromTOML decodes path into a RuntimeConfig, the one place band parses a
// config file — intentionally outside internal/engine, matching spec.md's
// Non-goal framing of config parsing as an external collaborator of the
// core (SPEC_FULL.md §4.10).
func FromTOML(path string) (engine.RuntimeConfig, error) {
	var raw tomlConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return engine.RuntimeConfig{}, fmt.Errorf("cli: %w: %v", domain.ErrConfiguration, err)
	}

	b := engine.NewRuntimeConfigBuilder()
	b = b.WithProfile(engine.ProfileConfig{
		Online:          raw.Profile.Online,
		NumWarmups:      raw.Profile.NumWarmups,
		NumRuns:         raw.Profile.NumRuns,
		ProfileDataPath: raw.Profile.ProfileDataPath,
		SmoothingFactor: raw.Profile.SmoothingFactor,
	})

	schedulers, err := parseSchedulers(raw.Planner.Schedulers)
	if err != nil {
		return engine.RuntimeConfig{}, err
	}
	cpuMask, err := parseCPUMask(raw.Planner.CPUMask)
	if err != nil {
		return engine.RuntimeConfig{}, err
	}
	b = b.WithPlanner(engine.PlannerConfig{
		ScheduleWindowSize: raw.Planner.ScheduleWindowSize,
		Schedulers:         schedulers,
		CPUMask:            cpuMask,
		LogPath:            raw.Planner.LogPath,
	})

	devices, err := parseDevices(raw.Worker.Devices)
	if err != nil {
		return engine.RuntimeConfig{}, err
	}
	cpuMasks, err := parseCPUMasks(raw.Worker.CPUMasks)
	if err != nil {
		return engine.RuntimeConfig{}, err
	}
	b = b.WithWorkers(engine.WorkerConfig{
		Devices:                     devices,
		CPUMasks:                    cpuMasks,
		NumThreads:                  raw.Worker.NumThreads,
		AllowWorksteal:              raw.Worker.AllowWorksteal,
		AvailabilityCheckIntervalMs: raw.Worker.AvailabilityCheckIntervalMs,
	})

	prep, err := parsePreparationType(raw.Subgraph.SubgraphPreparationType)
	if err != nil {
		return engine.RuntimeConfig{}, err
	}
	b = b.WithSubgraph(engine.SubgraphConfig{
		MinimumSubgraphSize:     raw.Subgraph.MinimumSubgraphSize,
		SubgraphPreparationType: prep,
	})

	if raw.Persistence.Path != "" {
		b = b.WithPersistence(raw.Persistence.Path, raw.Persistence.SnapshotIntervalMs)
	}

	return b.Build()
}

func parseSchedulers(names []string) ([]domain.SchedulerType, error) {
	out := make([]domain.SchedulerType, 0, len(names))
	for _, n := range names {
		switch n {
		case "fixed_worker":
			out = append(out, domain.SchedulerFixedWorker)
		case "fixed_worker_global_queue":
			out = append(out, domain.SchedulerFixedWorkerGlobalQueue)
		case "round_robin":
			out = append(out, domain.SchedulerRoundRobin)
		case "shortest_expected_latency":
			out = append(out, domain.SchedulerShortestExpectedLatency)
		case "heterogeneous_earliest_finish_time":
			out = append(out, domain.SchedulerHeterogeneousEarliestFinishTime)
		case "least_slack_time_first":
			out = append(out, domain.SchedulerLeastSlackTimeFirst)
		default:
			return nil, fmt.Errorf("cli: %w: unknown scheduler %q", domain.ErrConfiguration, n)
		}
	}
	return out, nil
}

func parseDevices(names []string) ([]domain.DeviceFlag, error) {
	out := make([]domain.DeviceFlag, len(names))
	for i, n := range names {
		switch n {
		case "cpu":
			out[i] = domain.DeviceCPU
		case "gpu":
			out[i] = domain.DeviceGPU
		case "dsp":
			out[i] = domain.DeviceDSP
		case "npu":
			out[i] = domain.DeviceNPU
		default:
			return nil, fmt.Errorf("cli: %w: unknown device %q", domain.ErrConfiguration, n)
		}
	}
	return out, nil
}

func parseCPUMask(name string) (domain.CPUMaskFlag, error) {
	if name == "" {
		return domain.CPUMaskAll, nil
	}
	return parseOneCPUMask(name)
}

func parseCPUMasks(names []string) ([]domain.CPUMaskFlag, error) {
	out := make([]domain.CPUMaskFlag, len(names))
	for i, n := range names {
		m, err := parseOneCPUMask(n)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func parseOneCPUMask(name string) (domain.CPUMaskFlag, error) {
	switch name {
	case "", "all":
		return domain.CPUMaskAll, nil
	case "little":
		return domain.CPUMaskLittle, nil
	case "big":
		return domain.CPUMaskBig, nil
	case "primary":
		return domain.CPUMaskPrimary, nil
	default:
		return 0, fmt.Errorf("cli: %w: unknown cpu_mask %q", domain.ErrConfiguration, name)
	}
}

func parsePreparationType(name string) (domain.SubgraphPreparationType, error) {
	switch name {
	case "", "unit":
		return domain.PrepUnit, nil
	case "no_fallback":
		return domain.PrepNoFallback, nil
	case "merged_unit":
		return domain.PrepMergedUnit, nil
	case "fallback_per_worker":
		return domain.PrepFallbackPerWorker, nil
	default:
		return 0, fmt.Errorf("cli: %w: unknown preparation_type %q", domain.ErrConfiguration, name)
	}
}
