package domain

import "fmt"

// SubgraphKey is the identity of an executable fragment: a model, the
// worker it runs on, and the set of unit subgraphs it covers. An empty
// UnitIndices denotes the full model on that worker (spec.md §3).
//
// SubgraphKey is a plain comparable value — it is used directly as a map
// key (e.g. by LatencyEstimator and the HEFT reservation table) without a
// custom Equal/Hash pair, which is why BitMask is a fixed-width uint64
// rather than a slice.
type SubgraphKey struct {
	ModelID     ModelID
	WorkerID    WorkerID
	UnitIndices BitMask
}

// IsFullModel reports whether this key denotes the unpartitioned model.
func (k SubgraphKey) IsFullModel() bool {
	return k.UnitIndices.IsEmpty()
}

// String renders a stable textual form, used as the JSON map key for the
// profile file (spec.md §6) and as the primary key in the sqlite profile
// store (SPEC_FULL.md §4.7).
func (k SubgraphKey) String() string {
	return fmt.Sprintf("%d/%d/%s", k.ModelID, k.WorkerID, k.UnitIndices)
}

// ModelSpec is a static description of a registered model, derived once by
// the ModelAnalyzer during RegisterModel and immutable thereafter
// (spec.md §3).
type ModelSpec struct {
	NumOps     int
	NumTensors int

	TensorTypes map[DataType]struct{}

	InputTensors  []int
	OutputTensors []int

	// OpInputTensors[i] / OpOutputTensors[i] are the tensor indices op i
	// reads and writes, one entry per op.
	OpInputTensors  [][]int
	OpOutputTensors [][]int

	// UnsupportedOps[d] is the set of op indices device d cannot execute.
	UnsupportedOps map[DeviceFlag]map[int]struct{}

	// UnavailableDevices is the set of devices with no worker bound to
	// them at registration time.
	UnavailableDevices map[DeviceFlag]struct{}

	// UnitSubgraphs is assigned once by the analyzer: UnitSubgraphs[u] is
	// the set of op indices belonging to unit subgraph u.
	UnitSubgraphs []map[int]struct{}

	// UnitSubgraphDependencies[u] is the set of other unit indices whose
	// outputs unit u consumes, derived from OpInputTensors/OpOutputTensors.
	UnitSubgraphDependencies []BitMask
}

// NewModelSpec returns a ModelSpec with empty/zeroed collection fields
// ready for the analyzer to populate.
func NewModelSpec(numOps, numTensors int) *ModelSpec {
	return &ModelSpec{
		NumOps:             numOps,
		NumTensors:         numTensors,
		TensorTypes:        make(map[DataType]struct{}),
		OpInputTensors:     make([][]int, numOps),
		OpOutputTensors:    make([][]int, numOps),
		UnsupportedOps:     make(map[DeviceFlag]map[int]struct{}),
		UnavailableDevices: make(map[DeviceFlag]struct{}),
	}
}

// IsOpSupported reports whether device d can execute op i.
func (s *ModelSpec) IsOpSupported(d DeviceFlag, op int) bool {
	unsupported, ok := s.UnsupportedOps[d]
	if !ok {
		return true
	}
	_, bad := unsupported[op]
	return !bad
}

// GetPureInputTensors returns the tensor indices consumed by ops but not
// produced by any op in the same set — the "external" inputs of a
// SubgraphDef, used to verify RegisterModel step 3 (spec.md §4.6).
func (s *ModelSpec) GetPureInputTensors(ops map[int]struct{}) []int {
	produced := make(map[int]struct{})
	for op := range ops {
		for _, t := range s.OpOutputTensors[op] {
			produced[t] = struct{}{}
		}
	}
	seen := make(map[int]struct{})
	var out []int
	for op := range ops {
		for _, t := range s.OpInputTensors[op] {
			if _, isProduced := produced[t]; isProduced {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// GetOutputTensors returns every tensor produced by any op in ops.
func (s *ModelSpec) GetOutputTensors(ops map[int]struct{}) []int {
	seen := make(map[int]struct{})
	var out []int
	for op := range ops {
		for _, t := range s.OpOutputTensors[op] {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// SubgraphDef is produced by the ModelAnalyzer and consumed once, at
// RegisterModel time, to build ModelExecutors (spec.md §3).
type SubgraphDef struct {
	WorkerID           WorkerID
	OpIndices          map[int]struct{}
	UnitSubgraphIndices BitMask
}
