package backend

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/band-engine/band/internal/domain"
)

// OpKind enumerates the handful of tensor operations the reference backend
// can execute. band's core is a scheduling engine, not an ML runtime
// (spec.md §1 Out of scope: "a real TFLite/NNAPI/OpenCL kernel library");
// this tiny IR exists only to let the rest of the system — analyzer,
// worker, planner, engine — run against real data end to end.
type OpKind int

const (
	OpIdentity OpKind = iota
	OpAdd
	OpMul
	OpScale
)

// RefOp is one node of a RefModel: it reads Input (and Input2, for binary
// kinds) and writes Output, all tensor indices into the owning model's
// tensor space.
type RefOp struct {
	Kind   OpKind  `json:"kind"`
	Input  int     `json:"input"`
	Input2 int     `json:"input2,omitempty"`
	Output int     `json:"output"`
	Scalar float32 `json:"scalar,omitempty"`
}

// RefModel is the reference backend's Model: a flat op list plus the
// tensor bookkeeping a ModelAnalyzer needs to partition it.
type RefModel struct {
	NumTensors    int              `json:"num_tensors"`
	Ops           []RefOp          `json:"ops"`
	InputTensors  []int            `json:"input_tensors"`
	OutputTensors []int            `json:"output_tensors"`
	TensorLengths []int            `json:"tensor_lengths"`
	Unsupported   map[string][]int `json:"unsupported,omitempty"`
}

var _ domain.Model = (*RefModel)(nil)

// NewRefModel builds an empty RefModel, with no ops, over numTensors
// tensors, for callers assembling one programmatically (as
// opposed to via ParseRefModel) — chiefly tests.
func NewRefModel(numTensors int) *RefModel {
	return &RefModel{
		NumTensors:    numTensors,
		TensorLengths: make([]int, numTensors),
		Unsupported:   make(map[string][]int),
	}
}

// ParseRefModel decodes the reference backend's on-disk JSON model format.
func ParseRefModel(data []byte) (*RefModel, error) {
	var m RefModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("backend: %w: malformed ref model: %v", domain.ErrConfiguration, err)
	}
	if m.Unsupported == nil {
		m.Unsupported = make(map[string][]int)
	}
	return &m, nil
}

// LoadRefModel reads and parses a ref model from path.
func LoadRefModel(path string) (*RefModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backend: %w: %v", domain.ErrProfilePathUnreadable, err)
	}
	return ParseRefModel(data)
}

func (m *RefModel) BackendType() domain.BackendType { return domain.BackendCPURef }

// InvestigateModelSpec derives the domain.ModelSpec the analyzer
// partitions, per spec.md §6.
func (m *RefModel) InvestigateModelSpec() (*domain.ModelSpec, error) {
	spec := domain.NewModelSpec(len(m.Ops), m.NumTensors)
	spec.TensorTypes[domain.DataTypeFloat32] = struct{}{}
	spec.InputTensors = append([]int(nil), m.InputTensors...)
	spec.OutputTensors = append([]int(nil), m.OutputTensors...)

	for i, op := range m.Ops {
		ins := []int{op.Input}
		if op.Kind == OpAdd || op.Kind == OpMul {
			ins = append(ins, op.Input2)
		}
		spec.OpInputTensors[i] = ins
		spec.OpOutputTensors[i] = []int{op.Output}
	}

	// The reference backend only ever claims CPU support directly; any
	// device name present in Unsupported is additionally excluded so
	// fixture models can still exercise multi-device partitioning in
	// analyzer tests without a second real backend.
	for name, ops := range m.Unsupported {
		d, err := parseDeviceFlag(name)
		if err != nil {
			return nil, err
		}
		set := make(map[int]struct{}, len(ops))
		for _, op := range ops {
			set[op] = struct{}{}
		}
		spec.UnsupportedOps[d] = set
	}
	return spec, nil
}

func parseDeviceFlag(name string) (domain.DeviceFlag, error) {
	switch name {
	case "cpu":
		return domain.DeviceCPU, nil
	case "gpu":
		return domain.DeviceGPU, nil
	case "dsp":
		return domain.DeviceDSP, nil
	case "npu":
		return domain.DeviceNPU, nil
	default:
		return 0, fmt.Errorf("backend: %w: unknown device flag %q", domain.ErrConfiguration, name)
	}
}
