package backend

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/band-engine/band/internal/domain"
)

// compiledSubgraph is a SubgraphKey's slice of a RefModel's op list, kept
// in the RefModel's own op-list order.
type compiledSubgraph struct {
	opIndices map[int]struct{}
	ops       []RefOp
}

// cpuExecutor is the reference backend's domain.ModelExecutor: it binds one
// RefModel to one (model, worker) pair and runs float32 arithmetic over a
// private tensor store.
type cpuExecutor struct {
	modelID  domain.ModelID
	workerID domain.WorkerID
	model    *RefModel

	mu         sync.Mutex
	tensors    map[int][]byte
	subgraphs  map[domain.SubgraphKey]*compiledSubgraph
}

var _ domain.ModelExecutor = (*cpuExecutor)(nil)

func newCPUExecutor(modelID domain.ModelID, worker domain.WorkerID) *cpuExecutor {
	return &cpuExecutor{
		modelID:   modelID,
		workerID:  worker,
		tensors:   make(map[int][]byte),
		subgraphs: make(map[domain.SubgraphKey]*compiledSubgraph),
	}
}

// PrepareSubgraph compiles the ops named by opIndices into a
// domain.SubgraphKey keyed on this executor's (model, worker) and the
// given unit indices (spec.md §4.6 RegisterModel step 3). The first call
// binds the executor to model; every later call must name the same one.
func (e *cpuExecutor) PrepareSubgraph(model domain.Model, opIndices map[int]struct{}, unitIndices domain.BitMask) error {
	rm, ok := model.(*RefModel)
	if !ok {
		return fmt.Errorf("backend: %w: executor bound to a different Model implementation", domain.ErrConfiguration)
	}
	e.mu.Lock()
	if e.model == nil {
		e.model = rm
	}
	e.mu.Unlock()

	ops := make([]RefOp, 0, len(opIndices))
	for i, op := range rm.Ops {
		if _, in := opIndices[i]; in {
			ops = append(ops, op)
		}
	}
	key := domain.SubgraphKey{ModelID: e.modelID, WorkerID: e.workerID, UnitIndices: unitIndices}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.subgraphs[key] = &compiledSubgraph{opIndices: opIndices, ops: ops}
	return nil
}

func (e *cpuExecutor) lookup(key domain.SubgraphKey) (*compiledSubgraph, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.subgraphs[key]
	if !ok {
		return nil, fmt.Errorf("backend: %w: subgraph %s not prepared", domain.ErrBackend, key)
	}
	return cs, nil
}

// ExecuteSubgraph runs every op of key's compiled subgraph in order,
// reading and writing e's private tensor store.
func (e *cpuExecutor) ExecuteSubgraph(ctx context.Context, key domain.SubgraphKey) error {
	cs, err := e.lookup(key)
	if err != nil {
		return err
	}
	for _, op := range cs.ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		in1, err := e.readFloats(op.Input)
		if err != nil {
			return fmt.Errorf("backend: %w: %v", domain.ErrBackend, err)
		}
		var out []float32
		switch op.Kind {
		case OpIdentity:
			out = in1
		case OpScale:
			out = make([]float32, len(in1))
			for i, v := range in1 {
				out[i] = v * op.Scalar
			}
		case OpAdd, OpMul:
			in2, err := e.readFloats(op.Input2)
			if err != nil {
				return fmt.Errorf("backend: %w: %v", domain.ErrBackend, err)
			}
			if len(in1) != len(in2) {
				return fmt.Errorf("backend: %w: op shape mismatch (%d vs %d)", domain.ErrBackend, len(in1), len(in2))
			}
			out = make([]float32, len(in1))
			for i := range in1 {
				if op.Kind == OpAdd {
					out[i] = in1[i] + in2[i]
				} else {
					out[i] = in1[i] * in2[i]
				}
			}
		default:
			return fmt.Errorf("backend: %w: unknown op kind %d", domain.ErrBackend, op.Kind)
		}
		e.writeFloats(op.Output, out)
	}
	return nil
}

func (e *cpuExecutor) readFloats(tensorIdx int) ([]float32, error) {
	data, err := e.ReadTensor(tensorIdx)
	if err != nil {
		return nil, err
	}
	return bytesToFloats(data), nil
}

func (e *cpuExecutor) writeFloats(tensorIdx int, vals []float32) {
	_ = e.WriteTensor(tensorIdx, floatsToBytes(vals))
}

// WriteTensor stores data verbatim for tensorIdx.
func (e *cpuExecutor) WriteTensor(tensorIdx int, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	e.tensors[tensorIdx] = cp
	return nil
}

// ReadTensor returns the bytes currently stored for tensorIdx.
func (e *cpuExecutor) ReadTensor(tensorIdx int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.tensors[tensorIdx]
	if !ok {
		return nil, fmt.Errorf("backend: %w: tensor %d never written", domain.ErrInputCopyFailure, tensorIdx)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (e *cpuExecutor) GetInputs(key domain.SubgraphKey) ([]int, error) {
	cs, err := e.lookup(key)
	if err != nil {
		return nil, err
	}
	spec, err := e.model.InvestigateModelSpec()
	if err != nil {
		return nil, err
	}
	return spec.GetPureInputTensors(cs.opIndices), nil
}

func (e *cpuExecutor) GetOutputs(key domain.SubgraphKey) ([]int, error) {
	cs, err := e.lookup(key)
	if err != nil {
		return nil, err
	}
	spec, err := e.model.InvestigateModelSpec()
	if err != nil {
		return nil, err
	}
	return spec.GetOutputTensors(cs.opIndices), nil
}

func (e *cpuExecutor) GetNumTensors(key domain.SubgraphKey) (int, error) {
	if _, err := e.lookup(key); err != nil {
		return 0, err
	}
	return e.model.NumTensors, nil
}

func (e *cpuExecutor) GetTensorView(key domain.SubgraphKey, tensorIdx int) (domain.TensorView, error) {
	if _, err := e.lookup(key); err != nil {
		return nil, err
	}
	length := 1
	if tensorIdx >= 0 && tensorIdx < len(e.model.TensorLengths) && e.model.TensorLengths[tensorIdx] > 0 {
		length = e.model.TensorLengths[tensorIdx]
	}
	return tensorView{index: tensorIdx, length: length}, nil
}

func (e *cpuExecutor) HasSubgraph(key domain.SubgraphKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.subgraphs[key]
	return ok
}

// GetLargestSubgraphKey returns the prepared key covering the most unit
// subgraphs, preferring a full-model key if one was prepared.
func (e *cpuExecutor) GetLargestSubgraphKey() (domain.SubgraphKey, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var best domain.SubgraphKey
	found := false
	for key := range e.subgraphs {
		if key.IsFullModel() {
			return key, true
		}
		if !found || key.UnitIndices.PopCount() > best.UnitIndices.PopCount() {
			best, found = key, true
		}
	}
	return best, found
}

func (e *cpuExecutor) ForEachSubgraph(visit func(domain.SubgraphKey) bool) {
	e.mu.Lock()
	keys := make([]domain.SubgraphKey, 0, len(e.subgraphs))
	for k := range e.subgraphs {
		keys = append(keys, k)
	}
	e.mu.Unlock()
	for _, k := range keys {
		if !visit(k) {
			return
		}
	}
}

func floatsToBytes(vals []float32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func bytesToFloats(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
