package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/band-engine/band/internal/domain"
	"github.com/band-engine/band/internal/infra/analyzer"
	"github.com/band-engine/band/internal/infra/tensorring"
)

// RegisterModel runs the five-step pipeline of spec.md §4.6: load the
// model through the reference backend, partition it into unit subgraphs,
// bind a ModelExecutor to every worker a subgraph targets, verify that
// workers agree on the model's input tensor views, size a
// TensorRingBuffer for it, and seed the latency estimator.
func (e *Engine) RegisterModel(path string) (domain.ModelID, error) {
	factory, ok := e.registry.Get(domain.BackendCPURef)
	if !ok {
		return 0, fmt.Errorf("engine: %w: no factory registered for the reference backend", domain.ErrRegistration)
	}
	model, err := factory.LoadModel(path)
	if err != nil {
		return 0, fmt.Errorf("engine: %w: %v", domain.ErrRegistration, err)
	}
	spec, err := model.InvestigateModelSpec()
	if err != nil {
		return 0, fmt.Errorf("engine: %w: %v", domain.ErrRegistration, err)
	}

	workerInfos := make([]analyzer.WorkerInfo, len(e.workers))
	for i, we := range e.workers {
		workerInfos[i] = analyzer.WorkerInfo{ID: we.w.ID(), Device: we.device}
	}
	defs, err := e.analyzer.CreateSubgraphs(spec, workerInfos)
	if err != nil {
		return 0, fmt.Errorf("engine: %w: %v", domain.ErrRegistration, err)
	}

	e.modelsMu.Lock()
	e.nextModelID++
	modelID := e.nextModelID
	e.modelsMu.Unlock()

	executors := make(map[domain.WorkerID]domain.ModelExecutor, len(e.workers))
	for _, def := range defs {
		we, ok := e.workerEntry(def.WorkerID)
		if !ok {
			return 0, fmt.Errorf("engine: %w: subgraph def names unknown worker %d", domain.ErrRegistration, def.WorkerID)
		}
		executor, ok := executors[def.WorkerID]
		if !ok {
			if !factory.Util().SupportsDevice(we.device) {
				return 0, fmt.Errorf("engine: %w: backend cannot target device %s", domain.ErrRegistration, we.device)
			}
			executor, err = factory.NewExecutor(modelID, def.WorkerID, we.device, we.affinity, we.numThread)
			if err != nil {
				return 0, fmt.Errorf("engine: %w: %v", domain.ErrRegistration, err)
			}
			executors[def.WorkerID] = executor
		}
		if err := executor.PrepareSubgraph(model, def.OpIndices, def.UnitSubgraphIndices); err != nil {
			return 0, fmt.Errorf("engine: %w: %v", domain.ErrRegistration, err)
		}
	}

	if err := verifyTensorCompatibility(spec, executors); err != nil {
		return 0, fmt.Errorf("engine: %w: %v", domain.ErrRegistration, err)
	}

	ring := tensorring.New(2 * (len(executors) + 1))

	me := &modelEntry{
		model:         model,
		spec:          spec,
		executors:     executors,
		ring:          ring,
		inputTensors:  append([]int(nil), spec.InputTensors...),
		outputTensors: append([]int(nil), spec.OutputTensors...),
	}
	e.modelsMu.Lock()
	e.models[modelID] = me
	e.modelsMu.Unlock()

	e.profileModel(modelID, me)
	return modelID, nil
}

// verifyTensorCompatibility checks that executors on different workers
// agree on tensor shape and dtype (spec.md §4.6 RegisterModel step 4): for
// each executor's largest prepared key, every input TensorView is compared
// with the view another executor gives for the same unit set on its own
// worker. Tensors that cross a boundary between different unit subgraphs
// are not compared. The reference backend only ever produces a single
// flat-float32 TensorView, so under it this check can never fail.
func verifyTensorCompatibility(spec *domain.ModelSpec, executors map[domain.WorkerID]domain.ModelExecutor) error {
	for w, executor := range executors {
		full := fullUnitMask(spec)
		key, ok := largestKeyFor(executor, domain.EmptyMask, full)
		if !ok {
			continue
		}
		inputs, err := executor.GetInputs(key)
		if err != nil {
			return fmt.Errorf("worker %d: %v", w, err)
		}
		for _, idx := range inputs {
			view, err := executor.GetTensorView(key, idx)
			if err != nil {
				return fmt.Errorf("worker %d: tensor %d: %v", w, idx, err)
			}
			for ow, other := range executors {
				otherKey := key
				otherKey.WorkerID = ow
				if ow == w || !other.HasSubgraph(otherKey) {
					continue
				}
				otherView, err := other.GetTensorView(otherKey, idx)
				if err != nil {
					continue
				}
				if !view.Equal(otherView) {
					return fmt.Errorf("tensor %d incompatible between worker %d and worker %d", idx, w, ow)
				}
			}
		}
	}
	return nil
}

// profileModel runs the estimator's warmup/timed passes over every
// SubgraphKey every executor prepared, writing zeroed input tensors first
// so ExecuteSubgraph has something to read (spec.md §4.2 ProfileModel at
// registration time). Warnings are non-fatal; an unprofiled key is picked
// up lazily by ShortestLatency's defaultUnprofiledLatency fallback.
func (e *Engine) profileModel(modelID domain.ModelID, me *modelEntry) {
	var keys []domain.SubgraphKey
	for _, executor := range me.executors {
		executor.ForEachSubgraph(func(key domain.SubgraphKey) bool {
			keys = append(keys, key)
			return true
		})
	}
	if len(keys) == 0 {
		return
	}

	run := func(key domain.SubgraphKey) (int64, error) {
		executor, ok := me.executors[key.WorkerID]
		if !ok {
			return 0, fmt.Errorf("engine: no executor for worker %d", key.WorkerID)
		}
		inputs, err := executor.GetInputs(key)
		if err != nil {
			return 0, err
		}
		for _, idx := range inputs {
			view, err := executor.GetTensorView(key, idx)
			if err != nil {
				return 0, err
			}
			n := 1
			if dims := view.Dims(); len(dims) > 0 {
				n = dims[0]
			}
			if err := executor.WriteTensor(idx, make([]byte, 4*n)); err != nil {
				return 0, err
			}
		}
		start := time.Now()
		if err := executor.ExecuteSubgraph(context.Background(), key); err != nil {
			return 0, err
		}
		return time.Since(start).Microseconds(), nil
	}

	_ = e.estimator.ProfileModel(keys, run) // warnings are discarded, not fatal here
}

// UnregisterModel removes a model and invalidates its cached scheduling
// decisions. Jobs already queued for it are not cancelled; once the model
// is removed the worker callbacks no longer find it, so such a job that
// reaches a worker ends with a failure status.
func (e *Engine) UnregisterModel(modelID domain.ModelID) error {
	e.modelsMu.Lock()
	_, ok := e.models[modelID]
	delete(e.models, modelID)
	e.modelsMu.Unlock()
	if !ok {
		return fmt.Errorf("engine: %w: model %d", domain.ErrNoSuchModel, modelID)
	}
	e.invalidateCache(modelID)
	return nil
}

// GetInputTensorIndices returns the tensor indices a client must populate
// via WriteTensor before requesting model.
func (e *Engine) GetInputTensorIndices(modelID domain.ModelID) ([]int, error) {
	me, ok := e.lookupModel(modelID)
	if !ok {
		return nil, fmt.Errorf("engine: %w: model %d", domain.ErrNoSuchModel, modelID)
	}
	return append([]int(nil), me.inputTensors...), nil
}

// GetOutputTensorIndices returns the tensor indices a client reads via
// ReadTensor once a request completes.
func (e *Engine) GetOutputTensorIndices(modelID domain.ModelID) ([]int, error) {
	me, ok := e.lookupModel(modelID)
	if !ok {
		return nil, fmt.Errorf("engine: %w: model %d", domain.ErrNoSuchModel, modelID)
	}
	return append([]int(nil), me.outputTensors...), nil
}

// CreateTensor allocates a fresh TensorRingBuffer handle for model, ready
// for WriteTensor calls before a request and ReadTensor calls after one.
func (e *Engine) CreateTensor(modelID domain.ModelID) (int, error) {
	me, ok := e.lookupModel(modelID)
	if !ok {
		return 0, fmt.Errorf("engine: %w: model %d", domain.ErrNoSuchModel, modelID)
	}
	return me.ring.Alloc(), nil
}

// WriteTensor writes tensorIdx's bytes into handle's bundle.
func (e *Engine) WriteTensor(modelID domain.ModelID, handle, tensorIdx int, data []byte) error {
	me, ok := e.lookupModel(modelID)
	if !ok {
		return fmt.Errorf("engine: %w: model %d", domain.ErrNoSuchModel, modelID)
	}
	snap, err := me.ring.Get(handle)
	if err != nil {
		return err
	}
	bundle, err := decodeBundle(snap.Data)
	if err != nil {
		return err
	}
	if bundle == nil {
		bundle = tensorBundle{}
	}
	bundle[tensorIdx] = data
	return me.ring.Set(handle, tensorring.Snapshot{Data: encodeBundle(bundle)})
}

// ReadTensor returns tensorIdx's bytes from handle's bundle.
func (e *Engine) ReadTensor(modelID domain.ModelID, handle, tensorIdx int) ([]byte, error) {
	me, ok := e.lookupModel(modelID)
	if !ok {
		return nil, fmt.Errorf("engine: %w: model %d", domain.ErrNoSuchModel, modelID)
	}
	snap, err := me.ring.Get(handle)
	if err != nil {
		return nil, err
	}
	bundle, err := decodeBundle(snap.Data)
	if err != nil {
		return nil, err
	}
	data, ok := bundle[tensorIdx]
	if !ok {
		return nil, fmt.Errorf("engine: %w: tensor %d not written to handle %d", domain.ErrOutputCopyFailure, tensorIdx, handle)
	}
	return data, nil
}
