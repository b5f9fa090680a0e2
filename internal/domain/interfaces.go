package domain

import "context"

// ─── Backend Capability Interfaces ─────────────────────────────────────────
// Thin capability interfaces replacing the deep inheritance hierarchies of
// the source implementation (spec.md §9 "Deep inheritance on backend
// types"). Variants are closed: a small factory table keyed on
// BackendType produces these, rather than an open class hierarchy.

// Model is a parsed graph produced by a backend's loader.
type Model interface {
	BackendType() BackendType
	// InvestigateModelSpec derives the static ModelSpec a ModelAnalyzer
	// needs: op/tensor counts, per-device unsupported ops, and so on
	// (spec.md §6).
	InvestigateModelSpec() (*ModelSpec, error)
}

// TensorView is a read-only view onto a tensor: shape, dtype, and
// quantization, but not ownership of the backing memory. Two views
// compare equal under Equal when they describe compatible cross-backend
// handoffs (spec.md §4.1 "compatible shape/dtype").
type TensorView interface {
	Index() int
	Name() string
	Type() DataType
	Quantization() QuantizationType
	Dims() []int
	Equal(other TensorView) bool
}

// ModelExecutor binds a Model to one Worker and runs named subgraphs on
// it (spec.md §6).
type ModelExecutor interface {
	PrepareSubgraph(model Model, opIndices map[int]struct{}, unitIndices BitMask) error
	ExecuteSubgraph(ctx context.Context, key SubgraphKey) error

	GetInputs(key SubgraphKey) ([]int, error)
	GetOutputs(key SubgraphKey) ([]int, error)
	GetNumTensors(key SubgraphKey) (int, error)
	GetTensorView(key SubgraphKey, tensorIdx int) (TensorView, error)
	HasSubgraph(key SubgraphKey) bool
	GetLargestSubgraphKey() (SubgraphKey, bool)
	ForEachSubgraph(visit func(SubgraphKey) bool)

	// WriteTensor / ReadTensor move raw tensor bytes across the
	// client/backend boundary; the engine calls these from
	// TryCopyInputTensors / TryCopyOutputTensors (spec.md §4.3) using the
	// TensorRingBuffer as the source/destination.
	WriteTensor(tensorIdx int, data []byte) error
	ReadTensor(tensorIdx int) ([]byte, error)
}

// BackendUtil reports which device flags and runtime features a backend
// supports, so the engine can skip creating ModelExecutors for devices
// the backend cannot target.
type BackendUtil interface {
	SupportsDevice(d DeviceFlag) bool
}

// BackendFactory yields the three backend-kind-specific collaborators for
// a BackendType: a loader that turns bytes into a Model, an executor
// constructor, and the BackendUtil singleton. Held in a process-wide
// table populated at engine construction (spec.md §9 "global registries
// for backend creators" → explicit init, not static-init order).
type BackendFactory interface {
	Type() BackendType
	LoadModel(path string) (Model, error)
	NewExecutor(modelID ModelID, worker WorkerID, device DeviceFlag, affinity CPUMaskFlag, numThreads int) (ModelExecutor, error)
	Util() BackendUtil
}

// ─── Scheduler Interface ───────────────────────────────────────────────────

// JobQueue is the ordered collection of pending jobs a Scheduler consumes
// from. Implementations pop jobs they decide to dispatch and leave the
// rest (spec.md §4.5).
type JobQueue interface {
	Len() int
	Front(n int) []*Job // peek, does not remove
	Remove(jobID JobID) (*Job, bool)
}

// Dispatcher is how a Scheduler hands a chosen (Job, SubgraphKey, Worker)
// triple back to the engine for execution.
type Dispatcher interface {
	EnqueueToWorker(worker WorkerID, job *Job) error
	MarkSLOViolation(job *Job)
}

// SchedulingEnvironment is the engine-side helper surface a Scheduler
// policy needs beyond the raw queue: the model→worker cache, the largest
// available SubgraphKey for a (model, worker) pair, and the
// shortest-finish-time search of spec.md §4.6. Implemented by
// internal/engine so scheduler policies never import it directly.
type SchedulingEnvironment interface {
	// LargestSubgraphKey returns the SubgraphKey covering the most unit
	// subgraphs still owed by job on worker w.
	LargestSubgraphKey(job *Job, w WorkerID) (SubgraphKey, bool)

	// ModelWorker returns the cached worker assignment for a model, if any.
	ModelWorker(model ModelID) (WorkerID, bool)
	SetModelWorker(model ModelID, w WorkerID)

	// ShortestLatency walks the job's remaining unit-subgraph boundaries
	// and returns the SubgraphKey sequence and projected end time of the
	// fastest completion across all eligible workers
	// (Engine.GetSubgraphWithShortestLatency, spec.md §4.6).
	ShortestLatency(job *Job, waiting WorkerWaitingTime) ([]SubgraphKey, int64, bool)

	// IdleWorkers returns workers with an empty device queue, for
	// roundRobin.
	IdleWorkers() []WorkerID

	Now() int64
}

// Scheduler is the pluggable scheduling policy interface all six
// spec.md §4.5 policies implement.
type Scheduler interface {
	Schedule(queue JobQueue, waiting WorkerWaitingTime, env SchedulingEnvironment, dispatch Dispatcher) (progressed bool)
	NeedFallbackSubgraphs() bool
	GetWorkerType() WorkerQueueType
}

// LatencyEstimator is the interface the Planner and Schedulers consume;
// implemented by internal/infra/estimator.
type LatencyEstimator interface {
	GetProfiled(key SubgraphKey) (int64, bool)
	GetExpected(key SubgraphKey) (int64, bool)
	GetWorst(model ModelID) (int64, bool)
	UpdateLatency(key SubgraphKey, observedMicros int64)
}
