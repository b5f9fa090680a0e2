package domain

// DeviceFlag identifies a processor kind a Worker can be bound to.
type DeviceFlag int

const (
	DeviceCPU DeviceFlag = iota
	DeviceGPU
	DeviceDSP
	DeviceNPU
)

func (d DeviceFlag) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "gpu"
	case DeviceDSP:
		return "dsp"
	case DeviceNPU:
		return "npu"
	default:
		return "unknown"
	}
}

// BackendType identifies which vendor runtime parses and executes a model.
// band's core ships only a reference "cpu" backend (see
// internal/infra/backend); tflite/grpc are named here because the ABI
// must be able to name them even though band does not implement their
// loaders (spec.md §1 Out of scope).
type BackendType int

const (
	BackendCPURef BackendType = iota
	BackendTFLite
	BackendGRPC
)

// DataType enumerates the tensor element types the ABI can describe.
type DataType int

const (
	DataTypeFloat32 DataType = iota
	DataTypeInt32
	DataTypeUint8
	DataTypeInt8
	DataTypeInt64
	DataTypeBool
	DataTypeComplex64
	DataTypeString
	DataTypeFloat16
	DataTypeFloat64
	DataTypeInt16
)

// QuantizationType enumerates tensor quantization schemes.
type QuantizationType int

const (
	QuantizationNone QuantizationType = iota
	QuantizationAffine
)

// SchedulerType selects a Scheduler policy (spec.md §4.5).
type SchedulerType int

const (
	SchedulerFixedWorker SchedulerType = iota
	SchedulerFixedWorkerGlobalQueue
	SchedulerRoundRobin
	SchedulerShortestExpectedLatency
	SchedulerHeterogeneousEarliestFinishTime
	SchedulerLeastSlackTimeFirst
)

// CPUMaskFlag names a CPU cluster affinity preset.
type CPUMaskFlag int

const (
	CPUMaskAll CPUMaskFlag = iota
	CPUMaskLittle
	CPUMaskBig
	CPUMaskPrimary
)

// WorkerQueueType distinguishes a worker's job source, matching the
// Scheduler.GetWorkerType contract in spec.md §4.5.
type WorkerQueueType int

const (
	DeviceQueue WorkerQueueType = iota
	GlobalQueue
)

// JobStatus is the terminal or in-flight state of a Job (spec.md §3).
type JobStatus int

const (
	JobQueued JobStatus = iota
	JobRunning
	JobSuccess
	JobSLOViolation
	JobEnqueueFailure
	JobInvokeFailure
	JobInputCopyFailure
	JobOutputCopyFailure
)

// Terminal reports whether the status is one Wait()/the finished-jobs
// ring expects to observe (spec.md §8: "status ∈ {success, sloViolation,
// *Failure}").
func (s JobStatus) Terminal() bool {
	return s != JobQueued && s != JobRunning
}

func (s JobStatus) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobRunning:
		return "running"
	case JobSuccess:
		return "success"
	case JobSLOViolation:
		return "sloViolation"
	case JobEnqueueFailure:
		return "enqueueFailure"
	case JobInvokeFailure:
		return "invokeFailure"
	case JobInputCopyFailure:
		return "inputCopyFailure"
	case JobOutputCopyFailure:
		return "outputCopyFailure"
	default:
		return "unknown"
	}
}

// SubgraphPreparationType selects a ModelAnalyzer preparation mode
// (spec.md §4.1).
type SubgraphPreparationType int

const (
	PrepNoFallback SubgraphPreparationType = iota
	PrepUnit
	PrepMergedUnit
	PrepFallbackPerWorker
)
