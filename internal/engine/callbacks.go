package engine

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/band-engine/band/internal/domain"
	"github.com/band-engine/band/internal/infra/observability"
	"github.com/band-engine/band/internal/infra/tensorring"
)

// tensorBundle is the engine-private wire format stored in a
// TensorRingBuffer snapshot: every tensor a Job's input or output side
// needs, keyed by tensor index. Job carries a single int handle
// (spec.md §3), so the bundle — not the ring slot — is what fans out to
// several tensors.
type tensorBundle map[int][]byte

func encodeBundle(b tensorBundle) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(b)
	return buf.Bytes()
}

func decodeBundle(data []byte) (tensorBundle, error) {
	var b tensorBundle
	if len(data) == 0 {
		return tensorBundle{}, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, fmt.Errorf("engine: malformed tensor bundle: %w", err)
	}
	return b, nil
}

// TryCopyInputTensors implements worker.Callbacks: it moves the client's
// input tensors from the job's ring handle into the executor's private
// tensor store (spec.md §4.3). A job whose input handle is invalid is a
// later unit step of a chained request — its inputs are the previous
// step's outputs, already resident in the same executor's tensor store,
// so there is nothing to copy (a simplification that holds as long as
// every unit step of one job lands on the same worker, as it does with
// the default configuration's single CPU worker).
func (e *Engine) TryCopyInputTensors(job *domain.Job) error {
	if job.InputHandle == domain.InvalidHandle {
		return nil
	}
	me, ok := e.lookupModel(job.ModelID)
	if !ok {
		return fmt.Errorf("engine: %w: model %d", domain.ErrNoSuchModel, job.ModelID)
	}
	executor, ok := me.executors[job.SubgraphKey.WorkerID]
	if !ok {
		return fmt.Errorf("engine: %w: model %d has no executor on worker %d", domain.ErrNoSuchWorker, job.ModelID, job.SubgraphKey.WorkerID)
	}
	inputs, err := executor.GetInputs(job.SubgraphKey)
	if err != nil {
		return fmt.Errorf("engine: %w: %v", domain.ErrInputCopyFailure, err)
	}
	snap, err := me.ring.Get(job.InputHandle)
	if err != nil {
		return fmt.Errorf("engine: %w: %v", domain.ErrInputCopyFailure, err)
	}
	bundle, err := decodeBundle(snap.Data)
	if err != nil {
		return fmt.Errorf("engine: %w: %v", domain.ErrInputCopyFailure, err)
	}
	for _, idx := range inputs {
		data, ok := bundle[idx]
		if !ok {
			return fmt.Errorf("engine: %w: tensor %d missing from input handle %d", domain.ErrInputCopyFailure, idx, job.InputHandle)
		}
		if err := executor.WriteTensor(idx, data); err != nil {
			return fmt.Errorf("engine: %w: %v", domain.ErrInputCopyFailure, err)
		}
	}
	return nil
}

// ExecuteSubgraph implements worker.Callbacks by delegating straight to
// the bound executor.
func (e *Engine) ExecuteSubgraph(ctx context.Context, job *domain.Job) error {
	me, ok := e.lookupModel(job.ModelID)
	if !ok {
		return fmt.Errorf("engine: %w: model %d", domain.ErrNoSuchModel, job.ModelID)
	}
	executor, ok := me.executors[job.SubgraphKey.WorkerID]
	if !ok {
		return fmt.Errorf("engine: %w: model %d has no executor on worker %d", domain.ErrNoSuchWorker, job.ModelID, job.SubgraphKey.WorkerID)
	}
	return executor.ExecuteSubgraph(ctx, job.SubgraphKey)
}

// TryCopyOutputTensors implements worker.Callbacks: it always writes the
// subgraph's output tensors back into the job's output ring handle, final
// unit step or not, so a client polling mid-chain sees the latest
// intermediate result too.
func (e *Engine) TryCopyOutputTensors(job *domain.Job) error {
	me, ok := e.lookupModel(job.ModelID)
	if !ok {
		return fmt.Errorf("engine: %w: model %d", domain.ErrNoSuchModel, job.ModelID)
	}
	executor, ok := me.executors[job.SubgraphKey.WorkerID]
	if !ok {
		return fmt.Errorf("engine: %w: model %d has no executor on worker %d", domain.ErrNoSuchWorker, job.ModelID, job.SubgraphKey.WorkerID)
	}
	outputs, err := executor.GetOutputs(job.SubgraphKey)
	if err != nil {
		return fmt.Errorf("engine: %w: %v", domain.ErrOutputCopyFailure, err)
	}
	bundle := make(tensorBundle, len(outputs))
	for _, idx := range outputs {
		data, err := executor.ReadTensor(idx)
		if err != nil {
			return fmt.Errorf("engine: %w: %v", domain.ErrOutputCopyFailure, err)
		}
		bundle[idx] = data
	}
	if job.OutputHandle == domain.InvalidHandle {
		return nil
	}
	if err := me.ring.Set(job.OutputHandle, tensorring.Snapshot{Data: encodeBundle(bundle)}); err != nil {
		return fmt.Errorf("engine: %w: %v", domain.ErrOutputCopyFailure, err)
	}
	return nil
}

// moreUnitsRemain reports whether job, having just finished its current
// SubgraphKey successfully, still owes the model some unit subgraph
// (planner.EnqueueFinishedJob's moreUnitsRemain parameter — the planner
// has no ModelSpec of its own to answer this from).
func moreUnitsRemain(job *domain.Job, spec *domain.ModelSpec) bool {
	if job.Status != domain.JobSuccess {
		return false
	}
	if job.SubgraphKey.IsFullModel() {
		return false
	}
	if len(spec.UnitSubgraphs) == 0 {
		return false
	}
	resolved := job.ResolvedUnitSubgraphs.Union(job.SubgraphKey.UnitIndices)
	return !resolved.Contains(fullUnitMask(spec))
}

// EnqueueFinishedJob implements worker.Callbacks: it folds the observed
// latency into the estimator, forgets any HEFT reservation once the job is
// truly done, and hands the job to the planner's finished-job path.
func (e *Engine) EnqueueFinishedJob(job *domain.Job) {
	me, ok := e.lookupModel(job.ModelID)
	more := false
	if ok {
		more = moreUnitsRemain(job, me.spec)
		if job.Status == domain.JobSuccess && job.InvokeTime > 0 && job.EndTime > job.InvokeTime {
			latency := job.EndTime - job.InvokeTime
			e.estimator.UpdateLatency(job.SubgraphKey, latency)
			observability.SubgraphLatency.WithLabelValues(job.SubgraphKey.String()).Observe(float64(latency))
		}
	}
	if more {
		// The next unit step reads the outputs this step left in the
		// executor's tensor store; see TryCopyInputTensors.
		job.InputHandle = domain.InvalidHandle
	}
	if !more {
		if e.heft != nil {
			e.heft.Forget(job.JobID)
		}
		observability.JobsFinished.WithLabelValues(
			fmt.Sprint(job.ModelID), fmt.Sprint(job.SubgraphKey.WorkerID), fmt.Sprint(job.Status),
		).Inc()
		e.totalCompleted.Add(1)
		if job.Status == domain.JobSLOViolation {
			observability.JobsSLOViolated.WithLabelValues(fmt.Sprint(job.ModelID)).Inc()
			e.totalSLOViolated.Add(1)
		}
		if e.jobArchive != nil {
			_ = e.jobArchive.Append(job)
		}
		e.endJobSpan(job)
	}
	e.planner.EnqueueFinishedJob(job, more)
}

// ResolveForWorker implements worker.Callbacks: after a successful
// work-steal, re-targets a job's SubgraphKey onto the thief worker,
// covering the same set of not-yet-resolved units.
func (e *Engine) ResolveForWorker(job *domain.Job, w domain.WorkerID) (domain.SubgraphKey, bool) {
	return e.LargestSubgraphKey(job, w)
}
