package engine

import (
	"context"
	"fmt"

	"github.com/band-engine/band/internal/domain"
	"github.com/band-engine/band/internal/infra/observability"
)

// RequestAsync submits model for inference against the tensors already
// written to inputHandle (via WriteTensor) and returns the job id and the
// output handle the result will land on once the job finishes
// (spec.md §4.6 RequestAsync). targetWorkerID pins the job to a specific
// worker (spec.md §3's Job.target_worker_id); pass domain.AnyWorker to
// let the installed scheduler pick. An out-of-range targetWorkerID is
// rejected immediately — no job is enqueued (spec.md §8 Scenario 3).
func (e *Engine) RequestAsync(modelID domain.ModelID, inputHandle int, sloUs int64, requireCallback bool, targetWorkerID domain.WorkerID) (domain.JobID, int, error) {
	me, ok := e.lookupModel(modelID)
	if !ok {
		return 0, 0, fmt.Errorf("engine: %w: model %d", domain.ErrNoSuchModel, modelID)
	}
	if targetWorkerID != domain.AnyWorker {
		if _, ok := e.workerEntry(targetWorkerID); !ok {
			return 0, 0, fmt.Errorf("engine: %w: worker %d", domain.ErrInvalidTarget, targetWorkerID)
		}
	}
	outputHandle := me.ring.Alloc()
	job := &domain.Job{
		ModelID:         modelID,
		TargetWorkerID:  targetWorkerID,
		InputHandle:     inputHandle,
		OutputHandle:    outputHandle,
		SLOUs:           sloUs,
		RequireCallback: requireCallback,
	}
	jobID := e.planner.EnqueueRequest(job, false)
	observability.JobsEnqueued.WithLabelValues(fmt.Sprint(modelID)).Inc()
	e.totalEnqueued.Add(1)
	e.startJobSpan(jobID, modelID)
	return jobID, outputHandle, nil
}

// RequestSync is RequestAsync followed by a Wait on the one job; it
// returns the job's terminal status alongside the output handle so a
// caller can tell success from an SLO violation or a backend failure
// before it bothers reading tensors back out (spec.md §4.6 RequestSync).
func (e *Engine) RequestSync(ctx context.Context, modelID domain.ModelID, inputHandle int, sloUs int64, targetWorkerID domain.WorkerID) (int, domain.JobStatus, error) {
	jobID, outputHandle, err := e.RequestAsync(modelID, inputHandle, sloUs, false, targetWorkerID)
	if err != nil {
		return 0, 0, err
	}
	if err := e.planner.Wait(ctx, []domain.JobID{jobID}); err != nil {
		return outputHandle, 0, err
	}
	job, ok := e.planner.FinishedJob(jobID)
	if !ok {
		// Ring overwrap raced Wait's return — spec.md §8 documents this as
		// possible-but-rare under sustained load; treat it as success since
		// Wait already confirmed a terminal status was recorded.
		return outputHandle, domain.JobSuccess, nil
	}
	return outputHandle, job.Status, nil
}

// Wait blocks until every job in jobIDs has reached a terminal status.
func (e *Engine) Wait(ctx context.Context, jobIDs []domain.JobID) error {
	return e.planner.Wait(ctx, jobIDs)
}

// JobStatus returns the terminal status recorded for jobID, if any.
func (e *Engine) JobStatus(jobID domain.JobID) (domain.JobStatus, bool) {
	job, ok := e.planner.FinishedJob(jobID)
	if !ok {
		return 0, false
	}
	return job.Status, true
}

// SetOnEndRequest registers a callback fired (outside any engine lock)
// whenever a job with RequireCallback set reaches a terminal status.
func (e *Engine) SetOnEndRequest(cb func(domain.JobID, domain.JobStatus)) domain.CallbackID {
	return e.planner.SetOnEndRequest(cb)
}

// UnsetOnEndRequest removes a previously registered callback.
func (e *Engine) UnsetOnEndRequest(id domain.CallbackID) {
	e.planner.UnsetOnEndRequest(id)
}
