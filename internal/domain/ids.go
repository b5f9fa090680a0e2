package domain

// ─── Identifiers ─────────────────────────────────────────────────────────
// All identifiers are non-negative and monotonically assigned by their
// owning component: ModelID at RegisterModel time, WorkerID as a dense
// index into the engine's worker vector, JobID on enqueue, CallbackID on
// callback registration.

// ModelID identifies a registered model.
type ModelID int64

// WorkerID is a dense index into the engine's worker vector.
type WorkerID int

// JobID identifies a runtime job; also used modulo the finished-jobs ring
// size to locate its record.
type JobID int64

// CallbackID identifies a registered on-end-request callback.
type CallbackID int64

// AnyWorker is the sentinel target_worker_id meaning "scheduler may pick
// any worker", matching spec.md §3's "-1 for any".
const AnyWorker WorkerID = -1

// InvalidHandle is the sentinel TensorRingBuffer handle meaning
// "compute-only, no tensor handoff" (spec.md §3, Job.input_handle /
// output_handle).
const InvalidHandle = -1
