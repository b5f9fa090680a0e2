package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Configuration errors (RuntimeConfigBuilder.Build, ModelAnalyzer).
	ErrConfiguration = errors.New("configuration error")

	// Registration / lookup errors.
	ErrRegistration = errors.New("model registration failed")
	ErrNoSuchModel  = errors.New("no such model")
	ErrNoSuchWorker = errors.New("no such worker")
	ErrNoSuchJob    = errors.New("no such job")

	// Backend / tensor handoff errors.
	ErrBackend           = errors.New("backend execution failed")
	ErrInputCopyFailure  = errors.New("input tensor copy failed")
	ErrOutputCopyFailure = errors.New("output tensor copy failed")
	ErrStaleHandle       = errors.New("tensor ring handle is stale")

	// Scheduling errors.
	ErrSLOViolation  = errors.New("slo violation")
	ErrShuttingDown  = errors.New("engine is shutting down")
	ErrInvalidTarget = errors.New("invalid target worker")

	// Estimator errors.
	ErrProfilePathUnreadable = errors.New("profile path unreadable")
	ErrNoEligibleWorker      = errors.New("no eligible worker for model")
)
