package sqlite

import (
	"database/sql"
	"time"

	"github.com/band-engine/band/internal/domain"
)

// ProfileStore is a durable alternative/companion to the JSON profile file
// of spec.md §4.2: LatencyEstimator.Init may load from either, and
// UpdateLatency writes through to whichever is configured. The JSON path
// remains the documented interchange format; this is additive.
type ProfileStore struct {
	db *DB
}

// NewProfileStore wraps db for subgraph-latency persistence.
func NewProfileStore(db *DB) *ProfileStore { return &ProfileStore{db: db} }

// Upsert records a subgraph's latest moving-average latency and sample
// count, keyed by the SubgraphKey's textual encoding.
func (s *ProfileStore) Upsert(key domain.SubgraphKey, movingAvgUs int64, sampleCount int) error {
	_, err := s.db.db.Exec(`
		INSERT INTO subgraph_profiles (subgraph_key, moving_avg_us, sample_count, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(subgraph_key) DO UPDATE SET
			moving_avg_us = excluded.moving_avg_us,
			sample_count  = excluded.sample_count,
			updated_at    = datetime('now')
	`, key.String(), movingAvgUs, sampleCount)
	return err
}

// Get returns the persisted moving average and sample count for key, if any.
func (s *ProfileStore) Get(key domain.SubgraphKey) (movingAvgUs int64, sampleCount int, ok bool, err error) {
	err = s.db.db.QueryRow(`
		SELECT moving_avg_us, sample_count FROM subgraph_profiles WHERE subgraph_key = ?
	`, key.String()).Scan(&movingAvgUs, &sampleCount)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return movingAvgUs, sampleCount, true, nil
}

// All returns every persisted profile entry, keyed by its textual
// SubgraphKey encoding — the shape LatencyEstimator.Init needs to seed its
// in-memory table at startup.
func (s *ProfileStore) All() (map[string]int64, error) {
	rows, err := s.db.db.Query(`SELECT subgraph_key, moving_avg_us FROM subgraph_profiles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var us int64
		if err := rows.Scan(&key, &us); err != nil {
			return nil, err
		}
		out[key] = us
	}
	return out, rows.Err()
}

// FinishedJobArchive is a durable, append-only tail of the in-memory
// finished-jobs ring (spec.md §6 "Finished job record"), so a ring
// overwrap does not destroy observability data a caller wanted retained.
type FinishedJobArchive struct {
	db *DB
}

// NewFinishedJobArchive wraps db for finished-job archival.
func NewFinishedJobArchive(db *DB) *FinishedJobArchive { return &FinishedJobArchive{db: db} }

// Append records job's terminal state. It never overwrites — the ring's
// overwrite semantics are exactly what this archive exists to outlive.
func (a *FinishedJobArchive) Append(job *domain.Job) error {
	_, err := a.db.db.Exec(`
		INSERT INTO finished_jobs (job_id, model_id, worker_id, subgraph_key, status, invoke_time_us, end_time_us)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, int64(job.JobID), int64(job.ModelID), int(job.SubgraphKey.WorkerID), job.SubgraphKey.String(),
		int(job.Status), job.InvokeTime, job.EndTime)
	return err
}

// FinishedJobRecord is one archived row.
type FinishedJobRecord struct {
	JobID       domain.JobID
	ModelID     domain.ModelID
	WorkerID    domain.WorkerID
	SubgraphKey string
	Status      domain.JobStatus
	InvokeTime  int64
	EndTime     int64
	RecordedAt  time.Time
}

// Recent returns the most recently archived finished-job records, newest
// first, capped at limit.
func (a *FinishedJobArchive) Recent(limit int) ([]FinishedJobRecord, error) {
	rows, err := a.db.db.Query(`
		SELECT job_id, model_id, worker_id, subgraph_key, status, invoke_time_us, end_time_us, recorded_at
		FROM finished_jobs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FinishedJobRecord
	for rows.Next() {
		var r FinishedJobRecord
		var jobID, modelID int64
		var workerID, status int
		var recordedAt string
		if err := rows.Scan(&jobID, &modelID, &workerID, &r.SubgraphKey, &status, &r.InvokeTime, &r.EndTime, &recordedAt); err != nil {
			return nil, err
		}
		r.JobID, r.ModelID, r.WorkerID, r.Status = domain.JobID(jobID), domain.ModelID(modelID), domain.WorkerID(workerID), domain.JobStatus(status)
		r.RecordedAt, _ = time.Parse("2006-01-02 15:04:05", recordedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SchedulerSnapshot stores periodic counters describing planner health —
// queue depth and cumulative enqueued/completed/stolen/SLO-violated counts.
type SchedulerSnapshot struct {
	db *DB
}

// NewSchedulerSnapshot wraps db for planner-counter snapshots.
func NewSchedulerSnapshot(db *DB) *SchedulerSnapshot { return &SchedulerSnapshot{db: db} }

// Record inserts one snapshot row.
func (s *SchedulerSnapshot) Record(queueDepth int, totalEnqueued, totalCompleted, totalStolen, totalSLOViolated int64) error {
	_, err := s.db.db.Exec(`
		INSERT INTO scheduler_snapshots (queue_depth, total_enqueued, total_completed, total_stolen, total_slo_violated)
		VALUES (?, ?, ?, ?, ?)
	`, queueDepth, totalEnqueued, totalCompleted, totalStolen, totalSLOViolated)
	return err
}

// Latest returns the most recently recorded snapshot, if any.
func (s *SchedulerSnapshot) Latest() (queueDepth int, totalEnqueued, totalCompleted, totalStolen, totalSLOViolated int64, ok bool, err error) {
	err = s.db.db.QueryRow(`
		SELECT queue_depth, total_enqueued, total_completed, total_stolen, total_slo_violated
		FROM scheduler_snapshots ORDER BY id DESC LIMIT 1
	`).Scan(&queueDepth, &totalEnqueued, &totalCompleted, &totalStolen, &totalSLOViolated)
	if err == sql.ErrNoRows {
		return 0, 0, 0, 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, 0, 0, 0, false, err
	}
	return queueDepth, totalEnqueued, totalCompleted, totalStolen, totalSLOViolated, true, nil
}
