package sqlite

import (
	"testing"

	"github.com/band-engine/band/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProfileStore_UpsertAndGet(t *testing.T) {
	db := newTestDB(t)
	store := NewProfileStore(db)
	key := domain.SubgraphKey{ModelID: 1, WorkerID: 0, UnitIndices: domain.NewBitMask(0)}

	if err := store.Upsert(key, 1200, 1); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.Upsert(key, 1000, 2); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	us, n, ok, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || us != 1000 || n != 2 {
		t.Fatalf("Get() = (%d, %d, %v), want (1000, 2, true)", us, n, ok)
	}
}

func TestProfileStore_GetMissing(t *testing.T) {
	db := newTestDB(t)
	store := NewProfileStore(db)
	_, _, ok, err := store.Get(domain.SubgraphKey{ModelID: 99})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatal("Get() on missing key should report ok=false")
	}
}

func TestProfileStore_All(t *testing.T) {
	db := newTestDB(t)
	store := NewProfileStore(db)
	k1 := domain.SubgraphKey{ModelID: 1}
	k2 := domain.SubgraphKey{ModelID: 2}
	if err := store.Upsert(k1, 500, 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(k2, 800, 1); err != nil {
		t.Fatal(err)
	}
	all, err := store.All()
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if all[k1.String()] != 500 || all[k2.String()] != 800 {
		t.Fatalf("All() = %v", all)
	}
}

func TestFinishedJobArchive_AppendAndRecent(t *testing.T) {
	db := newTestDB(t)
	archive := NewFinishedJobArchive(db)

	for i := 1; i <= 3; i++ {
		job := &domain.Job{
			JobID:       domain.JobID(i),
			ModelID:     1,
			SubgraphKey: domain.SubgraphKey{ModelID: 1, WorkerID: 0},
			Status:      domain.JobSuccess,
			InvokeTime:  1000,
			EndTime:     2000,
		}
		if err := archive.Append(job); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	recs, err := archive.Recent(2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Recent(2) returned %d records, want 2", len(recs))
	}
	if recs[0].JobID != 3 || recs[1].JobID != 2 {
		t.Fatalf("Recent() order = %v, want newest first", recs)
	}
}

func TestSchedulerSnapshot_RecordAndLatest(t *testing.T) {
	db := newTestDB(t)
	snap := NewSchedulerSnapshot(db)

	if _, _, _, _, _, ok, err := snap.Latest(); err != nil || ok {
		t.Fatalf("Latest() on empty store = (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	if err := snap.Record(3, 10, 7, 1, 0); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := snap.Record(5, 12, 9, 1, 1); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	depth, enq, comp, stolen, slo, ok, err := snap.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if !ok || depth != 5 || enq != 12 || comp != 9 || stolen != 1 || slo != 1 {
		t.Fatalf("Latest() = (%d,%d,%d,%d,%d,%v), unexpected", depth, enq, comp, stolen, slo, ok)
	}
}
