package tensorring

import "testing"

func TestRing_AllocSetGet(t *testing.T) {
	r := New(4)
	h := r.Alloc()
	if err := r.Set(h, Snapshot{Data: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	snap, err := r.Get(h)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(snap.Data) != 3 || snap.Data[0] != 1 {
		t.Errorf("Get() = %v, want [1 2 3]", snap.Data)
	}
}

func TestRing_Overwrap(t *testing.T) {
	r := New(2)
	h0 := r.Alloc()
	_ = r.Set(h0, Snapshot{Data: []byte{0}})
	h1 := r.Alloc()
	_ = r.Set(h1, Snapshot{Data: []byte{1}})
	h2 := r.Alloc() // recycles h0's slot

	if h2 != h0 {
		t.Fatalf("expected 3rd alloc to recycle slot %d, got %d", h0, h2)
	}
	if err := r.Set(h2, Snapshot{Data: []byte{2}}); err != nil {
		t.Fatalf("Set() on recycled slot error = %v", err)
	}
	snap, err := r.Get(h0)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.Data[0] != 2 {
		t.Errorf("overwrap should not crash and should reflect the newest writer: got %v", snap.Data)
	}
}

func TestRing_OutOfRangeHandle(t *testing.T) {
	r := New(2)
	if _, err := r.Get(99); err == nil {
		t.Error("expected an error for an out-of-range handle")
	}
}

func TestRing_UnallocatedHandle(t *testing.T) {
	r := New(2)
	if _, err := r.Get(0); err == nil {
		t.Error("expected an error reading a never-allocated handle")
	}
}
