package memory

import (
	"context"
	"testing"

	"github.com/offscreenlabs/timecredit/pkg/timecredit"
)

func TestReadMissingKey(t *testing.T) {
	s := New()
	_, err := s.Read(context.Background(), "nope")
	if err != timecredit.ErrKeyNotFound {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestWriteAtomicAndRead(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WriteAtomic(ctx, []timecredit.Pair{
		{Key: "a", Value: "1"},
		{Key: "b", Value: "2"},
	}, timecredit.WriteSync)
	if err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := s.Read(ctx, key)
		if err != nil {
			t.Fatalf("Read %q failed: %v", key, err)
		}
		if got != want {
			t.Errorf("Read %q = %q, want %q", key, got, want)
		}
	}
}

func TestDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.WriteAtomic(ctx, []timecredit.Pair{{Key: "a", Value: "1"}}, timecredit.WriteAsync)
	if err := s.Delete(ctx, []string{"a", "missing"}, timecredit.WriteSync); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Read(ctx, "a"); err != timecredit.ErrKeyNotFound {
		t.Errorf("Expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestSetFailing(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.SetFailing(true)
	err := s.WriteAtomic(ctx, []timecredit.Pair{{Key: "a", Value: "1"}}, timecredit.WriteSync)
	if err != timecredit.ErrStoreUnavailable {
		t.Errorf("Expected ErrStoreUnavailable, got %v", err)
	}
	if err := s.Delete(ctx, []string{"a"}, timecredit.WriteSync); err != timecredit.ErrStoreUnavailable {
		t.Errorf("Expected ErrStoreUnavailable, got %v", err)
	}

	s.SetFailing(false)
	if err := s.WriteAtomic(ctx, []timecredit.Pair{{Key: "a", Value: "1"}}, timecredit.WriteSync); err != nil {
		t.Errorf("Expected write to succeed again, got %v", err)
	}
}

func TestClearAndSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.WriteAtomic(ctx, []timecredit.Pair{{Key: "a", Value: "1"}}, timecredit.WriteAsync)
	snap := s.Snapshot()
	if snap["a"] != "1" {
		t.Errorf("Snapshot missing written pair: %v", snap)
	}

	// Mutating the snapshot must not affect the store.
	snap["a"] = "tampered"
	if v, _ := s.Read(ctx, "a"); v != "1" {
		t.Errorf("Snapshot aliased store data: %q", v)
	}

	s.Clear()
	if _, err := s.Read(ctx, "a"); err != timecredit.ErrKeyNotFound {
		t.Errorf("Expected empty store after Clear, got %v", err)
	}
}
