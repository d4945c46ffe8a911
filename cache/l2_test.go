package cache

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/tarn/durability"
	"github.com/chazu/tarn/hash"
)

func testDigest(b byte) hash.Digest {
	var d hash.Digest
	for i := range d {
		d[i] = b
	}
	return d
}

func openTestStore(t *testing.T, runID string, shared bool) *ContentStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenContentStore(path, runID, shared, NewStats())
	if err != nil {
		t.Fatalf("OpenContentStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePutGet(t *testing.T) {
	s := openTestStore(t, "run-1", false)
	d := testDigest(1)
	payload := []byte("payload")

	if err := s.Put(d, durability.High, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, err := s.Get(d)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(e.Payload) != "payload" || e.Tier != durability.High || e.RunID != "run-1" {
		t.Errorf("entry = %+v", e)
	}

	if _, err := s.Get(testDigest(2)); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("missing digest err = %v", err)
	}
}

func TestStoreRejectsLow(t *testing.T) {
	s := openTestStore(t, "run-1", false)
	defer func() {
		if recover() == nil {
			t.Error("storing a LOW result should panic")
		}
	}()
	s.Put(testDigest(1), durability.Low, []byte("x"))
}

func TestStoreMediumScopedToRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	writer, err := OpenContentStore(path, "writer", false, NewStats())
	if err != nil {
		t.Fatal(err)
	}
	dm, dh := testDigest(1), testDigest(2)
	if err := writer.Put(dm, durability.Medium, []byte("med")); err != nil {
		t.Fatal(err)
	}
	if err := writer.Put(dh, durability.High, []byte("high")); err != nil {
		t.Fatal(err)
	}
	writer.Close()

	// Another run: MEDIUM entries are stale, HIGH entries are not.
	reader, err := OpenContentStore(path, "reader", false, NewStats())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reader.Get(dm); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("foreign MEDIUM entry err = %v; want not found", err)
	}
	if _, err := reader.Get(dh); err != nil {
		t.Errorf("foreign HIGH entry err = %v; want hit", err)
	}
	reader.Close()

	// A shared store trusts foreign MEDIUM entries.
	sharedStore, err := OpenContentStore(path, "reader2", true, NewStats())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sharedStore.Get(dm); err != nil {
		t.Errorf("shared MEDIUM entry err = %v; want hit", err)
	}
	sharedStore.Close()
}

// corruptPayload flips the stored bytes out from under the checksum.
func corruptPayload(t *testing.T, path string, d hash.Digest) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec("UPDATE entries SET payload = ? WHERE digest = ?", []byte("tampered"), d[:]); err != nil {
		t.Fatal(err)
	}
}

func TestStoreCorruptEntryIsMissAndDeleted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	stats := NewStats()
	s, err := OpenContentStore(path, "run-1", false, stats)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	d := testDigest(1)
	if err := s.Put(d, durability.High, []byte("good")); err != nil {
		t.Fatal(err)
	}
	corruptPayload(t, path, d)

	if _, err := s.Get(d); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("corrupt entry err = %v; want not found", err)
	}
	if stats.L2Corrupt.Load() != 1 {
		t.Errorf("corrupt count = %d; want 1", stats.L2Corrupt.Load())
	}

	// The row is gone, not just skipped.
	n, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Count = %d; want 0", n)
	}
}

func TestStoreVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenContentStore(path, "run-1", false, NewStats())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	good, bad := testDigest(1), testDigest(2)
	if err := s.Put(good, durability.High, []byte("good")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(bad, durability.High, []byte("bad")); err != nil {
		t.Fatal(err)
	}
	corruptPayload(t, path, bad)

	removed, err := s.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d; want 1", removed)
	}
	if _, err := s.Get(good); err != nil {
		t.Errorf("intact entry lost: %v", err)
	}
}

func TestStorePruneEvictsLowestDurabilityFirst(t *testing.T) {
	s := openTestStore(t, "run-1", true)

	med, high := testDigest(1), testDigest(2)
	if err := s.Put(med, durability.Medium, []byte("mmmmmmmmmm")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(high, durability.High, []byte("hhhhhhhhhh")); err != nil {
		t.Fatal(err)
	}

	// Bound admits one entry: the MEDIUM one must go first.
	removed, err := s.Prune(10)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d; want 1", removed)
	}
	if _, err := s.Get(med); !errors.Is(err, ErrEntryNotFound) {
		t.Error("MEDIUM entry should have been pruned")
	}
	if _, err := s.Get(high); err != nil {
		t.Errorf("HIGH entry pruned too early: %v", err)
	}
}

func TestStorePruneNoopUnderBound(t *testing.T) {
	s := openTestStore(t, "run-1", false)
	if err := s.Put(testDigest(1), durability.High, []byte("x")); err != nil {
		t.Fatal(err)
	}
	removed, err := s.Prune(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("removed = %d; want 0", removed)
	}
}

func TestStoreCountAndTotalBytes(t *testing.T) {
	s := openTestStore(t, "run-1", false)
	if err := s.Put(testDigest(1), durability.High, []byte("abcd")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(testDigest(2), durability.High, []byte("efgh")); err != nil {
		t.Fatal(err)
	}

	n, err := s.Count()
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v; want 2", n, err)
	}
	size, err := s.TotalBytes()
	if err != nil || size != 8 {
		t.Errorf("TotalBytes = %d, %v; want 8", size, err)
	}
}
