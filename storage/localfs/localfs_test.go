package localfs

import (
	"os"
	"testing"

	"emergentminds.org/covenant/cidutil"
	"emergentminds.org/covenant/storage"
	"emergentminds.org/covenant/storage/testkit"
)

func newCAS(t *testing.T) *CAS {
	t.Helper()
	cas, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return cas
}

func TestLocalFS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return newCAS(t)
	})
}

func TestLocalFS_RejectMutationByOverwrite(t *testing.T) {
	cas := newCAS(t)

	orig := []byte("original")
	id, err := cas.Put(orig)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Corrupt the stored object out-of-band.
	path := cas.pathFor(id)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := cas.Get(id); err != storage.ErrCIDMismatch {
		t.Fatalf("Get mismatch: got %v want %v", err, storage.ErrCIDMismatch)
	}

	// Put must not repair the corrupted object.
	if _, err := cas.Put(orig); err != storage.ErrImmutable {
		t.Fatalf("Put after corruption: got %v want %v", err, storage.ErrImmutable)
	}

	wantID, err := cidutil.CIDv1RawSHA256CID(orig)
	if err != nil {
		t.Fatalf("CIDv1RawSHA256CID failed: %v", err)
	}
	if id != wantID {
		t.Fatalf("unexpected CID: got %s want %s", id, wantID)
	}
}

func TestLocalFS_List(t *testing.T) {
	cas := newCAS(t)
	if ids, err := cas.List(); err != nil || len(ids) != 0 {
		t.Fatalf("List(empty) = %v, %v", ids, err)
	}
	a, err := cas.Put([]byte("a"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	b, err := cas.Put([]byte("b"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := cas.Put([]byte("a")); err != nil {
		t.Fatalf("Put(repeat): %v", err)
	}
	ids, err := cas.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("List returned %d ids", len(ids))
	}
	seen := map[string]bool{ids[0].String(): true, ids[1].String(): true}
	if !seen[a.String()] || !seen[b.String()] {
		t.Fatalf("List missing objects: %v", ids)
	}
}
