package storage_test

import (
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"emergentminds.org/covenant/cidutil"
	"emergentminds.org/covenant/storage"
	"emergentminds.org/covenant/storage/localfs"
	"emergentminds.org/covenant/storage/testkit"
)

func newLocal(t *testing.T) *localfs.CAS {
	t.Helper()
	cas, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New failed: %v", err)
	}
	return cas
}

func TestReplicated_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return storage.NewReplicated(nil,
			storage.Replica{Name: "primary", CAS: newLocal(t)},
			storage.Replica{Name: "mirror", CAS: newLocal(t)})
	})
}

func TestReplicated_WritesEveryReplica(t *testing.T) {
	a, b := newLocal(t), newLocal(t)
	r := storage.NewReplicated(nil, storage.Replica{Name: "a", CAS: a}, storage.Replica{Name: "b", CAS: b})

	id, err := r.Put([]byte("snapshot"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !a.Has(id) || !b.Has(id) {
		t.Fatalf("object missing from a replica")
	}
	if got := r.Missing(id); len(got) != 0 {
		t.Fatalf("Missing = %v, want none", got)
	}

	other, err := a.Put([]byte("only in a"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if got := r.Missing(other); len(got) != 1 || got[0] != "b" {
		t.Fatalf("Missing = %v, want [b]", got)
	}
	if _, err := r.Get(other); err != nil {
		t.Fatalf("Get should fall back across replicas: %v", err)
	}
}

type lyingCAS struct{ storage.CAS }

func (l lyingCAS) Put(b []byte) (cid.Cid, error) {
	return cidutil.CIDv1RawSHA256CID(append([]byte("x"), b...))
}

func TestReplicated_CIDMismatch(t *testing.T) {
	r := storage.NewReplicated(nil,
		storage.Replica{Name: "good", CAS: newLocal(t)},
		storage.Replica{Name: "bad", CAS: lyingCAS{newLocal(t)}})
	if _, err := r.Put([]byte("snapshot")); !errors.Is(err, storage.ErrCIDMismatch) {
		t.Fatalf("Put: got %v want ErrCIDMismatch", err)
	}
	if _, err := storage.NewReplicated(nil).Put([]byte("x")); err == nil {
		t.Fatalf("Put without replicas should fail")
	}
}
