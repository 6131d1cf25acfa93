package bundle

import (
	"archive/tar"
	"bytes"
	"errors"
	"testing"

	"github.com/ipfs/go-cid"

	"emergentminds.org/covenant/storage"
	"emergentminds.org/covenant/storage/localfs"
)

func newLocal(t *testing.T) *localfs.CAS {
	t.Helper()
	cas, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New failed: %v", err)
	}
	return cas
}

func seed(t *testing.T, cas storage.CAS, objects ...string) []cid.Cid {
	t.Helper()
	ids := make([]cid.Cid, 0, len(objects))
	for _, o := range objects {
		id, err := cas.Put([]byte(o))
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestWriteReadRoundTrip(t *testing.T) {
	src := newLocal(t)
	ids := seed(t, src, `[{"cid_hash":"aa"}]`, `{"registration":1}`, `{"registration":2}`)
	anchor := ids[0]

	var first, second bytes.Buffer
	m, err := Write(&first, src, anchor, []cid.Cid{ids[2], ids[1], ids[1]})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(m.Objects) != 3 {
		t.Fatalf("objects = %d, want 3", len(m.Objects))
	}
	if m.Anchor != anchor.String() || len(m.LedgerHash) != 64 {
		t.Fatalf("unexpected manifest %+v", m)
	}
	if _, err := Write(&second, src, anchor, []cid.Cid{ids[1], ids[2]}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("bundle bytes depend on id order")
	}

	dst := newLocal(t)
	got, err := Read(bytes.NewReader(first.Bytes()), dst)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Anchor != m.Anchor || got.LedgerHash != m.LedgerHash {
		t.Fatalf("manifest changed in transit: %+v", got)
	}
	for _, id := range ids {
		if !dst.Has(id) {
			t.Fatalf("object %s not imported", id)
		}
	}
}

func TestWriteMissingObject(t *testing.T) {
	src := newLocal(t)
	ids := seed(t, src, "snapshot")
	other := seed(t, newLocal(t), "elsewhere")

	_, err := Write(&bytes.Buffer{}, src, ids[0], other)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func tarOf(t *testing.T, entries map[string][]byte, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range order {
		if err := writeEntry(tw, name, entries[name]); err != nil {
			t.Fatalf("writeEntry failed: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return buf.Bytes()
}

func TestReadRejectsTampering(t *testing.T) {
	src := newLocal(t)
	ids := seed(t, src, "snapshot")
	var buf bytes.Buffer
	if _, err := Write(&buf, src, ids[0], nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Re-read the entries so they can be rearranged.
	entries := map[string][]byte{}
	tr := tar.NewReader(bytes.NewReader(buf.Bytes()))
	for {
		h, err := tr.Next()
		if err != nil {
			break
		}
		b := new(bytes.Buffer)
		if _, err := b.ReadFrom(tr); err != nil {
			t.Fatalf("read entry: %v", err)
		}
		entries[h.Name] = b.Bytes()
	}
	objName := objectsPrefix + ids[0].String()
	if _, ok := entries[objName]; !ok {
		t.Fatalf("bundle lacks %s", objName)
	}

	t.Run("altered object", func(t *testing.T) {
		bad := map[string][]byte{manifestName: entries[manifestName], objName: []byte("snapshot!")}
		_, err := Read(bytes.NewReader(tarOf(t, bad, manifestName, objName)), newLocal(t))
		if !errors.Is(err, storage.ErrCIDMismatch) {
			t.Fatalf("expected ErrCIDMismatch, got %v", err)
		}
	})

	t.Run("missing manifest", func(t *testing.T) {
		_, err := Read(bytes.NewReader(tarOf(t, entries, objName)), newLocal(t))
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed, got %v", err)
		}
	})

	t.Run("missing object", func(t *testing.T) {
		_, err := Read(bytes.NewReader(tarOf(t, entries, manifestName)), newLocal(t))
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed, got %v", err)
		}
	})

	t.Run("path escape", func(t *testing.T) {
		bad := map[string][]byte{manifestName: entries[manifestName], "../evil": []byte("x")}
		_, err := Read(bytes.NewReader(tarOf(t, bad, manifestName, "../evil")), newLocal(t))
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed, got %v", err)
		}
	})
}
