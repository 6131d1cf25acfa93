// Package bundle packs archived objects into a deterministic TAR so that a
// ledger snapshot and the registrations behind it can be handed to an
// anchoring medium or loaded into another archive.
//
// Layout:
//
//	manifest.json     canonical JSON, see Manifest
//	objects/<cid>     raw object bytes, one entry per CID
//
// Entries are written in manifest order with normalized headers, so the same
// inputs always produce the same bytes.
package bundle

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"emergentminds.org/covenant/canonical"
	"emergentminds.org/covenant/cidutil"
	"emergentminds.org/covenant/storage"
)

// FormatVersion is the manifest schema version.
const FormatVersion = 1

const (
	manifestName  = "manifest.json"
	objectsPrefix = "objects/"
	maxObjectSize = 64 << 20
)

var ErrMalformed = errors.New("bundle: malformed bundle")

// Manifest describes a bundle. LedgerHash is the sha2-256 digest carried by
// Anchor, i.e. the ledger integrity hash.
type Manifest struct {
	Version    int      `json:"version"`
	Anchor     string   `json:"anchor"`
	LedgerHash string   `json:"ledger_hash"`
	Objects    []Object `json:"objects"`
}

type Object struct {
	CID  string `json:"cid"`
	Size int    `json:"size"`
}

// Write bundles anchor and ids (duplicates and order do not matter) from cas.
// Every object is checked against its CID before it is written.
func Write(w io.Writer, cas storage.CAS, anchor cid.Cid, ids []cid.Cid) (*Manifest, error) {
	if cas == nil {
		return nil, fmt.Errorf("bundle: nil CAS")
	}
	digest, err := cidutil.DigestHex(anchor)
	if err != nil {
		return nil, err
	}

	uniq := map[string]cid.Cid{anchor.String(): anchor}
	for _, id := range ids {
		if !id.Defined() {
			return nil, storage.ErrInvalidCID
		}
		uniq[id.String()] = id
	}
	names := make([]string, 0, len(uniq))
	for s := range uniq {
		names = append(names, s)
	}
	sort.Strings(names)

	m := &Manifest{Version: FormatVersion, Anchor: anchor.String(), LedgerHash: digest, Objects: make([]Object, 0, len(names))}
	payloads := make([][]byte, 0, len(names))
	for _, s := range names {
		b, err := cas.Get(uniq[s])
		if err != nil {
			return nil, fmt.Errorf("bundle: object %s: %w", s, err)
		}
		if got, err := cidutil.CIDv1RawSHA256CID(b); err != nil || got != uniq[s] {
			return nil, fmt.Errorf("bundle: object %s: %w", s, storage.ErrCIDMismatch)
		}
		m.Objects = append(m.Objects, Object{CID: s, Size: len(b)})
		payloads = append(payloads, b)
	}

	tw := tar.NewWriter(w)
	manifest, err := canonical.Indent(m)
	if err != nil {
		return nil, err
	}
	if err := writeEntry(tw, manifestName, manifest); err != nil {
		return nil, err
	}
	for i, obj := range m.Objects {
		if err := writeEntry(tw, objectsPrefix+obj.CID, payloads[i]); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return m, nil
}

// Read imports every object of a bundle into cas and returns its manifest.
//
// Unknown entries, path tricks, duplicate objects, objects whose bytes do
// not match their CID and manifests that disagree with the objects are all
// rejected.
func Read(r io.Reader, cas storage.CAS) (*Manifest, error) {
	if cas == nil {
		return nil, fmt.Errorf("bundle: nil CAS")
	}
	tr := tar.NewReader(r)
	var m *Manifest
	seen := map[string]int{}

	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if h.Typeflag != tar.TypeReg || h.Size < 0 || h.Size > maxObjectSize {
			return nil, fmt.Errorf("%w: unexpected entry %q", ErrMalformed, h.Name)
		}
		payload, err := io.ReadAll(io.LimitReader(tr, maxObjectSize))
		if err != nil {
			return nil, err
		}

		switch name := h.Name; {
		case name == manifestName:
			if m != nil {
				return nil, fmt.Errorf("%w: duplicate manifest", ErrMalformed)
			}
			m = &Manifest{}
			dec := json.NewDecoder(bytes.NewReader(payload))
			dec.DisallowUnknownFields()
			if err := dec.Decode(m); err != nil {
				return nil, fmt.Errorf("%w: manifest: %v", ErrMalformed, err)
			}
		case strings.HasPrefix(name, objectsPrefix) && !strings.ContainsAny(name[len(objectsPrefix):], `/\.`):
			id, err := cid.Decode(name[len(objectsPrefix):])
			if err != nil {
				return nil, storage.ErrInvalidCID
			}
			if _, dup := seen[id.String()]; dup {
				return nil, fmt.Errorf("%w: duplicate object %s", ErrMalformed, id)
			}
			got, err := cas.Put(payload)
			if err != nil {
				return nil, err
			}
			if got != id {
				return nil, fmt.Errorf("bundle: object %s: %w", id, storage.ErrCIDMismatch)
			}
			seen[id.String()] = len(payload)
		default:
			return nil, fmt.Errorf("%w: unknown entry %q", ErrMalformed, h.Name)
		}
	}

	if m == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, manifestName)
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, m.Version)
	}
	if len(m.Objects) != len(seen) {
		return nil, fmt.Errorf("%w: manifest lists %d objects, bundle has %d", ErrMalformed, len(m.Objects), len(seen))
	}
	for _, obj := range m.Objects {
		if size, ok := seen[obj.CID]; !ok || size != obj.Size {
			return nil, fmt.Errorf("%w: object %s does not match the manifest", ErrMalformed, obj.CID)
		}
	}
	if _, ok := seen[m.Anchor]; !ok {
		return nil, fmt.Errorf("%w: anchor %s is not in the bundle", ErrMalformed, m.Anchor)
	}
	return m, nil
}

var epoch = time.Unix(0, 0).UTC()

func writeEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}
