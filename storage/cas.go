// Package storage defines the immutable content-addressed archive used for
// ledger snapshots and accepted registration artifacts.
package storage

import (
	"errors"

	"github.com/ipfs/go-cid"
)

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrInvalidCID  = errors.New("storage: invalid cid")
	ErrCIDMismatch = errors.New("storage: cid mismatch")
	ErrImmutable   = errors.New("storage: stored object differs from its cid")
	ErrNoArchive   = errors.New("storage: no archive configured")
)

// IsNotFound reports whether err means the object is absent.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// CAS stores archive objects under their CIDv1 (raw, sha2-256).
//
// Writing the same bytes twice yields the same CID and no error. An object,
// once written, never changes; a backend that finds different bytes under an
// existing CID reports ErrImmutable. Get on an absent CID wraps ErrNotFound.
// Callers archive canonical JSON, so a ledger snapshot's CID is the ledger's
// anchor CID.
type CAS interface {
	Put(b []byte) (cid.Cid, error)
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}
