package storage

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"emergentminds.org/covenant/canonical"
)

// Archive stores canonical JSON documents in a CAS.
//
// A nil *Archive is valid and stores nothing; Put returns ErrNoArchive.
type Archive struct {
	cas CAS
	log *zap.Logger
}

// NewArchive wraps cas. A nil logger discards output.
func NewArchive(cas CAS, log *zap.Logger) *Archive {
	if log == nil {
		log = zap.NewNop()
	}
	return &Archive{cas: cas, log: log.Named("archive")}
}

// PutJSON stores the canonical encoding of v. kind is only used for logging.
func (a *Archive) PutJSON(kind string, v any) (cid.Cid, error) {
	b, err := canonical.Marshal(v)
	if err != nil {
		return cid.Undef, fmt.Errorf("archive %s: %w", kind, err)
	}
	return a.Put(kind, b)
}

// Put stores b as is.
func (a *Archive) Put(kind string, b []byte) (cid.Cid, error) {
	if a == nil || a.cas == nil {
		return cid.Undef, ErrNoArchive
	}
	id, err := a.cas.Put(b)
	if err != nil {
		return cid.Undef, fmt.Errorf("archive %s: %w", kind, err)
	}
	a.log.Debug("archived", zap.String("kind", kind), zap.String("cid", id.String()), zap.Int("bytes", len(b)))
	return id, nil
}

func (a *Archive) Has(id cid.Cid) bool {
	if a == nil || a.cas == nil {
		return false
	}
	return a.cas.Has(id)
}

func (a *Archive) Get(id cid.Cid) ([]byte, error) {
	if a == nil || a.cas == nil {
		return nil, ErrNoArchive
	}
	return a.cas.Get(id)
}

// CAS returns the backing store, or nil.
func (a *Archive) CAS() CAS {
	if a == nil {
		return nil
	}
	return a.cas
}
