package storage

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"emergentminds.org/covenant/cidutil"
)

// Replica is one named copy of the archive.
type Replica struct {
	Name string
	CAS  CAS
}

// Replicated writes every object to all replicas, in order, and reads from
// the first replica that holds it.
//
// A Put succeeds only when every replica stored the object under the CID
// derived from its bytes; otherwise ErrCIDMismatch is returned.
type Replicated struct {
	Replicas []Replica
	log      *zap.Logger
}

var _ CAS = (*Replicated)(nil)

// NewReplicated returns a CAS over replicas. A nil logger discards output.
func NewReplicated(log *zap.Logger, replicas ...Replica) *Replicated {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replicated{Replicas: replicas, log: log.Named("archive.replicas")}
}

func (r *Replicated) Put(b []byte) (cid.Cid, error) {
	want, err := cidutil.CIDv1RawSHA256CID(b)
	if err != nil {
		return cid.Undef, err
	}
	if len(r.Replicas) == 0 {
		return cid.Undef, fmt.Errorf("storage: no replicas configured")
	}
	for _, rep := range r.Replicas {
		if rep.CAS == nil {
			return cid.Undef, fmt.Errorf("storage: replica %q has no backend", rep.Name)
		}
		got, err := rep.CAS.Put(b)
		if err != nil {
			return cid.Undef, fmt.Errorf("replica %s: %w", rep.Name, err)
		}
		if got != want {
			return cid.Undef, fmt.Errorf("replica %s: %w", rep.Name, ErrCIDMismatch)
		}
	}
	r.log.Debug("replicated", zap.String("cid", want.String()), zap.Int("replicas", len(r.Replicas)))
	return want, nil
}

func (r *Replicated) Get(id cid.Cid) ([]byte, error) {
	for _, rep := range r.Replicas {
		if rep.CAS == nil {
			continue
		}
		b, err := rep.CAS.Get(id)
		if err == nil {
			return b, nil
		}
		if !IsNotFound(err) {
			return nil, fmt.Errorf("replica %s: %w", rep.Name, err)
		}
	}
	return nil, ErrNotFound
}

func (r *Replicated) Has(id cid.Cid) bool {
	for _, rep := range r.Replicas {
		if rep.CAS != nil && rep.CAS.Has(id) {
			return true
		}
	}
	return false
}

// Missing lists the replicas that do not hold id.
func (r *Replicated) Missing(id cid.Cid) []string {
	var out []string
	for _, rep := range r.Replicas {
		if rep.CAS == nil || !rep.CAS.Has(id) {
			out = append(out, rep.Name)
		}
	}
	return out
}
