package ledger

import (
	"github.com/ipfs/go-cid"

	"emergentminds.org/covenant/cidutil"
	"emergentminds.org/covenant/keys"
	"emergentminds.org/covenant/model"
)

// VerifyIntegrity recomputes every hash in the ledger and returns one
// *model.Error per discrepancy. The result is empty if and only if the
// ledger is consistent.
//
// Checks, per position i: entry_hash, previous_ledger_hash against the hash
// of entries[0:i] (position 0 against the empty sequence), known status,
// unique cid_hash and unique public keys (compared by decoded bytes), and
// agreement with the stored form read by Store.Load. Finally the persisted
// integrity hash is compared against the recomputed one; a non-empty ledger
// without one is a finding.
func (l *Ledger) VerifyIntegrity() []error {
	var errs []error
	seenCID := make(map[string]int, len(l.Entries))
	seenKey := make(map[string]int, 2*len(l.Entries))
	ch := newChainHasher()
	encodable := true

	for _, i := range l.altered {
		errs = append(errs, model.Errorf(model.KindLedgerIntegrity, "COV-INT-008",
			"entry #%d: stored form does not match its fields", i+1).At(i))
	}

	for i, e := range l.Entries {
		if e == nil {
			errs = append(errs, model.NewError(model.KindLedgerIntegrity, "COV-INT-007", "null entry").At(i))
			encodable = false
			continue
		}
		want, err := EntryHash(e)
		switch {
		case err != nil:
			errs = append(errs, model.WrapError(model.KindLedgerIntegrity, "COV-INT-007", "entry cannot be encoded", err).At(i).WithSubject(e.CIDHash))
		case want != e.EntryHash:
			errs = append(errs, model.Errorf(model.KindLedgerIntegrity, "COV-INT-001",
				"entry #%d (%s): entry hash mismatch", i+1, e.Short()).At(i).WithSubject(e.CIDHash))
		}

		if encodable && ch.prefix() != e.PreviousLedgerHash {
			errs = append(errs, model.Errorf(model.KindLedgerIntegrity, "COV-INT-002",
				"entry #%d (%s): chain link broken (previous_ledger_hash mismatch)", i+1, e.Short()).At(i).WithSubject(e.CIDHash))
		}

		if !e.Status.Valid() {
			errs = append(errs, model.Errorf(model.KindLedgerIntegrity, "COV-INT-006",
				"entry #%d (%s): unknown status %q", i+1, e.Short(), e.Status).At(i).WithSubject(e.CIDHash))
		}
		if first, dup := seenCID[e.CIDHash]; dup {
			errs = append(errs, model.Errorf(model.KindLedgerIntegrity, "COV-INT-004",
				"entry #%d: duplicate cid_hash %s (first at #%d)", i+1, e.Short(), first+1).At(i).WithSubject(e.CIDHash))
		} else {
			seenCID[e.CIDHash] = i
		}
		for _, k := range []string{keys.KeyMaterial(e.PublicKeys.MLDSA65), keys.KeyMaterial(e.PublicKeys.Ed25519)} {
			if first, dup := seenKey[k]; dup {
				errs = append(errs, model.Errorf(model.KindLedgerIntegrity, "COV-INT-005",
					"entry #%d (%s): public key already used by entry #%d", i+1, e.Short(), first+1).At(i).WithSubject(e.CIDHash))
			} else {
				seenKey[k] = i
			}
		}

		if encodable {
			b, err := e.canonicalBytes()
			if err != nil {
				encodable = false
				continue
			}
			ch.add(b)
		}
	}

	switch computed := ch.prefix(); {
	case !encodable:
	case l.integrityHash == "" && len(l.Entries) > 0:
		errs = append(errs, model.NewError(model.KindLedgerIntegrity, "COV-INT-003", "stored ledger hash is missing"))
	case l.integrityHash != "" && computed != l.integrityHash:
		errs = append(errs, model.Errorf(model.KindLedgerIntegrity, "COV-INT-003",
			"stored ledger hash mismatch: %s... != %s...", short(l.integrityHash), short(computed)))
	}
	return errs
}

// AnchorCID returns the CIDv1 (raw, sha2-256) of canonical(entries). Its
// multihash digest is the integrity hash; it is the identifier handed to an
// external anchoring medium.
func AnchorCID(l *Ledger) (cid.Cid, error) {
	h, err := HashEntries(l.Entries)
	if err != nil {
		return cid.Undef, err
	}
	return cidutil.FromSHA256Hex(h)
}
