// Package ledger implements the append-only, hash-chained membership ledger.
//
// Hashes:
//   - integrity hash: hex(SHA256(canonical(entries)))
//   - previous_ledger_hash of entry i: the integrity hash of entries[0:i]
//   - entry_hash: hex(SHA256(canonical(entry without entry_hash)))
//
// The chain is cumulative: each link commits to the whole history before it,
// so reordering or substituting any earlier entry breaks every later link.
//
// Entries are never removed. The only in-place changes are status
// transitions (Promote, Transition); both recompute the changed entry's hash
// and re-chain every later entry.
package ledger
