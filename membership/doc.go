// Package membership admits identities into the ledger.
//
// The Engine validates signed registration requests (structure, cid binding,
// collisions, message hash, both signatures) and voucher sets against the
// phase requirement of the current active count, then appends or promotes
// ledger entries. Validation never stops at the first problem: a rejected
// operation returns a *Rejection listing every finding.
package membership
