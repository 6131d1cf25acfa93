// Package identity manages covenant identities (CIDs).
//
// A CID is a pair of independent keypairs, one ML-DSA-65 and one Ed25519.
// Its identifier is cid_hash = hex(SHA256(pk_mldsa65 || pk_ed25519)). The
// public artifact never contains secret material.
package identity
