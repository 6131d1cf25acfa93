// Package keys provides the two signature schemes of a covenant identity and
// the dual-signature engine that combines them.
//
// A message is accepted only when both the post-quantum (ML-DSA-65) and the
// classical (Ed25519) signature verify over the same raw message bytes.
// Verification failures are reported as results, never as panics.
//
// Secret key material can be sealed under a passphrase (see Seal).
package keys
