// Package cidutil derives content identifiers for ledger anchoring and the
// snapshot archive.
//
// Every identifier is a CIDv1 with the raw codec and a sha2-256 multihash, so
// the multihash digest of a ledger anchor equals the ledger integrity hash.
package cidutil

import (
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CIDv1RawSHA256 returns the string form of CIDv1RawSHA256CID, or "" on error.
func CIDv1RawSHA256(data []byte) string {
	id, err := CIDv1RawSHA256CID(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// FromSHA256Hex builds the raw CIDv1 for an already computed sha256 digest.
func FromSHA256Hex(digestHex string) (cid.Cid, error) {
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return cid.Undef, fmt.Errorf("cidutil: decode digest: %w", err)
	}
	if len(digest) != 32 {
		return cid.Undef, fmt.Errorf("cidutil: sha256 digest must be 32 bytes, got %d", len(digest))
	}
	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// DigestHex returns the hex sha2-256 digest carried by id.
func DigestHex(id cid.Cid) (string, error) {
	if !id.Defined() {
		return "", fmt.Errorf("cidutil: undefined cid")
	}
	dec, err := multihash.Decode(id.Hash())
	if err != nil {
		return "", err
	}
	if dec.Code != multihash.SHA2_256 {
		return "", fmt.Errorf("cidutil: unexpected multihash code 0x%x", dec.Code)
	}
	return hex.EncodeToString(dec.Digest), nil
}

// Parse decodes a CID string.
func Parse(s string) (cid.Cid, error) {
	return cid.Decode(s)
}
