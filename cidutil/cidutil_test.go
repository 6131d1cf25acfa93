package cidutil

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestCIDv1RawSHA256_DigestMatchesSHA256(t *testing.T) {
	data := []byte("[]")
	id, err := CIDv1RawSHA256CID(data)
	if err != nil {
		t.Fatalf("CIDv1RawSHA256CID: %v", err)
	}
	got, err := DigestHex(id)
	if err != nil {
		t.Fatalf("DigestHex: %v", err)
	}
	sum := sha256.Sum256(data)
	if got != hex.EncodeToString(sum[:]) {
		t.Fatalf("digest mismatch: %s", got)
	}
	if CIDv1RawSHA256(data) != id.String() {
		t.Fatalf("string form mismatch")
	}
}

func TestFromSHA256Hex_RoundTrip(t *testing.T) {
	data := []byte(`[{"a":1}]`)
	sum := sha256.Sum256(data)
	id, err := FromSHA256Hex(hex.EncodeToString(sum[:]))
	if err != nil {
		t.Fatalf("FromSHA256Hex: %v", err)
	}
	want, err := CIDv1RawSHA256CID(data)
	if err != nil {
		t.Fatalf("CIDv1RawSHA256CID: %v", err)
	}
	if id != want {
		t.Fatalf("got %s want %s", id, want)
	}

	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != id {
		t.Fatalf("Parse round trip mismatch")
	}
}

func TestFromSHA256Hex_Rejects(t *testing.T) {
	for _, in := range []string{"", "zz", "abcd"} {
		if _, err := FromSHA256Hex(in); err == nil {
			t.Fatalf("expected %q to fail", in)
		}
	}
}
