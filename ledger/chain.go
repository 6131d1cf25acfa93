package ledger

import (
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"hash"
)

// chainHasher streams canonical(entries[0:i]) so that every prefix hash is
// available without re-encoding the sequence. canonical([e0, e1]) is exactly
// "[" + canonical(e0) + "," + canonical(e1) + "]".
type chainHasher struct {
	h hash.Hash
	n int
}

func newChainHasher() *chainHasher {
	h := sha256.New()
	_, _ = h.Write([]byte{'['})
	return &chainHasher{h: h}
}

// prefix returns the hash of the sequence added so far.
func (c *chainHasher) prefix() string {
	state, err := c.h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		panic(err)
	}
	fork := sha256.New()
	if err := fork.(encoding.BinaryUnmarshaler).UnmarshalBinary(state); err != nil {
		panic(err)
	}
	_, _ = fork.Write([]byte{']'})
	return hex.EncodeToString(fork.Sum(nil))
}

func (c *chainHasher) add(canonicalEntry []byte) {
	if c.n > 0 {
		_, _ = c.h.Write([]byte{','})
	}
	_, _ = c.h.Write(canonicalEntry)
	c.n++
}
