package keys

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	envelopeKDF     = "argon2id"
	saltSize        = 16

	// Upper bounds for parameters read from an envelope.
	maxKDFTime     = 10
	maxKDFMemoryKB = 1 << 20
	maxKDFThreads  = 16
)

var (
	ErrAuthFailed      = errors.New("keys: sealed secret authentication failed")
	ErrInvalidEnvelope = errors.New("keys: sealed secret envelope is invalid")
	ErrEmptyPassphrase = errors.New("keys: passphrase must not be empty")
)

// Envelope is passphrase-sealed secret key material.
//
// The key is derived with argon2id and the payload encrypted with
// XChaCha20-Poly1305. Associated data (the owning cid_hash) is authenticated
// but not stored.
type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Seal encrypts plaintext under passphrase, binding aad.
func Seal(passphrase string, plaintext, aad []byte) (*Envelope, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	env := &Envelope{
		Version:     envelopeVersion,
		KDF:         envelopeKDF,
		KDFTime:     2,
		KDFMemoryKB: 64 * 1024,
		KDFThreads:  1,
		Salt:        salt,
	}
	key := env.deriveKey(passphrase)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	env.Nonce = nonce
	env.Ciphertext = aead.Seal(nil, nonce, plaintext, aad)
	return env, nil
}

// Open decrypts env. A wrong passphrase, a wrong aad and a tampered envelope
// all report ErrAuthFailed.
func Open(passphrase string, env *Envelope, aad []byte) ([]byte, error) {
	if env == nil || env.Version != envelopeVersion || env.KDF != envelopeKDF {
		return nil, ErrInvalidEnvelope
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != chacha20poly1305.NonceSizeX ||
		env.KDFTime == 0 || env.KDFTime > maxKDFTime ||
		env.KDFThreads == 0 || env.KDFThreads > maxKDFThreads ||
		env.KDFMemoryKB < 8*uint32(env.KDFThreads) || env.KDFMemoryKB > maxKDFMemoryKB {
		return nil, ErrInvalidEnvelope
	}
	key := env.deriveKey(passphrase)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func (e *Envelope) deriveKey(passphrase string) []byte {
	return argon2.IDKey([]byte(passphrase), e.Salt, e.KDFTime, e.KDFMemoryKB, e.KDFThreads, chacha20poly1305.KeySize)
}
