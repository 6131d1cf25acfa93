package keys

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"emergentminds.org/covenant/model"
)

// PublicKeys holds the base64 encoded public keys of one identity.
//
// Values are kept in their encoded form: they are copied verbatim into
// ledger entries, whose hashes depend on the exact text.
type PublicKeys struct {
	MLDSA65 string `json:"ml_dsa_65"`
	Ed25519 string `json:"ed25519"`
}

// SecretKeys holds the base64 encoded secret keys of one identity.
type SecretKeys struct {
	MLDSA65 string `json:"ml_dsa_65"`
	Ed25519 string `json:"ed25519"`
}

// Algorithms names the scheme behind each half of a dual signature.
type Algorithms struct {
	PostQuantum string `json:"post_quantum"`
	Classical   string `json:"classical"`
}

// Bundle is a dual signature over one message.
type Bundle struct {
	MessageHash string `json:"message_hash"`
	MLDSA65     string `json:"ml_dsa_65"`
	Ed25519     string `json:"ed25519"`
	SignedAt    int64  `json:"signed_at"`
}

// Verification is the outcome of Dual.Verify. It is a result, not a fault:
// every failure is recorded in the corresponding error field.
type Verification struct {
	PostQuantum    bool
	Classical      bool
	BothValid      bool
	PostQuantumErr error
	ClassicalErr   error
}

// Err joins the per-scheme failures, or returns nil when both signatures verify.
func (v Verification) Err() error {
	if v.BothValid {
		return nil
	}
	return errors.Join(v.PostQuantumErr, v.ClassicalErr)
}

// Options configures a Dual engine.
type Options struct {
	// Deterministic disables hedged ML-DSA signing.
	Deterministic bool
	// Now overrides the clock used for signed_at.
	Now func() time.Time
}

// Dual signs and verifies with both schemes. A message is accepted only when
// both signatures verify.
type Dual struct {
	PostQuantum Scheme
	Classical   Scheme
	now         func() time.Time
}

// NewDual returns the ML-DSA-65 + Ed25519 engine.
func NewDual(opts Options) *Dual {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dual{
		PostQuantum: MLDSA65{Deterministic: opts.Deterministic},
		Classical:   Ed25519{},
		now:         now,
	}
}

// Now returns the engine clock as Unix seconds.
func (d *Dual) Now() int64 {
	if d.now == nil {
		return time.Now().Unix()
	}
	return d.now().Unix()
}

// Algorithms reports the scheme names in document form.
func (d *Dual) Algorithms() Algorithms {
	return Algorithms{PostQuantum: d.PostQuantum.Name(), Classical: d.Classical.Name()}
}

// GenerateKeys creates independent keypairs for both schemes.
func (d *Dual) GenerateKeys(rand io.Reader) (PublicKeys, SecretKeys, error) {
	pqPub, pqSec, err := d.PostQuantum.GenerateKey(rand)
	if err != nil {
		return PublicKeys{}, SecretKeys{}, err
	}
	edPub, edSec, err := d.Classical.GenerateKey(rand)
	if err != nil {
		zeroBytes(pqSec)
		return PublicKeys{}, SecretKeys{}, err
	}
	pub := PublicKeys{MLDSA65: encodeBase64(pqPub), Ed25519: encodeBase64(edPub)}
	sec := SecretKeys{MLDSA65: encodeBase64(pqSec), Ed25519: encodeBase64(edSec)}
	zeroBytes(pqSec)
	zeroBytes(edSec)
	return pub, sec, nil
}

// Sign produces a dual signature over the raw message bytes.
func (d *Dual) Sign(msg []byte, sk SecretKeys) (Bundle, error) {
	pqSecret, err := DecodeBase64(sk.MLDSA65)
	if err != nil {
		return Bundle{}, model.WrapError(model.KindStructural, "COV-SIG-004", "decode ML-DSA-65 secret key", err).WithSubject(d.PostQuantum.Name())
	}
	defer zeroBytes(pqSecret)
	edSecret, err := DecodeBase64(sk.Ed25519)
	if err != nil {
		return Bundle{}, model.WrapError(model.KindStructural, "COV-SIG-004", "decode Ed25519 secret key", err).WithSubject(d.Classical.Name())
	}
	defer zeroBytes(edSecret)

	pqSig, err := d.PostQuantum.Sign(pqSecret, msg)
	if err != nil {
		return Bundle{}, err
	}
	edSig, err := d.Classical.Sign(edSecret, msg)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{
		MessageHash: MessageHash(msg),
		MLDSA65:     encodeBase64(pqSig),
		Ed25519:     encodeBase64(edSig),
		SignedAt:    d.Now(),
	}, nil
}

// Verify checks both signatures of b over msg. It never panics and never
// returns a fault; malformed input is reported in the result.
func (d *Dual) Verify(msg []byte, b Bundle, pk PublicKeys) Verification {
	var v Verification
	v.PostQuantumErr = verifyOne(d.PostQuantum, pk.MLDSA65, msg, b.MLDSA65)
	v.ClassicalErr = verifyOne(d.Classical, pk.Ed25519, msg, b.Ed25519)
	v.PostQuantum = v.PostQuantumErr == nil
	v.Classical = v.ClassicalErr == nil
	v.BothValid = v.PostQuantum && v.Classical
	return v
}

func verifyOne(s Scheme, pubB64 string, msg []byte, sigB64 string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.Errorf(model.KindSignatureInvalid, "COV-SIG-003", "%s verification aborted: %v", s.Name(), r).WithSubject(s.Name())
		}
	}()
	if strings.TrimSpace(sigB64) == "" {
		return model.Errorf(model.KindSignatureInvalid, "COV-SIG-005", "missing %s signature", s.Name()).WithSubject(s.Name())
	}
	pub, err := DecodeBase64(pubB64)
	if err != nil {
		return model.WrapError(model.KindSignatureInvalid, "COV-SIG-001", fmt.Sprintf("decode %s public key", s.Name()), err).WithSubject(s.Name())
	}
	sig, err := DecodeBase64(sigB64)
	if err != nil {
		return model.WrapError(model.KindSignatureInvalid, "COV-SIG-002", fmt.Sprintf("decode %s signature", s.Name()), err).WithSubject(s.Name())
	}
	return s.Verify(pub, msg, sig)
}

// MessageHash returns hex(SHA256(msg)).
func MessageHash(msg []byte) string {
	sum := sha256.Sum256(msg)
	return hex.EncodeToString(sum[:])
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 accepts standard base64 with or without padding.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty base64 value")
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// CanonicalBase64 reports whether s is exactly the padded standard encoding
// of the bytes it decodes to.
func CanonicalBase64(s string) bool {
	b, err := base64.StdEncoding.Strict().DecodeString(s)
	return err == nil && base64.StdEncoding.EncodeToString(b) == s
}

// KeyMaterial returns the decoded bytes of an encoded key as a string, for
// comparing keys regardless of how they were written. Text that does not
// decode is returned unchanged.
func KeyMaterial(s string) string {
	if b, err := DecodeBase64(s); err == nil {
		return string(b)
	}
	return s
}

// SameKey reports whether two encoded keys carry the same bytes.
func SameKey(a, b string) bool {
	return KeyMaterial(a) == KeyMaterial(b)
}
