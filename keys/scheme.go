package keys

import (
	"crypto/ed25519"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"

	"emergentminds.org/covenant/model"
)

// Algorithm names as they appear in identity and ledger documents.
const (
	AlgMLDSA65 = "ML-DSA-65"
	AlgEd25519 = "Ed25519"
)

// Key identifiers used as JSON member names for keys and signatures.
const (
	KeyIDMLDSA65 = "ml_dsa_65"
	KeyIDEd25519 = "ed25519"
)

// Scheme is one signature primitive. Implementations are treated as trusted
// black boxes; this package only adapts their inputs and failures.
type Scheme interface {
	Name() string
	KeyID() string
	PublicKeySize() int
	SecretKeySize() int
	SignatureSize() int
	GenerateKey(rand io.Reader) (public, secret []byte, err error)
	Sign(secret, msg []byte) ([]byte, error)
	// Verify returns nil when sig is a valid signature of msg under public,
	// otherwise a *model.Error of kind SignatureInvalid.
	Verify(public, msg, sig []byte) error
}

// MLDSA65 is the post-quantum scheme (FIPS 204, security category 3).
//
// Signing uses an empty context string. Signing is hedged (randomized)
// unless Deterministic is set.
type MLDSA65 struct {
	Deterministic bool
}

func (MLDSA65) Name() string       { return AlgMLDSA65 }
func (MLDSA65) KeyID() string      { return KeyIDMLDSA65 }
func (MLDSA65) PublicKeySize() int { return mldsa65.PublicKeySize }
func (MLDSA65) SecretKeySize() int { return mldsa65.PrivateKeySize }
func (MLDSA65) SignatureSize() int { return mldsa65.SignatureSize }

func (MLDSA65) GenerateKey(rand io.Reader) ([]byte, []byte, error) {
	pk, sk, err := mldsa65.GenerateKey(rand)
	if err != nil {
		return nil, nil, fmt.Errorf("generate %s key: %w", AlgMLDSA65, err)
	}
	return pk.Bytes(), sk.Bytes(), nil
}

func (s MLDSA65) Sign(secret, msg []byte) ([]byte, error) {
	if len(secret) != mldsa65.PrivateKeySize {
		return nil, secretKeyError(s, len(secret))
	}
	var sk mldsa65.PrivateKey
	if err := sk.UnmarshalBinary(secret); err != nil {
		return nil, model.WrapError(model.KindStructural, "COV-SIG-004", "invalid ML-DSA-65 secret key", err).WithSubject(AlgMLDSA65)
	}
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(&sk, msg, nil, !s.Deterministic, sig); err != nil {
		return nil, fmt.Errorf("sign %s: %w", AlgMLDSA65, err)
	}
	return sig, nil
}

func (s MLDSA65) Verify(public, msg, sig []byte) error {
	if len(public) != mldsa65.PublicKeySize {
		return publicKeyError(s, len(public))
	}
	if len(sig) != mldsa65.SignatureSize {
		return signatureLengthError(s, len(sig))
	}
	var pk mldsa65.PublicKey
	if err := pk.UnmarshalBinary(public); err != nil {
		return model.WrapError(model.KindSignatureInvalid, "COV-SIG-001", "malformed ML-DSA-65 public key", err).WithSubject(AlgMLDSA65)
	}
	if !mldsa65.Verify(&pk, msg, nil, sig) {
		return verifyFailed(s)
	}
	return nil
}

// Ed25519 is the classical scheme. The secret key is the 32-byte seed; the
// 64-byte expanded form is accepted when signing.
type Ed25519 struct{}

func (Ed25519) Name() string       { return AlgEd25519 }
func (Ed25519) KeyID() string      { return KeyIDEd25519 }
func (Ed25519) PublicKeySize() int { return ed25519.PublicKeySize }
func (Ed25519) SecretKeySize() int { return ed25519.SeedSize }
func (Ed25519) SignatureSize() int { return ed25519.SignatureSize }

func (Ed25519) GenerateKey(rand io.Reader) ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, nil, fmt.Errorf("generate %s key: %w", AlgEd25519, err)
	}
	return []byte(pub), priv.Seed(), nil
}

func (s Ed25519) Sign(secret, msg []byte) ([]byte, error) {
	var priv ed25519.PrivateKey
	switch len(secret) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(secret)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(secret)
	default:
		return nil, secretKeyError(s, len(secret))
	}
	return ed25519.Sign(priv, msg), nil
}

func (s Ed25519) Verify(public, msg, sig []byte) error {
	if len(public) != ed25519.PublicKeySize {
		return publicKeyError(s, len(public))
	}
	if len(sig) != ed25519.SignatureSize {
		return signatureLengthError(s, len(sig))
	}
	if !ed25519.Verify(ed25519.PublicKey(public), msg, sig) {
		return verifyFailed(s)
	}
	return nil
}

// PublicFromSecret recomputes the Ed25519 public key for a seed or expanded key.
func (Ed25519) PublicFromSecret(secret []byte) ([]byte, error) {
	switch len(secret) {
	case ed25519.SeedSize:
		return []byte(ed25519.NewKeyFromSeed(secret).Public().(ed25519.PublicKey)), nil
	case ed25519.PrivateKeySize:
		return append([]byte(nil), secret[ed25519.SeedSize:]...), nil
	default:
		return nil, secretKeyError(Ed25519{}, len(secret))
	}
}

func publicKeyError(s Scheme, got int) error {
	return model.Errorf(model.KindSignatureInvalid, "COV-SIG-001",
		"%s public key must be %d bytes, got %d", s.Name(), s.PublicKeySize(), got).WithSubject(s.Name())
}

func signatureLengthError(s Scheme, got int) error {
	return model.Errorf(model.KindSignatureInvalid, "COV-SIG-002",
		"%s signature must be %d bytes, got %d", s.Name(), s.SignatureSize(), got).WithSubject(s.Name())
}

func verifyFailed(s Scheme) error {
	return model.Errorf(model.KindSignatureInvalid, "COV-SIG-003", "%s signature verification failed", s.Name()).WithSubject(s.Name())
}

func secretKeyError(s Scheme, got int) error {
	return model.Errorf(model.KindStructural, "COV-SIG-004",
		"%s secret key must be %d bytes, got %d", s.Name(), s.SecretKeySize(), got).WithSubject(s.Name())
}
