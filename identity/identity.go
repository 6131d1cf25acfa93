package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"emergentminds.org/covenant/keys"
	"emergentminds.org/covenant/model"
)

// CIDVersion is the only identity format version.
const CIDVersion = 1

const secretWarning = "SECRET KEYS - NEVER share these. NEVER commit to git. " +
	"Loss of these keys means loss of your Covenant Identity."

// KeySizes records the decoded length of each key.
type KeySizes struct {
	MLDSA65Public int `json:"ml_dsa_65_public"`
	MLDSA65Secret int `json:"ml_dsa_65_secret"`
	Ed25519Public int `json:"ed25519_public"`
	Ed25519Secret int `json:"ed25519_secret"`
}

// PublicIdentity is the shareable artifact (public_keys.json).
type PublicIdentity struct {
	CIDHash     string          `json:"cid_hash"`
	CIDVersion  int             `json:"cid_version"`
	GeneratedAt int64           `json:"generated_at"`
	Algorithms  keys.Algorithms `json:"algorithms"`
	PublicKeys  keys.PublicKeys `json:"public_keys"`
	KeySizes    KeySizes        `json:"key_sizes"`
}

// SecretIdentity is the secret artifact (secret_keys.json). Exactly one of
// SecretKeys and Sealed is set.
type SecretIdentity struct {
	CIDHash    string           `json:"cid_hash"`
	Warning    string           `json:"WARNING"`
	SecretKeys *keys.SecretKeys `json:"secret_keys,omitempty"`
	Sealed     *keys.Envelope   `json:"sealed,omitempty"`
}

// KeyPair is a freshly generated or loaded identity.
type KeyPair struct {
	public PublicIdentity
	secret keys.SecretKeys
}

// Generate creates a new identity with independent keypairs for both schemes.
func Generate(d *keys.Dual, rand io.Reader) (*KeyPair, error) {
	pub, sec, err := d.GenerateKeys(rand)
	if err != nil {
		return nil, err
	}
	cid, err := CIDHashFromKeys(pub)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		public: PublicIdentity{
			CIDHash:     cid,
			CIDVersion:  CIDVersion,
			GeneratedAt: d.Now(),
			Algorithms:  d.Algorithms(),
			PublicKeys:  pub,
			KeySizes: KeySizes{
				MLDSA65Public: d.PostQuantum.PublicKeySize(),
				MLDSA65Secret: d.PostQuantum.SecretKeySize(),
				Ed25519Public: d.Classical.PublicKeySize(),
				Ed25519Secret: d.Classical.SecretKeySize(),
			},
		},
		secret: sec,
	}, nil
}

func (kp *KeyPair) CIDHash() string             { return kp.public.CIDHash }
func (kp *KeyPair) Public() PublicIdentity      { return kp.public }
func (kp *KeyPair) SecretKeys() keys.SecretKeys { return kp.secret }

// Secret returns the plaintext secret artifact.
func (kp *KeyPair) Secret() SecretIdentity {
	sk := kp.secret
	return SecretIdentity{CIDHash: kp.public.CIDHash, Warning: secretWarning, SecretKeys: &sk}
}

// SealedSecret returns the secret artifact sealed under passphrase. The
// envelope is bound to the cid_hash.
func (kp *KeyPair) SealedSecret(passphrase string) (SecretIdentity, error) {
	plain, err := json.Marshal(kp.secret)
	if err != nil {
		return SecretIdentity{}, err
	}
	env, err := keys.Seal(passphrase, plain, []byte(kp.public.CIDHash))
	for i := range plain {
		plain[i] = 0
	}
	if err != nil {
		return SecretIdentity{}, err
	}
	return SecretIdentity{CIDHash: kp.public.CIDHash, Warning: secretWarning, Sealed: env}, nil
}

// Keys returns the plaintext secret keys, opening the envelope when sealed.
func (s SecretIdentity) Keys(passphrase string) (keys.SecretKeys, error) {
	switch {
	case s.SecretKeys != nil:
		return *s.SecretKeys, nil
	case s.Sealed != nil:
		plain, err := keys.Open(passphrase, s.Sealed, []byte(s.CIDHash))
		if err != nil {
			return keys.SecretKeys{}, err
		}
		var sk keys.SecretKeys
		err = json.Unmarshal(plain, &sk)
		for i := range plain {
			plain[i] = 0
		}
		if err != nil {
			return keys.SecretKeys{}, fmt.Errorf("decode sealed secret keys: %w", err)
		}
		return sk, nil
	default:
		return keys.SecretKeys{}, model.NewError(model.KindStructural, "COV-STR-001", "secret identity holds no key material")
	}
}

// CIDHash returns hex(SHA256(pqPub || edPub)).
func CIDHash(pqPub, edPub []byte) string {
	h := sha256.New()
	_, _ = h.Write(pqPub)
	_, _ = h.Write(edPub)
	return hex.EncodeToString(h.Sum(nil))
}

// CIDHashFromKeys decodes both public keys and derives the cid_hash.
func CIDHashFromKeys(pk keys.PublicKeys) (string, error) {
	pq, err := keys.DecodeBase64(pk.MLDSA65)
	if err != nil {
		return "", model.WrapError(model.KindStructural, "COV-STR-002", "invalid ml_dsa_65 public key encoding", err).WithSubject(keys.KeyIDMLDSA65)
	}
	ed, err := keys.DecodeBase64(pk.Ed25519)
	if err != nil {
		return "", model.WrapError(model.KindStructural, "COV-STR-002", "invalid ed25519 public key encoding", err).WithSubject(keys.KeyIDEd25519)
	}
	return CIDHash(pq, ed), nil
}

// ValidCIDHash reports whether s is 64 lowercase hex characters.
func ValidCIDHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Validate checks the artifact's version, cid format and key binding.
func (p PublicIdentity) Validate() error {
	if p.CIDVersion != CIDVersion {
		return model.Errorf(model.KindStructural, "COV-STR-006", "unsupported cid_version %d", p.CIDVersion)
	}
	if !ValidCIDHash(p.CIDHash) {
		return model.NewError(model.KindStructural, "COV-STR-003", "cid_hash must be 64 lowercase hex characters")
	}
	derived, err := CIDHashFromKeys(p.PublicKeys)
	if err != nil {
		return err
	}
	if derived != p.CIDHash {
		return model.NewError(model.KindStructural, "COV-STR-004", "cid_hash does not match public keys")
	}
	return nil
}
