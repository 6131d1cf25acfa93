package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emergentminds.org/covenant/model"
)

type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func fixedClock() time.Time { return time.Unix(1770058539, 0) }

func newTestDual(t *testing.T, deterministic bool) (*Dual, PublicKeys, SecretKeys) {
	t.Helper()
	d := NewDual(Options{Deterministic: deterministic, Now: fixedClock})
	pub, sec, err := d.GenerateKeys(&deterministicReader{b: 7})
	require.NoError(t, err)
	return d, pub, sec
}

func flipB64(t *testing.T, s string, at int) string {
	t.Helper()
	b, err := DecodeBase64(s)
	require.NoError(t, err)
	b[at%len(b)] ^= 0x01
	return base64.StdEncoding.EncodeToString(b)
}

func TestGenerateKeys_Sizes(t *testing.T) {
	_, pub, sec := newTestDual(t, false)
	sizes := map[string]int{
		pub.MLDSA65: mldsa65.PublicKeySize,
		pub.Ed25519: ed25519.PublicKeySize,
		sec.MLDSA65: mldsa65.PrivateKeySize,
		sec.Ed25519: ed25519.SeedSize,
	}
	for enc, want := range sizes {
		b, err := DecodeBase64(enc)
		require.NoError(t, err)
		assert.Len(t, b, want)
	}
	assert.Equal(t, 1952, MLDSA65{}.PublicKeySize())
	assert.Equal(t, 4032, MLDSA65{}.SecretKeySize())
	assert.Equal(t, 3309, MLDSA65{}.SignatureSize())
}

func TestDual_SignVerify(t *testing.T) {
	d, pub, sec := newTestDual(t, false)
	msg := []byte(`{"a":1}`)

	b, err := d.Sign(msg, sec)
	require.NoError(t, err)
	assert.Equal(t, MessageHash(msg), b.MessageHash)
	assert.Equal(t, int64(1770058539), b.SignedAt)

	v := d.Verify(msg, b, pub)
	assert.True(t, v.PostQuantum)
	assert.True(t, v.Classical)
	assert.True(t, v.BothValid)
	assert.NoError(t, v.Err())
}

func TestDual_ConjunctiveAcceptance(t *testing.T) {
	d, pub, sec := newTestDual(t, false)
	msg := []byte("membership statement")
	b, err := d.Sign(msg, sec)
	require.NoError(t, err)

	tampered := append([]byte(nil), msg...)
	tampered[3] ^= 0x80
	v := d.Verify(tampered, b, pub)
	assert.False(t, v.PostQuantum)
	assert.False(t, v.Classical)
	assert.False(t, v.BothValid)

	pqFlipped := b
	pqFlipped.MLDSA65 = flipB64(t, b.MLDSA65, 100)
	v = d.Verify(msg, pqFlipped, pub)
	assert.False(t, v.PostQuantum)
	assert.True(t, v.Classical)
	assert.False(t, v.BothValid)
	assert.True(t, model.IsKind(v.PostQuantumErr, model.KindSignatureInvalid))

	edFlipped := b
	edFlipped.Ed25519 = flipB64(t, b.Ed25519, 5)
	v = d.Verify(msg, edFlipped, pub)
	assert.True(t, v.PostQuantum)
	assert.False(t, v.Classical)
	assert.False(t, v.BothValid)
	assert.Equal(t, []model.Kind{model.KindSignatureInvalid}, model.KindsOf(v.Err()))
}

func TestDual_MalformedInputsAreResults(t *testing.T) {
	d, pub, sec := newTestDual(t, false)
	msg := []byte("m")
	b, err := d.Sign(msg, sec)
	require.NoError(t, err)

	cases := []struct {
		name   string
		bundle Bundle
		keys   PublicKeys
		rule   string
	}{
		{"bad base64 key", b, PublicKeys{MLDSA65: "!!!", Ed25519: pub.Ed25519}, "COV-SIG-001"},
		{"short key", b, PublicKeys{MLDSA65: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), Ed25519: pub.Ed25519}, "COV-SIG-001"},
		{"short signature", Bundle{MLDSA65: base64.StdEncoding.EncodeToString(make([]byte, 10)), Ed25519: b.Ed25519}, pub, "COV-SIG-002"},
		{"missing signature", Bundle{Ed25519: b.Ed25519}, pub, "COV-SIG-005"},
		{"undecodable signature", Bundle{MLDSA65: "%%%", Ed25519: b.Ed25519}, pub, "COV-SIG-002"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var v Verification
			require.NotPanics(t, func() { v = d.Verify(msg, c.bundle, c.keys) })
			assert.False(t, v.BothValid)
			assert.False(t, v.PostQuantum)
			assert.True(t, v.Classical)
			assert.Equal(t, c.rule, model.RuleID(v.PostQuantumErr))

			found := model.Flatten(v.PostQuantumErr)
			require.Len(t, found, 1)
			assert.Equal(t, model.KindSignatureInvalid, found[0].Kind)
			assert.Equal(t, AlgMLDSA65, found[0].Subject)
		})
	}
}

func TestMLDSA65_DeterministicSigning(t *testing.T) {
	d, _, sec := newTestDual(t, true)
	msg := []byte("same bytes")
	a, err := d.Sign(msg, sec)
	require.NoError(t, err)
	b, err := d.Sign(msg, sec)
	require.NoError(t, err)
	assert.Equal(t, a.MLDSA65, b.MLDSA65)
	assert.Equal(t, a.Ed25519, b.Ed25519)
}

func TestEd25519_AcceptsExpandedSecret(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	msg := []byte("hello")

	s := Ed25519{}
	fromSeed, err := s.Sign(seed, msg)
	require.NoError(t, err)
	fromExpanded, err := s.Sign(priv, msg)
	require.NoError(t, err)
	assert.Equal(t, fromSeed, fromExpanded)

	pub, err := s.PublicFromSecret(priv)
	require.NoError(t, err)
	assert.NoError(t, s.Verify(pub, msg, fromSeed))

	_, err = s.Sign(seed[:5], msg)
	assert.True(t, model.IsKind(err, model.KindStructural))
}

func TestSign_RejectsMalformedSecret(t *testing.T) {
	d, _, sec := newTestDual(t, false)
	sec.MLDSA65 = base64.StdEncoding.EncodeToString([]byte("short"))
	_, err := d.Sign([]byte("x"), sec)
	require.Error(t, err)
	assert.Equal(t, "COV-SIG-004", model.RuleID(err))
}

func TestDecodeBase64_AcceptsUnpadded(t *testing.T) {
	b, err := DecodeBase64("YWI")
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), b)
	b, err = DecodeBase64("YWI=")
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), b)
	_, err = DecodeBase64("")
	assert.Error(t, err)
}

func TestSealOpen(t *testing.T) {
	aad := []byte("cid")
	env, err := Seal("correct horse", []byte("secret"), aad)
	require.NoError(t, err)

	got, err := Open("correct horse", env, aad)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)

	_, err = Open("wrong", env, aad)
	assert.ErrorIs(t, err, ErrAuthFailed)

	_, err = Open("correct horse", env, []byte("other cid"))
	assert.ErrorIs(t, err, ErrAuthFailed)

	tampered := *env
	tampered.Ciphertext = append([]byte(nil), env.Ciphertext...)
	tampered.Ciphertext[0] ^= 0xff
	_, err = Open("correct horse", &tampered, aad)
	assert.ErrorIs(t, err, ErrAuthFailed)

	bad := *env
	bad.Version = 9
	_, err = Open("correct horse", &bad, aad)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	_, err = Seal("", []byte("secret"), aad)
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func TestOpen_RejectsExpensiveParameters(t *testing.T) {
	aad := []byte("cid")
	env, err := Seal("correct horse", []byte("secret"), aad)
	require.NoError(t, err)

	for name, mutate := range map[string]func(*Envelope){
		"memory":  func(e *Envelope) { e.KDFMemoryKB = 4 << 20 },
		"time":    func(e *Envelope) { e.KDFTime = 1000 },
		"threads": func(e *Envelope) { e.KDFThreads = 255 },
	} {
		t.Run(name, func(t *testing.T) {
			crafted := *env
			mutate(&crafted)
			_, err := Open("correct horse", &crafted, aad)
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}

func TestCanonicalBase64(t *testing.T) {
	assert.True(t, CanonicalBase64("YWI="))
	assert.False(t, CanonicalBase64("YWI"))
	assert.False(t, CanonicalBase64(" YWI="))
	assert.False(t, CanonicalBase64("YWJ="), "non-zero trailing bits")
	assert.False(t, CanonicalBase64("YW\nI="))

	assert.True(t, SameKey("YWI=", "YWI"))
	assert.True(t, SameKey("YWI=", "YWJ="))
	assert.False(t, SameKey("YWI=", "YWM="))
}

func TestWriteSecretFile_NoOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id", "secret_keys.json")
	require.NoError(t, WriteSecretFile(path, []byte("one")))
	err := WriteSecretFile(path, []byte("two"))
	assert.ErrorIs(t, err, ErrSecretExists)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one", string(b))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}
