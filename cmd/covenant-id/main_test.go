package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emergentminds.org/covenant/identity"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestGenerateSignVerify(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "id")

	code, out, errOut := runCLI(t, "generate", "--output-dir", dir)
	require.Equal(t, 0, code, errOut)
	pub, err := identity.ReadPublic(filepath.Join(dir, identity.PublicFile))
	require.NoError(t, err)
	assert.Contains(t, out, pub.CIDHash)

	code, _, _ = runCLI(t, "generate", "--output-dir", dir)
	assert.Equal(t, 1, code, "existing identity is never overwritten")

	code, out, _ = runCLI(t, "show", "--identity-dir", dir)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "ML-DSA-65 1952/4032 bytes")

	sigFile := filepath.Join(t.TempDir(), "signed.json")
	code, _, errOut = runCLI(t, "sign", "--identity-dir", dir, "--message", "hello covenant", "--output", sigFile)
	require.Equal(t, 0, code, errOut)

	pubFile := filepath.Join(dir, identity.PublicFile)
	code, out, _ = runCLI(t, "verify", "--public-key-file", pubFile, "--signature-file", sigFile)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Both signatures valid")

	code, out, _ = runCLI(t, "verify", "--public-key-file", pubFile, "--signature-file", sigFile, "--message", "hello covenant!")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "ML-DSA-65: INVALID")
	assert.Contains(t, out, "Ed25519: INVALID")
}

func TestSealedIdentity(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "id")
	t.Setenv("COVENANT_TEST_PASS", "correct horse battery staple")

	code, out, errOut := runCLI(t, "generate", "--output-dir", dir, "--passphrase-env", "COVENANT_TEST_PASS")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "sealed: true")

	secret, err := os.ReadFile(filepath.Join(dir, identity.SecretFile))
	require.NoError(t, err)
	assert.NotContains(t, string(secret), `"secret_keys"`)

	code, _, _ = runCLI(t, "register", "--identity-dir", dir)
	assert.Equal(t, 1, code, "sealed secret needs the passphrase")

	code, out, errOut = runCLI(t, "register", "--identity-dir", dir, "--passphrase-env", "COVENANT_TEST_PASS")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, identity.RegistrationFile)

	raw, err := os.ReadFile(filepath.Join(dir, identity.RegistrationFile))
	require.NoError(t, err)
	req, err := identity.ParseRegistrationRequest(raw)
	require.NoError(t, err)
	st, err := req.Statement()
	require.NoError(t, err)
	assert.Equal(t, identity.RegistrationType, st.Type)
}

func TestUsageErrors(t *testing.T) {
	code, _, _ := runCLI(t)
	assert.Equal(t, 2, code)

	code, _, _ = runCLI(t, "frobnicate")
	assert.Equal(t, 2, code)

	code, _, errOut := runCLI(t, "sign", "--identity-dir", t.TempDir())
	assert.Equal(t, 2, code)
	assert.True(t, strings.Contains(errOut, "message"), errOut)

	code, _, _ = runCLI(t, "show", "--no-such-flag")
	assert.Equal(t, 2, code)

	code, _, _ = runCLI(t, "show", "--identity-dir", t.TempDir())
	assert.Equal(t, 1, code)
}
