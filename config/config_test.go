package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "covenant.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewFromFile(t *testing.T) {
	path := writeConfig(t, `
ledger:
  dir: /srv/ledger
  archive: true
identity:
  passphraseEnv: COVENANT_TEST_PASSPHRASE
signing:
  deterministic: true
log:
  level: debug
  format: json
`)
	c, err := NewFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/ledger", c.Ledger.Dir)
	assert.True(t, c.Ledger.Lock, "unset keys keep defaults")
	assert.Equal(t, filepath.Join("/srv/ledger", "archive"), c.Ledger.ArchivePath())
	assert.True(t, c.Signing.Deterministic)
	assert.Equal(t, "json", c.Log.Format)

	t.Setenv("COVENANT_TEST_PASSPHRASE", "correct horse")
	assert.Equal(t, "correct horse", c.Identity.Passphrase())
}

func TestNewFromFile_Empty(t *testing.T) {
	c, err := NewFromFile(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Empty(t, c.Ledger.ArchivePath())
	assert.Empty(t, c.Identity.Passphrase())
}

func TestNewFromFile_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"unknown key": "ledger:\n  directory: x\n",
		"bad level":   "log:\n  level: loud\n",
		"bad format":  "log:\n  format: xml\n",
		"empty dir":   "ledger:\n  dir: \"\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewFromFile(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
	_, err := NewFromFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
