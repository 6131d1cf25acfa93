// Package config loads the YAML configuration shared by the covenant CLIs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const DefaultLedgerDir = "governance/ledger"

type Config struct {
	Ledger   Ledger   `yaml:"ledger"`
	Identity Identity `yaml:"identity"`
	Signing  Signing  `yaml:"signing"`
	Log      Log      `yaml:"log"`
}

type Ledger struct {
	Dir string `yaml:"dir"`
	// Archive stores every saved snapshot and accepted registration in a
	// content-addressed archive under ArchiveDir.
	Archive    bool   `yaml:"archive"`
	ArchiveDir string `yaml:"archiveDir"`
	// ArchiveReplicas are extra archive directories written alongside
	// ArchiveDir.
	ArchiveReplicas []string `yaml:"archiveReplicas"`
	// Lock takes <dir>/.lock around mutating commands.
	Lock bool `yaml:"lock"`
}

type Identity struct {
	Dir string `yaml:"dir"`
	// PassphraseEnv names the environment variable holding the passphrase
	// that seals secret_keys.json. Empty stores secrets unsealed.
	PassphraseEnv string `yaml:"passphraseEnv"`
}

type Signing struct {
	// Deterministic disables hedged ML-DSA-65 signing.
	Deterministic bool `yaml:"deterministic"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Ledger: Ledger{Dir: DefaultLedgerDir, Lock: true},
		Log:    Log{Level: "warn", Format: "console"},
	}
}

// NewFromFile reads path over Default. Unknown keys are rejected.
func NewFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Ledger.Dir == "" {
		return errors.New("ledger.dir is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format %q: want console or json", c.Log.Format)
	}
	return nil
}

// ArchivePath is where the ledger archive lives, or "" when archiving is off.
func (l Ledger) ArchivePath() string {
	if !l.Archive {
		return ""
	}
	if l.ArchiveDir != "" {
		return l.ArchiveDir
	}
	return filepath.Join(l.Dir, "archive")
}

// Passphrase returns the sealing passphrase from the configured variable.
func (i Identity) Passphrase() string {
	if i.PassphraseEnv == "" {
		return ""
	}
	return os.Getenv(i.PassphraseEnv)
}
