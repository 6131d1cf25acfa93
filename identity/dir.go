package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"

	"emergentminds.org/covenant/canonical"
	"emergentminds.org/covenant/keys"
)

const (
	PublicFile       = "public_keys.json"
	SecretFile       = "secret_keys.json"
	RegistrationFile = "registration_request.json"
	gitignoreFile    = ".gitignore"
	gitignoreBody    = "# NEVER commit secret keys\nsecret_keys.json\n"
)

var (
	ErrIdentityExists = errors.New("identity: an identity already exists in this directory")
	ErrNoSecret       = errors.New("identity: no secret keys in this directory")
)

// Dir is an identity directory on the local filesystem.
//
// Layout:
//
//	public_keys.json           shareable
//	secret_keys.json           0600, created once, never overwritten
//	.gitignore                 excludes secret_keys.json
//	registration_request.json  written by WriteArtifact
type Dir struct {
	Path string
	log  *zap.Logger
}

// NewDir returns a store rooted at path. A nil logger discards output.
func NewDir(path string, log *zap.Logger) *Dir {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dir{Path: path, log: log.Named("identity")}
}

func (d *Dir) path(name string) string { return filepath.Join(d.Path, name) }

// HasSecret reports whether secret_keys.json exists.
func (d *Dir) HasSecret() bool {
	_, err := os.Stat(d.path(SecretFile))
	return err == nil
}

// Save writes kp. When passphrase is non-empty the secret keys are sealed.
// It refuses with ErrIdentityExists if a secret file is already present.
func (d *Dir) Save(kp *KeyPair, passphrase string) error {
	if d.HasSecret() {
		return fmt.Errorf("%w: %s", ErrIdentityExists, d.Path)
	}
	if err := os.MkdirAll(d.Path, 0o700); err != nil {
		return err
	}

	secret := kp.Secret()
	if passphrase != "" {
		sealed, err := kp.SealedSecret(passphrase)
		if err != nil {
			return err
		}
		secret = sealed
	}
	secretBytes, err := canonical.Indent(secret)
	if err != nil {
		return err
	}
	if err := keys.WriteSecretFile(d.path(SecretFile), secretBytes); err != nil {
		if errors.Is(err, keys.ErrSecretExists) {
			return fmt.Errorf("%w: %s", ErrIdentityExists, d.Path)
		}
		return err
	}

	if _, err := d.WriteArtifact(PublicFile, kp.Public()); err != nil {
		return err
	}
	if err := renameio.WriteFile(d.path(gitignoreFile), []byte(gitignoreBody), 0o644); err != nil {
		return err
	}
	d.log.Info("identity saved",
		zap.String("cid", kp.CIDHash()[:16]),
		zap.String("dir", d.Path),
		zap.Bool("sealed", passphrase != ""))
	return nil
}

// LoadPublic reads public_keys.json and checks its key binding.
func (d *Dir) LoadPublic() (*PublicIdentity, error) {
	return ReadPublic(d.path(PublicFile))
}

// ReadPublic reads a public identity artifact from any path.
func ReadPublic(path string) (*PublicIdentity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pub PublicIdentity
	if err := json.Unmarshal(b, &pub); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if err := pub.Validate(); err != nil {
		return nil, err
	}
	return &pub, nil
}

// LoadSecret reads secret_keys.json and returns the plaintext keys together
// with the owning cid_hash. passphrase is only used for sealed files.
func (d *Dir) LoadSecret(passphrase string) (keys.SecretKeys, string, error) {
	b, err := os.ReadFile(d.path(SecretFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return keys.SecretKeys{}, "", fmt.Errorf("%w: %s", ErrNoSecret, d.Path)
		}
		return keys.SecretKeys{}, "", err
	}
	var sec SecretIdentity
	if err := json.Unmarshal(b, &sec); err != nil {
		return keys.SecretKeys{}, "", fmt.Errorf("parse %s: %w", SecretFile, err)
	}
	sk, err := sec.Keys(passphrase)
	if err != nil {
		return keys.SecretKeys{}, "", err
	}
	return sk, sec.CIDHash, nil
}

// WriteArtifact atomically writes v in indented canonical form to name inside
// the directory and returns the full path.
func (d *Dir) WriteArtifact(name string, v any) (string, error) {
	b, err := canonical.Indent(v)
	if err != nil {
		return "", err
	}
	p := d.path(name)
	if err := renameio.WriteFile(p, b, 0o644); err != nil {
		return "", err
	}
	return p, nil
}
