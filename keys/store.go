package keys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSecretExists is returned when a secret key file is already present.
var ErrSecretExists = errors.New("keys: secret key file already exists")

// DefaultIdentityDirectory returns ~/.covenant/identity.
func DefaultIdentityDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".covenant", "identity"), nil
}

// WriteSecretFile creates path (mode 0600, parent 0700) and writes data.
//
// It never replaces an existing file: secret material is created exactly once.
func WriteSecretFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrSecretExists, path)
		}
		return err
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return err
	}
	return file.Close()
}
