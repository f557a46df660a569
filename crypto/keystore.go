package crypto

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// The operator key gates authority binding and proceeds withdrawal, so it
// never touches disk in the clear: it is stored as an Ethereum v3 keystore
// file, scrypt-encrypted under the passphrase from the daemon environment.

// SaveToKeystore encrypts the operator key under the passphrase and writes it
// to path as a v3 keystore file, creating the parent directory when needed.
// The file ends up owner-readable only.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: no operator key to save")
	}
	if path == "" {
		return errors.New("crypto: operator keystore path required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// The keystore API only writes into a directory it manages, under a name
	// it derives from the account. Import into a scratch directory, then move
	// the single produced file to the configured path.
	scratch, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	ks := keystore.NewKeyStore(scratch, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}
	produced, err := os.ReadDir(scratch)
	if err != nil {
		return err
	}
	if len(produced) == 0 {
		return errors.New("crypto: keystore import produced no file")
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(filepath.Join(scratch, produced[0].Name()), path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts the operator keystore file at path with the
// passphrase and returns the key. A wrong passphrase surfaces as a decryption
// error; the daemon treats that as fatal at startup.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: operator keystore path required")
	}
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(encrypted, passphrase)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
