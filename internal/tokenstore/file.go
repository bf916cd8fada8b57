package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/florianilch/authkeeper/internal/autherr"
	"github.com/florianilch/authkeeper/internal/secretbox"
)

// keyPurpose binds the derived encryption key to credential files.
const keyPurpose = "authkeeper credentials v1"

var additionalData = []byte("authkeeper/token-pair")

// FileStore provides encrypted, atomic file-based token storage with secure permissions.
// The pair is sealed with a key derived from a per-device key file, which is created
// with 0600 permissions on first use.
type FileStore struct {
	filePath string
	keyPath  string

	keyMu sync.Mutex
	key   []byte
}

// Compile-time check to ensure FileStore implements TokenStore
var _ TokenStore = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given paths, creating parent directories
// with 0700 permissions if they don't exist.
func NewFileStore(filePath, keyPath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if keyPath == "" {
		return nil, fmt.Errorf("key file path cannot be empty")
	}
	if filePath == keyPath {
		return nil, fmt.Errorf("token file and key file must differ")
	}

	for _, dir := range []string{filepath.Dir(filePath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
	}

	return &FileStore{
		filePath: filePath,
		keyPath:  keyPath,
	}, nil
}

// Load decrypts and returns the stored pair. A missing file means no credentials.
func (f *FileStore) Load(ctx context.Context) (*TokenPair, error) {
	const op = "tokenstore.File.Load"
	if err := ctx.Err(); err != nil {
		return nil, autherr.E(autherr.KindStorage, op, err)
	}

	data, err := readSecureFile(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.E(autherr.KindStorage, op, err)
	}

	key, err := f.encryptionKey()
	if err != nil {
		return nil, autherr.E(autherr.KindStorage, op, err)
	}
	plaintext, err := secretbox.Open(key, data, additionalData)
	if err != nil {
		return nil, autherr.E(autherr.KindStorage, op, fmt.Errorf("%s: %w", f.filePath, err))
	}

	return decodePair(ctx, op, plaintext)
}

// Save seals the pair and writes it with a single atomic rename.
func (f *FileStore) Save(ctx context.Context, pair TokenPair) error {
	const op = "tokenstore.File.Save"
	if err := checkSave(ctx, op, pair); err != nil {
		return err
	}

	plaintext, err := encodePair(pair)
	if err != nil {
		return autherr.E(autherr.KindStorage, op, err)
	}
	key, err := f.encryptionKey()
	if err != nil {
		return autherr.E(autherr.KindStorage, op, err)
	}
	envelope, err := secretbox.Seal(key, plaintext, additionalData)
	if err != nil {
		return autherr.E(autherr.KindStorage, op, err)
	}

	if err := writeFileAtomic(ctx, f.filePath, envelope); err != nil {
		return autherr.E(autherr.KindStorage, op, err)
	}
	return nil
}

// Clear removes the token file. The device key is kept for future sessions.
func (f *FileStore) Clear(ctx context.Context) error {
	const op = "tokenstore.File.Clear"
	if err := ctx.Err(); err != nil {
		return autherr.E(autherr.KindStorage, op, err)
	}
	if err := os.Remove(f.filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return autherr.E(autherr.KindStorage, op, err)
	}
	return nil
}

// encryptionKey loads the device key, creating it on first use, and derives the
// credential key from it. Failures are not cached so a locked device can recover.
func (f *FileStore) encryptionKey() ([]byte, error) {
	f.keyMu.Lock()
	defer f.keyMu.Unlock()

	if f.key != nil {
		return f.key, nil
	}

	deviceKey, err := readSecureFile(f.keyPath)
	if errors.Is(err, fs.ErrNotExist) {
		deviceKey, err = secretbox.NewKey()
		if err != nil {
			return nil, err
		}
		if err := writeFileAtomic(context.Background(), f.keyPath, deviceKey); err != nil {
			return nil, fmt.Errorf("creating key file: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	key, err := secretbox.DeriveKey(deviceKey, keyPurpose)
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", f.keyPath, err)
	}
	f.key = key
	return key, nil
}

// readSecureFile reads path after checking it is only accessible by its owner.
func readSecureFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm() != 0600 {
		return nil, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", path, info.Mode().Perm())
	}
	return os.ReadFile(path)
}

// writeFileAtomic writes data using temp file + rename for crash safety.
// Sets file permissions to 0600 (owner read/write only).
func writeFileAtomic(ctx context.Context, path string, data []byte) error {
	// Create secure temp file in same directory for atomic rename
	tempFile, err := os.CreateTemp(filepath.Dir(path), "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if _, err := tempFile.Write(data); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	return os.Rename(tempName, path)
}
