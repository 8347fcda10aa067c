// Package keystore supplies the symmetric key material for the encrypted
// photo metadata fields. On a device this would be backed by the platform
// keystore; here it is a file under the data directory.
package keystore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const keyLen = 32

// Provider returns secret key material.
type Provider interface {
	Key(ctx context.Context) ([]byte, error)
}

// FileProvider reads key material from a file, creating it with fresh
// random bytes on first use.
type FileProvider struct {
	path string
}

// NewFileProvider returns a provider backed by the given file path.
func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		return nil, errors.New("keystore: key path required")
	}
	return &FileProvider{path: path}, nil
}

// Key returns the stored key material, generating and persisting it if the
// file does not exist yet. Creation is atomic so two concurrent openers
// never observe a torn key file.
func (p *FileProvider) Key(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if err == nil {
		if len(data) != keyLen {
			return nil, fmt.Errorf("keystore: key file %s has %d bytes, want %d", p.path, len(data), keyLen)
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	secret := make([]byte, keyLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	// Link refuses to replace an existing file, so a concurrent opener can
	// never clobber a key that photos were already encrypted under, and the
	// key file only ever appears with its full contents.
	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".keygen-*")
	if err != nil {
		return nil, err
	}
	_, err = tmp.Write(secret)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	if err := os.Link(tmp.Name(), p.path); err != nil {
		_ = os.Remove(tmp.Name())
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		// Lost the race against another opener; use what they wrote.
		existing, readErr := os.ReadFile(p.path)
		if readErr != nil {
			return nil, readErr
		}
		if len(existing) != keyLen {
			return nil, fmt.Errorf("keystore: key file %s has %d bytes, want %d", p.path, len(existing), keyLen)
		}
		return existing, nil
	}
	_ = os.Remove(tmp.Name())
	return secret, nil
}

// Path returns the backing file path.
func (p *FileProvider) Path() string {
	return p.path
}

// DefaultPath returns the conventional key file location under a data dir.
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "catalog.key")
}

// Static is fixed key material, used in tests.
type Static []byte

// Key returns the static material.
func (s Static) Key(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s) != keyLen {
		return nil, fmt.Errorf("keystore: static key has %d bytes, want %d", len(s), keyLen)
	}
	return []byte(s), nil
}
