package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"
)

const keyFileMode = 0o600

// FileStore keeps the key as trimmed plaintext in a single file.
type FileStore struct {
	fs   afero.Fs
	path string
}

func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

func (s *FileStore) Load(_ context.Context) (string, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileStore) Save(_ context.Context, key string) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	f, err := s.fs.OpenFile(s.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, keyFileMode)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strings.TrimSpace(key)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// OpenFile leaves the mode of a pre-existing file alone.
	return s.fs.Chmod(s.path, keyFileMode)
}

func (s *FileStore) Describe() string {
	return "file " + s.path
}

// EnvStore reads the key from an environment variable.
type EnvStore struct {
	name string
}

func NewEnvStore(name string) *EnvStore {
	return &EnvStore{name: name}
}

func (s *EnvStore) Load(_ context.Context) (string, error) {
	value := strings.TrimSpace(os.Getenv(s.name))
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *EnvStore) Save(context.Context, string) error {
	return fmt.Errorf("environment store %s is read-only", s.name)
}

func (s *EnvStore) Describe() string {
	return "env " + s.name
}

var (
	keyringGet = keyring.Get
	keyringSet = keyring.Set
)

// KeyringStore keeps the key in the OS secret service.
type KeyringStore struct {
	service string
	user    string
}

func NewKeyringStore(service, user string) *KeyringStore {
	return &KeyringStore{service: service, user: user}
}

func (s *KeyringStore) Load(_ context.Context) (string, error) {
	value, err := keyringGet(s.service, s.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func (s *KeyringStore) Save(_ context.Context, key string) error {
	return keyringSet(s.service, s.user, strings.TrimSpace(key))
}

func (s *KeyringStore) Describe() string {
	return fmt.Sprintf("keyring %s/%s", s.service, s.user)
}
