// Package credential resolves the wallet's private key. A Store holds the
// key durably; a Prompter asks the operator for it when no store has one.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/zama-ai/testnet-reward-agent/pkg/config"
	"github.com/zama-ai/testnet-reward-agent/pkg/logger"
)

// ErrNotFound is returned by a Store that holds no credential yet.
var ErrNotFound = errors.New("credential not found")

// Provider yields the private key used to sign transactions.
type Provider interface {
	PrivateKey(ctx context.Context) (string, error)
}

// Store is a durable place for the private key.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, key string) error
	Describe() string
}

// Prompter obtains a private key interactively.
type Prompter interface {
	Prompt(ctx context.Context) (string, error)
}

// Bootstrap returns the stored key, or prompts once and persists the answer.
// A store that already holds a key is never bypassed.
type Bootstrap struct {
	Store    Store
	Prompter Prompter
}

func (b *Bootstrap) PrivateKey(ctx context.Context) (string, error) {
	key, err := b.Store.Load(ctx)
	if err == nil {
		logger.Debugf("[credential] loaded private key from %s", b.Store.Describe())
		return key, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("failed to load credential from %s: %w", b.Store.Describe(), err)
	}
	if b.Prompter == nil {
		return "", fmt.Errorf("no credential in %s and no interactive input available", b.Store.Describe())
	}

	key, err = b.Prompter.Prompt(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read private key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("empty private key entered")
	}

	if err := b.Store.Save(ctx, key); err != nil {
		return "", fmt.Errorf("failed to persist credential to %s: %w", b.Store.Describe(), err)
	}
	logger.Infof("[credential] private key saved to %s", b.Store.Describe())
	return key, nil
}

// NewProvider picks the store configured for the wallet. The env store is
// read-only and never prompts.
func NewProvider(cfg config.Wallet, fs afero.Fs, prompter Prompter) Provider {
	switch {
	case cfg.PrivateKeyEnv != "":
		return &Bootstrap{Store: NewEnvStore(cfg.PrivateKeyEnv)}
	case cfg.Keyring:
		return &Bootstrap{Store: NewKeyringStore(cfg.KeyringService, cfg.KeyringUser), Prompter: prompter}
	default:
		return &Bootstrap{Store: NewFileStore(fs, cfg.PrivateKeyFile), Prompter: prompter}
	}
}
