package faucet

import (
	"context"
)

// Fauceter requests test funds for an address.
type Fauceter interface {
	Claim(ctx context.Context, address string) (*FaucetResult, error)
}
