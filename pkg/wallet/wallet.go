package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is an address with the key that signs for it. It is derived from the
// credential at startup and never persisted.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// FromHex derives a wallet from a hex private key, with or without 0x.
func FromHex(privateKeyHex string) (*Wallet, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")

	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (w *Wallet) Address() common.Address {
	return w.address
}

// SignTx signs tx for the given chain with the latest signer.
func (w *Wallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// String never exposes the key.
func (w *Wallet) String() string {
	return w.address.Hex()
}
