package contract

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/zama-ai/testnet-reward-agent/pkg/config"
	"github.com/zama-ai/testnet-reward-agent/pkg/currency"
	"github.com/zama-ai/testnet-reward-agent/pkg/logger"
	"github.com/zama-ai/testnet-reward-agent/pkg/wallet"
)

var (
	// ErrConfirmationTimeout means the transaction was broadcast but no
	// receipt arrived within the confirmation timeout. Retrying is safe.
	ErrConfirmationTimeout = errors.New("timed out waiting for confirmation")
	// ErrTransactionReverted means the transaction was mined with a failed status.
	ErrTransactionReverted = errors.New("transaction reverted")
)

// Backend is the part of ethclient.Client the reward claim uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// Client submits claimReward() transactions to one contract.
type Client struct {
	backend  Backend
	contract common.Address
	cfg      config.Claim
	units    *currency.Registry
}

// ClaimResult describes a confirmed claim transaction.
type ClaimResult struct {
	TxHash      common.Hash
	Nonce       uint64
	GasLimit    uint64
	GasPrice    *big.Int // legacy transactions
	GasTipCap   *big.Int // dynamic fee transactions
	GasFeeCap   *big.Int
	BlockNumber uint64
	GasUsed     uint64
	Duration    time.Duration
}

// Dial connects to the configured RPC endpoint with optional basic auth and
// TLS verification turned off by httpSSLVerify: "false".
func Dial(ctx context.Context, cfg config.Claim) (*Client, error) {
	if cfg.RPCAddr == "" {
		return nil, fmt.Errorf("rpc address cannot be empty")
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: strings.EqualFold(cfg.HttpSSLVerify, "false")}
	httpClient := &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
		Timeout:   cfg.RPCTimeout,
	}

	opts := []rpc.ClientOption{rpc.WithHTTPClient(httpClient)}
	if auth := cfg.Authorization; auth != nil && auth.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		opts = append(opts, rpc.WithHTTPAuth(func(h http.Header) error {
			h.Set("Authorization", fmt.Sprintf("Basic %s", creds))
			return nil
		}))
	}

	rpcClient, err := rpc.DialOptions(ctx, cfg.RPCAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rpc endpoint %s: %w", cfg.RPCAddr, err)
	}

	return NewClient(ethclient.NewClient(rpcClient), cfg), nil
}

func NewClient(backend Backend, cfg config.Claim) *Client {
	return &Client{
		backend:  backend,
		contract: common.HexToAddress(cfg.ContractAddress),
		cfg:      cfg,
		units:    currency.NewDefaultRegistry(),
	}
}

// Close releases the underlying RPC resources.
func (c *Client) Close() {
	if c == nil || c.backend == nil {
		return
	}
	c.backend.Close()
}

// Balance returns the native balance of account in wei.
func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	balance, err := c.backend.BalanceAt(callCtx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for %s: %w", account.Hex(), err)
	}
	return balance, nil
}

// ClaimReward builds, signs and submits claimReward() from w, then blocks
// until the receipt arrives or the confirmation timeout expires. Gas price
// and nonce are fetched at call time.
func (c *Client) ClaimReward(ctx context.Context, w *wallet.Wallet) (*ClaimResult, error) {
	startTime := time.Now()
	from := w.Address()
	result := &ClaimResult{GasLimit: c.cfg.GasLimit}

	chainID, err := c.chainID(ctx)
	if err != nil {
		return result, err
	}

	nonce, err := c.nonce(ctx, from)
	if err != nil {
		return result, err
	}
	result.Nonce = nonce

	tx, err := c.buildTx(ctx, chainID, nonce, result)
	if err != nil {
		return result, err
	}

	signed, err := w.SignTx(tx, chainID)
	if err != nil {
		return result, err
	}
	result.TxHash = signed.Hash()

	sendCtx, cancel := c.callContext(ctx)
	err = c.backend.SendTransaction(sendCtx, signed)
	cancel()
	if err != nil {
		return result, fmt.Errorf("failed to send transaction: %w", err)
	}

	logger.InfoContext(ctx, "claimReward transaction sent",
		"tx", result.TxHash.Hex(),
		"from", from.Hex(),
		"contract", c.contract.Hex(),
		"nonce", nonce,
		"gasLimit", c.cfg.GasLimit,
	)

	receipt, err := c.WaitForConfirmation(ctx, result.TxHash)
	result.Duration = time.Since(startTime)
	if err != nil {
		return result, err
	}

	result.GasUsed = receipt.GasUsed
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return result, fmt.Errorf("%w: tx %s in block %d", ErrTransactionReverted, result.TxHash.Hex(), result.BlockNumber)
	}
	return result, nil
}

func (c *Client) buildTx(ctx context.Context, chainID *big.Int, nonce uint64, result *ClaimResult) (*types.Transaction, error) {
	data := ClaimRewardCalldata()

	if c.cfg.GasPriceMode == config.GasPriceDynamic {
		tipCap, feeCap, err := c.dynamicFees(ctx)
		if err == nil {
			result.GasTipCap, result.GasFeeCap = tipCap, feeCap
			logger.Debugf("[contract] dynamic fees: tip %s, cap %s", c.units.Format(tipCap, "gwei"), c.units.Format(feeCap, "gwei"))
			return types.NewTx(&types.DynamicFeeTx{
				ChainID:   chainID,
				Nonce:     nonce,
				GasTipCap: tipCap,
				GasFeeCap: feeCap,
				Gas:       c.cfg.GasLimit,
				To:        &c.contract,
				Value:     big.NewInt(0),
				Data:      data,
			}), nil
		}
		if !errors.Is(err, errNoBaseFee) {
			return nil, err
		}
		logger.Warnf("[contract] chain reports no base fee, falling back to legacy gas price")
	}

	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return nil, err
	}
	result.GasPrice = gasPrice
	logger.Debugf("[contract] gas price: %s", c.units.Format(gasPrice, "gwei"))

	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      c.cfg.GasLimit,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Data:     data,
	}), nil
}

var errNoBaseFee = errors.New("no base fee in latest header")

// dynamicFees returns tip and fee cap as tip + 2 * base fee.
func (c *Client) dynamicFees(ctx context.Context) (*big.Int, *big.Int, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	head, err := c.backend.HeaderByNumber(callCtx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	if head.BaseFee == nil {
		return nil, nil, errNoBaseFee
	}

	tipCap, err := c.backend.SuggestGasTipCap(callCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to suggest gas tip cap: %w", err)
	}

	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return tipCap, feeCap, nil
}

func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	gasPrice, err := c.backend.SuggestGasPrice(callCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return gasPrice, nil
}

func (c *Client) chainID(ctx context.Context) (*big.Int, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	chainID, err := c.backend.ChainID(callCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return chainID, nil
}

func (c *Client) nonce(ctx context.Context, from common.Address) (uint64, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(callCtx, from)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce for %s: %w", from.Hex(), err)
	}
	return nonce, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RPCTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.RPCTimeout)
}

// WaitForConfirmation polls for the receipt of txHash until it is mined, the
// confirmation timeout expires or ctx is cancelled.
func (c *Client) WaitForConfirmation(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	timeout := c.cfg.ConfirmationTimeout
	if timeout <= 0 {
		timeout = config.DefaultConfirmationTimeout
	}

	// Use the shorter of the configured timeout and the parent deadline
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	pollInterval := c.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = adaptivePollInterval(timeout)
	}
	logger.Debugf("[contract] waiting up to %v for %s (poll %v)", timeout, txHash.Hex(), pollInterval)

	confirmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-confirmCtx.Done():
			if errors.Is(confirmCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: tx %s after %v", ErrConfirmationTimeout, txHash.Hex(), timeout)
			}
			return nil, fmt.Errorf("stopped waiting for tx %s: %w", txHash.Hex(), confirmCtx.Err())
		case <-ticker.C:
			receipt, err := c.backend.TransactionReceipt(confirmCtx, txHash)
			if errors.Is(err, ethereum.NotFound) {
				continue
			}
			if err != nil {
				if confirmCtx.Err() == nil {
					logger.Warnf("[contract] failed to get receipt for %s: %v", txHash.Hex(), err)
				}
				continue
			}
			return receipt, nil
		}
	}
}

// adaptivePollInterval is 20% of the timeout, kept between 2s and 10s.
func adaptivePollInterval(timeout time.Duration) time.Duration {
	poll := timeout / 5
	if poll < 2*time.Second {
		poll = 2 * time.Second
	}
	if poll > 10*time.Second {
		poll = 10 * time.Second
	}
	return poll
}
