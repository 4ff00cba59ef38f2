package collector

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zama-ai/testnet-reward-agent/pkg/currency"
	"github.com/zama-ai/testnet-reward-agent/pkg/logger"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultUnit    = "ETH"
)

// BalanceReader returns the native balance of an account in wei.
type BalanceReader interface {
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
}

// WalletCollector exports the agent wallet balance. The balance is read from
// the chain on every scrape.
type WalletCollector struct {
	address          common.Address
	reader           BalanceReader
	currencyRegistry *currency.Registry
	unit             *currency.Unit
	timeout          time.Duration
	balance          *prometheus.GaugeVec
	health           *prometheus.GaugeVec
	collectMutex     sync.Mutex
}

// CollectorOption defines functional options for WalletCollector
type CollectorOption func(*WalletCollector)

// WithCollectorTimeout sets the timeout for one balance query
func WithCollectorTimeout(timeout time.Duration) CollectorOption {
	return func(c *WalletCollector) {
		c.timeout = timeout
	}
}

func NewWalletCollector(address common.Address, reader BalanceReader, currencyRegistry *currency.Registry, unitName string, opts ...CollectorOption) (*WalletCollector, error) {
	if unitName == "" {
		unitName = DefaultUnit
	}
	unit, err := currencyRegistry.Get(unitName)
	if err != nil {
		return nil, fmt.Errorf("invalid balance unit: %w", err)
	}

	collector := &WalletCollector{
		address:          address,
		reader:           reader,
		currencyRegistry: currencyRegistry,
		unit:             unit,
		timeout:          DefaultTimeout,
		balance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "reward_agent_wallet_balance",
				Help:        "Native balance of the agent wallet",
				ConstLabels: prometheus.Labels{"unit": unit.Symbol},
			},
			[]string{"address"},
		),
		health: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reward_agent_wallet_health",
				Help: "1 when the last balance query succeeded",
			},
			[]string{"address"},
		),
	}

	for _, opt := range opts {
		opt(collector)
	}
	return collector, nil
}

// Implement prometheus.Collector interface
func (c *WalletCollector) Describe(ch chan<- *prometheus.Desc) {
	c.balance.Describe(ch)
	c.health.Describe(ch)
}

func (c *WalletCollector) Collect(ch chan<- prometheus.Metric) {
	c.collectMutex.Lock()
	defer c.collectMutex.Unlock()

	labels := prometheus.Labels{"address": c.address.Hex()}

	value, err := c.collectBalance()
	if err != nil {
		logger.Errorf("[collector] error collecting balance for %s: %v", c.address.Hex(), err)
		c.health.With(labels).Set(0)
		c.health.Collect(ch)
		c.health.Reset()
		return
	}

	c.health.With(labels).Set(1)
	c.health.Collect(ch)
	c.health.Reset()

	c.balance.With(labels).Set(value)
	c.balance.Collect(ch)
	c.balance.Reset()
}

func (c *WalletCollector) collectBalance() (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	balance, err := c.reader.Balance(ctx, c.address)
	if err != nil {
		return 0, err
	}

	converted, err := c.currencyRegistry.FromWei(balance, c.unit.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to convert balance: %w", err)
	}
	logger.Debugf("[collector] balance for %s: %s wei (%f %s)", c.address.Hex(), balance.String(), converted, c.unit.Symbol)
	return converted, nil
}
