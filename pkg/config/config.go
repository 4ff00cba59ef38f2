package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultMetricsAddr         = ":2112"
	DefaultLogLevel            = "info"
	DefaultBalanceUnit         = "ETH"
	DefaultPrivateKeyFile      = "private_key.txt"
	DefaultKeyringService      = "testnet-reward-agent"
	DefaultKeyringUser         = "wallet"
	DefaultFaucetURL           = "https://faucet.testnet.humanity.org/api/claim"
	DefaultFaucetInterval      = 2 * time.Hour
	DefaultFaucetTimeout       = 30 * time.Second
	DefaultRPCAddr             = "https://rpc.testnet.humanity.org"
	DefaultContractAddress     = "0xa18f6FCB2Fd4884436d10610E69DB7BFa1bFe8C7"
	DefaultClaimInterval       = 25 * time.Hour
	DefaultGasLimit            = uint64(1_000_000)
	DefaultRPCTimeout          = 30 * time.Second
	DefaultConfirmationTimeout = 5 * time.Minute
	DefaultStateFile           = "lastClaimTime.txt"
)

// Gas price sources for the claim transaction.
const (
	GasPriceLegacy  = "legacy"
	GasPriceDynamic = "dynamic"
)

type Schema struct {
	Global Global `yaml:"global"`
	Wallet Wallet `yaml:"wallet"`
	Faucet Faucet `yaml:"faucet"`
	Claim  Claim  `yaml:"claim"`
}

type Global struct {
	Environment string `yaml:"environment"`
	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`
	// BalanceUnit is the unit the wallet balance metric is exported in.
	BalanceUnit string `yaml:"balanceUnit"`
}

// Wallet selects where the signing key lives. The file store is the default;
// PrivateKeyEnv and Keyring take precedence when set.
type Wallet struct {
	PrivateKeyFile string `yaml:"privateKeyFile"`
	PrivateKeyEnv  string `yaml:"privateKeyEnv"`
	Keyring        bool   `yaml:"keyring"`
	KeyringService string `yaml:"keyringService"`
	KeyringUser    string `yaml:"keyringUser"`
}

type Faucet struct {
	Enabled  *bool         `yaml:"enabled"`
	URL      string        `yaml:"url"`
	URLEnv   string        `yaml:"urlEnv"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Claim struct {
	Enabled         *bool          `yaml:"enabled"`
	RPCAddr         string         `yaml:"rpcAddr"`
	RPCAddrEnv      string         `yaml:"rpcAddrEnv"`
	HttpSSLVerify   string         `yaml:"httpSSLVerify"`
	Authorization   *Authorization `yaml:"authorization"`
	ContractAddress string         `yaml:"contractAddress"`
	Interval        time.Duration  `yaml:"interval"`
	GasLimit        uint64         `yaml:"gasLimit"`
	GasPriceMode    string         `yaml:"gasPriceMode"`
	RPCTimeout      time.Duration  `yaml:"rpcTimeout"`
	// ConfirmationTimeout bounds the wait for the claim receipt.
	ConfirmationTimeout time.Duration `yaml:"confirmationTimeout"`
	// PollInterval of zero lets the contract client pick one from the timeout.
	PollInterval time.Duration `yaml:"pollInterval"`
	StateFile    string        `yaml:"stateFile"`
}

type Authorization struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns a normalized schema with every default applied.
func Default() *Schema {
	cfg := &Schema{}
	_ = cfg.Normalize()
	return cfg
}

func (s *Schema) Normalize() error {
	if s.Global.MetricsAddr == "" {
		s.Global.MetricsAddr = DefaultMetricsAddr
	}
	if s.Global.LogLevel == "" {
		s.Global.LogLevel = DefaultLogLevel
	}
	s.Global.LogLevel = strings.ToLower(s.Global.LogLevel)
	if s.Global.BalanceUnit == "" {
		s.Global.BalanceUnit = DefaultBalanceUnit
	}

	if err := s.Wallet.Normalize(); err != nil {
		return fmt.Errorf("failed to normalize wallet config: %w", err)
	}
	if err := s.Faucet.Normalize(); err != nil {
		return fmt.Errorf("failed to normalize faucet config: %w", err)
	}
	if err := s.Claim.Normalize(); err != nil {
		return fmt.Errorf("failed to normalize claim config: %w", err)
	}
	return nil
}

func (w *Wallet) Normalize() error {
	if w.PrivateKeyFile == "" {
		w.PrivateKeyFile = DefaultPrivateKeyFile
	}
	if w.KeyringService == "" {
		w.KeyringService = DefaultKeyringService
	}
	if w.KeyringUser == "" {
		w.KeyringUser = DefaultKeyringUser
	}
	return nil
}

func (f *Faucet) Normalize() error {
	if f.URLEnv != "" {
		envValue := os.Getenv(f.URLEnv)
		if envValue != "" {
			f.URL = envValue
		}
	}
	if f.URL == "" {
		f.URL = DefaultFaucetURL
	}
	if f.Interval == 0 {
		f.Interval = DefaultFaucetInterval
	}
	if f.Timeout == 0 {
		f.Timeout = DefaultFaucetTimeout
	}
	return nil
}

// IsEnabled reports whether the faucet task is scheduled. Unset means enabled.
func (f *Faucet) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

func (c *Claim) Normalize() error {
	if c.RPCAddrEnv != "" {
		envValue := os.Getenv(c.RPCAddrEnv)
		if envValue != "" {
			c.RPCAddr = envValue
		}
	}
	if c.RPCAddr == "" {
		c.RPCAddr = DefaultRPCAddr
	}
	if c.HttpSSLVerify == "" {
		c.HttpSSLVerify = "true"
	}
	if c.ContractAddress == "" {
		c.ContractAddress = DefaultContractAddress
	}
	if c.Interval == 0 {
		c.Interval = DefaultClaimInterval
	}
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
	if c.GasPriceMode == "" {
		c.GasPriceMode = GasPriceLegacy
	}
	c.GasPriceMode = strings.ToLower(c.GasPriceMode)
	if c.RPCTimeout == 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.ConfirmationTimeout == 0 {
		c.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if c.StateFile == "" {
		c.StateFile = DefaultStateFile
	}
	return nil
}

// IsEnabled reports whether the claim task is scheduled. Unset means enabled.
func (c *Claim) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func ReadConfigWithError(r io.Reader) (*Schema, error) {
	config := &Schema{}
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := config.Normalize(); err != nil {
		return nil, fmt.Errorf("failed to normalize config: %w", err)
	}
	return config, nil
}

// ReadConfigFile reads the config at path. A missing file yields the defaults
// so the agent can run with nothing but a credential.
func ReadConfigFile(path string) (*Schema, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return ReadConfigWithError(file)
}
