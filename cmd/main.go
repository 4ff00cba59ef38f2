package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/flowmatic"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/zama-ai/testnet-reward-agent/pkg/collector"
	"github.com/zama-ai/testnet-reward-agent/pkg/config"
	"github.com/zama-ai/testnet-reward-agent/pkg/contract"
	"github.com/zama-ai/testnet-reward-agent/pkg/credential"
	"github.com/zama-ai/testnet-reward-agent/pkg/currency"
	"github.com/zama-ai/testnet-reward-agent/pkg/faucet"
	"github.com/zama-ai/testnet-reward-agent/pkg/logger"
	"github.com/zama-ai/testnet-reward-agent/pkg/scheduler"
	"github.com/zama-ai/testnet-reward-agent/pkg/state"
	"github.com/zama-ai/testnet-reward-agent/pkg/validation"
	"github.com/zama-ai/testnet-reward-agent/pkg/version"
	"github.com/zama-ai/testnet-reward-agent/pkg/wallet"

	httpfiber "github.com/zama-ai/testnet-reward-agent/pkg/server/http"
	"go.uber.org/zap/zapcore"
)

var (
	cfgPath     = flag.String("config", "config.yaml", "path to the config file")
	envPath     = flag.String("env", ".env", "path to an optional dotenv file")
	showVersion = flag.Bool("version", false, "print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		versionInfo := version.GetVersion()
		versionJSON, _ := json.Marshal(versionInfo)
		fmt.Println(string(versionJSON))
		return
	}

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Errorf("failed to load %s: %v", *envPath, err))
	}

	config, err := config.ReadConfigFile(*cfgPath)
	if err != nil {
		panic(fmt.Errorf("failed to read config: %v", err))
	}

	// init logger
	level, err := zapcore.ParseLevel(config.Global.LogLevel)
	if err != nil {
		panic(fmt.Errorf("failed to parse log level: %v", err))
	}
	err = logger.InitLogger(logger.WithLevel(level), logger.WithEncodeTime("timestamp", zapcore.ISO8601TimeEncoder))
	if err != nil {
		panic(fmt.Errorf("failed to init logger: %v", err))
	}
	defer logger.Sync()
	logger.Infof("testnet reward agent %s", version.GetVersion())

	currencyRegistry := currency.NewDefaultRegistry()

	// Validate configuration before touching the credential or the network
	configValidator := validation.NewConfigValidator(currencyRegistry)
	if err := configValidator.ValidateConfig(config); err != nil {
		logger.Fatalf("Configuration validation failed: %v", err)
	}
	logger.Infof("Configuration validated successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The prompt only appears when no credential has been stored yet
	provider := credential.NewProvider(config.Wallet, afero.NewOsFs(), credential.NewLinePrompter(os.Stdin, os.Stdout))
	privateKey, err := provider.PrivateKey(ctx)
	if err != nil {
		logger.Fatalf("Failed to acquire private key: %v", err)
	}
	agentWallet, err := wallet.FromHex(privateKey)
	if err != nil {
		logger.Fatalf("Failed to load wallet: %v", err)
	}
	logger.Infof("Loaded wallet %s", agentWallet)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var (
		faucetClient faucet.Fauceter
		claimer      scheduler.Claimer
		claimStore   state.ClaimStore
	)
	if config.Faucet.IsEnabled() {
		faucetClient = faucet.NewClient(config.Faucet.URL, config.Faucet.Timeout)
	}

	var contractClient *contract.Client
	if config.Claim.IsEnabled() {
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		contractClient, err = contract.Dial(dialCtx, config.Claim)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to connect to RPC endpoint: %v", err)
		}
		defer contractClient.Close()
		claimer = contractClient
		fileStore := state.NewFileStore(afero.NewOsFs(), config.Claim.StateFile)
		logger.Infof("Last claim time is kept in %s", fileStore.Path())
		claimStore = fileStore

		walletCollector, err := collector.NewWalletCollector(agentWallet.Address(), contractClient, currencyRegistry, config.Global.BalanceUnit)
		if err != nil {
			logger.Fatalf("Failed to create wallet collector: %v", err)
		}
		promRegistry.MustRegister(walletCollector)
	}

	agent, err := scheduler.NewAgent(config, agentWallet, faucetClient, claimer, claimStore,
		scheduler.WithMetrics(scheduler.NewMetrics(promRegistry)))
	if err != nil {
		logger.Fatalf("Failed to create agent: %v", err)
	}

	// Start runs both tasks once before returning, so keep it off the main goroutine
	go func() {
		if err := agent.Start(ctx); err != nil {
			logger.Fatalf("Failed to start agent: %v", err)
		}
	}()

	server := httpfiber.NewServer(config,
		httpfiber.WithRegistry(promRegistry),
		httpfiber.WithStatusProvider(agent))

	go func() {
		if err := server.Run(); err != nil {
			logger.Fatalf("failed to run server: %v", err)
		}
	}()
	<-ctx.Done()

	// Graceful shutdown
	logger.Infof("Shutting down...")

	err = flowmatic.Do(
		agent.Stop,
		func() error {
			server.Stop()
			return nil
		},
	)
	if err != nil {
		logger.Errorf("Failed to stop agent: %v", err)
	}
	logger.Infof("Shutdown complete")
}
