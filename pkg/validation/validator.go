package validation

import (
	"fmt"
	"strings"

	"github.com/zama-ai/testnet-reward-agent/pkg/config"
	"github.com/zama-ai/testnet-reward-agent/pkg/currency"
	"github.com/zama-ai/testnet-reward-agent/pkg/logger"
)

// ValidationError represents a validation error with a specific field and message
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var errMsgs []string
	for _, err := range e {
		errMsgs = append(errMsgs, err.Error())
	}
	return strings.Join(errMsgs, "; ")
}

// ConfigValidator handles validation of the entire configuration
type ConfigValidator struct {
	currencyRegistry *currency.Registry
	faucet           *FaucetValidator
	claim            *ClaimValidator
}

// NewConfigValidator creates a new ConfigValidator with the task validators
func NewConfigValidator(currencyRegistry *currency.Registry) *ConfigValidator {
	return &ConfigValidator{
		currencyRegistry: currencyRegistry,
		faucet:           NewFaucetValidator(),
		claim:            NewClaimValidator(),
	}
}

// ValidateConfig validates the entire configuration schema. Disabled tasks
// are not validated.
func (v *ConfigValidator) ValidateConfig(cfg *config.Schema) error {
	var allErrors ValidationErrors

	allErrors = append(allErrors, v.validateGlobal(&cfg.Global)...)
	allErrors = append(allErrors, v.validateWallet(&cfg.Wallet)...)

	if cfg.Faucet.IsEnabled() {
		allErrors = append(allErrors, v.faucet.Validate(&cfg.Faucet)...)
	}
	if cfg.Claim.IsEnabled() {
		allErrors = append(allErrors, v.claim.Validate(&cfg.Claim)...)
	}

	if len(allErrors) > 0 {
		return allErrors
	}
	return nil
}

// validateGlobal validates the global configuration
func (v *ConfigValidator) validateGlobal(global *config.Global) ValidationErrors {
	var errors ValidationErrors
	logger.Debugf("validating global config: %+v", *global)

	if global.MetricsAddr == "" {
		errors = append(errors, ValidationError{
			Field:   "global.metricsAddr",
			Message: "cannot be empty",
		})
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(global.LogLevel)] {
		errors = append(errors, ValidationError{
			Field:   "global.logLevel",
			Message: "must be one of: debug, info, warn, error",
		})
	}

	if v.currencyRegistry != nil {
		if _, err := v.currencyRegistry.Get(global.BalanceUnit); err != nil {
			errors = append(errors, ValidationError{
				Field:   "global.balanceUnit",
				Message: err.Error(),
			})
		}
	}

	return errors
}

func (v *ConfigValidator) validateWallet(wallet *config.Wallet) ValidationErrors {
	var errors ValidationErrors

	if wallet.PrivateKeyEnv == "" && !wallet.Keyring && strings.TrimSpace(wallet.PrivateKeyFile) == "" {
		errors = append(errors, ValidationError{
			Field:   "wallet.privateKeyFile",
			Message: "cannot be empty when no other credential store is configured",
		})
	}
	if wallet.Keyring && (wallet.KeyringService == "" || wallet.KeyringUser == "") {
		errors = append(errors, ValidationError{
			Field:   "wallet.keyring",
			Message: "keyringService and keyringUser are required",
		})
	}

	return errors
}
