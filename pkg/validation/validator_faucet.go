package validation

import (
	"github.com/zama-ai/testnet-reward-agent/pkg/config"
)

type FaucetValidator struct {
	BaseValidator
}

func NewFaucetValidator() *FaucetValidator {
	return &FaucetValidator{}
}

func (v *FaucetValidator) Validate(faucet *config.Faucet) ValidationErrors {
	var errors ValidationErrors

	errors = append(errors, v.ValidateHTTPURL("faucet.url", faucet.URL)...)
	errors = append(errors, v.ValidatePositiveDuration("faucet.interval", faucet.Interval)...)
	errors = append(errors, v.ValidatePositiveDuration("faucet.timeout", faucet.Timeout)...)

	return errors
}
