package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/zama-ai/testnet-reward-agent/pkg/config"
)

// ClaimValidator checks the on-chain claim settings
type ClaimValidator struct {
	BaseValidator
}

func NewClaimValidator() *ClaimValidator {
	return &ClaimValidator{}
}

func (v *ClaimValidator) Validate(claim *config.Claim) ValidationErrors {
	var errors ValidationErrors

	// Validate RPC address
	if err := v.validateRPCAddress(claim); err != nil {
		errors = append(errors, err...)
	}

	// Validate contract
	if err := v.validateContract(claim); err != nil {
		errors = append(errors, err...)
	}

	// Validate transaction parameters
	if err := v.validateTransaction(claim); err != nil {
		errors = append(errors, err...)
	}

	errors = append(errors, v.ValidatePositiveDuration("claim.interval", claim.Interval)...)
	errors = append(errors, v.ValidatePositiveDuration("claim.rpcTimeout", claim.RPCTimeout)...)
	errors = append(errors, v.ValidatePositiveDuration("claim.confirmationTimeout", claim.ConfirmationTimeout)...)
	if claim.PollInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "claim.pollInterval",
			Message: "cannot be negative",
		})
	}

	if strings.TrimSpace(claim.StateFile) == "" {
		errors = append(errors, ValidationError{
			Field:   "claim.stateFile",
			Message: "cannot be empty",
		})
	}

	return errors
}

func (v *ClaimValidator) validateRPCAddress(claim *config.Claim) ValidationErrors {
	errors := v.ValidateHTTPURL("claim.rpcAddr", claim.RPCAddr)
	if len(errors) > 0 {
		return errors
	}

	parsedURL, _ := url.Parse(claim.RPCAddr)

	// Validate SSL settings for HTTPS
	if parsedURL.Scheme == "https" {
		if claim.HttpSSLVerify == "" {
			errors = append(errors, ValidationError{
				Field:   "claim.httpSSLVerify",
				Message: "SSL verification setting must be specified for HTTPS connections",
			})
		} else if claim.HttpSSLVerify != "true" && claim.HttpSSLVerify != "false" {
			errors = append(errors, ValidationError{
				Field:   "claim.httpSSLVerify",
				Message: "SSL verification must be either 'true' or 'false'",
			})
		}
	}

	if auth := claim.Authorization; auth != nil && auth.Username == "" && auth.Password != "" {
		errors = append(errors, ValidationError{
			Field:   "claim.authorization.username",
			Message: "username is required when a password is set",
		})
	}

	return errors
}

func (v *ClaimValidator) validateContract(claim *config.Claim) ValidationErrors {
	var errors ValidationErrors

	if claim.ContractAddress == "" {
		errors = append(errors, ValidationError{
			Field:   "claim.contractAddress",
			Message: "contract address cannot be empty",
		})
		return errors
	}

	if !common.IsHexAddress(claim.ContractAddress) {
		errors = append(errors, ValidationError{
			Field:   "claim.contractAddress",
			Message: "invalid Ethereum address format",
		})
		return errors
	}

	checksumAddr := common.HexToAddress(claim.ContractAddress).Hex()
	if claim.ContractAddress != checksumAddr {
		errors = append(errors, ValidationError{
			Field:   "claim.contractAddress",
			Message: fmt.Sprintf("address should be in checksum format: %s", checksumAddr),
		})
	}

	return errors
}

func (v *ClaimValidator) validateTransaction(claim *config.Claim) ValidationErrors {
	var errors ValidationErrors

	if claim.GasLimit <= params.TxGas {
		errors = append(errors, ValidationError{
			Field:   "claim.gasLimit",
			Message: fmt.Sprintf("must be greater than %d", params.TxGas),
		})
	}

	switch claim.GasPriceMode {
	case config.GasPriceLegacy, config.GasPriceDynamic:
	default:
		errors = append(errors, ValidationError{
			Field:   "claim.gasPriceMode",
			Message: fmt.Sprintf("must be one of: %s, %s", config.GasPriceLegacy, config.GasPriceDynamic),
		})
	}

	return errors
}
