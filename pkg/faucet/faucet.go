package faucet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zama-ai/testnet-reward-agent/pkg/logger"
)

// ErrUnexpectedStatus wraps non-2xx faucet responses.
var ErrUnexpectedStatus = errors.New("unexpected faucet status")

const maxBodyBytes = 64 << 10

// Client represents a faucet client for funding the agent's wallet
type Client struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
}

// ClaimRequest is the body the faucet expects
type ClaimRequest struct {
	Address string `json:"address"`
}

// ClaimResponse carries the faucet's human readable message
type ClaimResponse struct {
	Msg string `json:"msg"`
}

// FaucetResult represents the result of a faucet request
type FaucetResult struct {
	Address    string
	Message    string
	StatusCode int
	// Funded is set when the message reports a transfer hash.
	Funded   bool
	Duration time.Duration
}

// NewClient creates a new faucet client posting to url
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// Claim asks the faucet to credit address. A transport error or non-2xx status
// is returned as an error; a 2xx body without msg yields an empty message.
// There are no retries.
func (c *Client) Claim(ctx context.Context, address string) (*FaucetResult, error) {
	startTime := time.Now()
	result := &FaucetResult{Address: address}

	jsonData, err := json.Marshal(ClaimRequest{Address: address})
	if err != nil {
		return result, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logger.Debugf("[faucet] requesting funds for %s from %s", address, c.url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result.Duration = time.Since(startTime)
		return result, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		result.Duration = time.Since(startTime)
		return result, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Duration = time.Since(startTime)
		result.Message = extractMsg(body)
		return result, fmt.Errorf("%w: %d, body: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var claimResp ClaimResponse
	if err := json.Unmarshal(body, &claimResp); err != nil {
		// Any 2xx is a reply; a body without msg just has nothing to log.
		logger.Debugf("[faucet] response for %s is not JSON: %v", address, err)
	}

	result.Message = claimResp.Msg
	result.Funded = strings.Contains(strings.ToLower(claimResp.Msg), "txhash")
	result.Duration = time.Since(startTime)
	return result, nil
}

// extractMsg pulls msg out of an error body when the faucet sends one.
func extractMsg(body []byte) string {
	var claimResp ClaimResponse
	if err := json.Unmarshal(body, &claimResp); err != nil {
		return ""
	}
	return claimResp.Msg
}
