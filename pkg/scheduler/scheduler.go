package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/zama-ai/testnet-reward-agent/pkg/config"
	"github.com/zama-ai/testnet-reward-agent/pkg/contract"
	"github.com/zama-ai/testnet-reward-agent/pkg/faucet"
	"github.com/zama-ai/testnet-reward-agent/pkg/logger"
	"github.com/zama-ai/testnet-reward-agent/pkg/state"
	"github.com/zama-ai/testnet-reward-agent/pkg/wallet"
)

// Claimer submits the claimReward() transaction and waits for its receipt.
type Claimer interface {
	ClaimReward(ctx context.Context, w *wallet.Wallet) (*contract.ClaimResult, error)
}

// GateState is the claim gate as seen by the last claim tick.
type GateState int

const (
	GateWaiting GateState = iota
	GateEligible
	GateInFlight
)

func (g GateState) String() string {
	switch g {
	case GateEligible:
		return "ELIGIBLE"
	case GateInFlight:
		return "IN_FLIGHT"
	default:
		return "WAITING"
	}
}

// ClaimOutcome is the result of one claim tick. It doubles as the metric label.
type ClaimOutcome string

const (
	ClaimSucceeded ClaimOutcome = "success"
	ClaimSkipped   ClaimOutcome = "skipped"
	ClaimFailed    ClaimOutcome = "failed"
	ClaimTimedOut  ClaimOutcome = "timeout"
	ClaimReverted  ClaimOutcome = "reverted"
)

// Agent runs the faucet and claim tasks for one wallet. Each task fires once
// at Start and then on its own cron entry.
type Agent struct {
	config       *config.Schema
	wallet       *wallet.Wallet
	faucetClient faucet.Fauceter
	claimer      Claimer
	store        state.ClaimStore
	metrics      *Metrics
	now          func() time.Time

	cron        *cron.Cron
	faucetJob   cron.Job
	claimJob    cron.Job
	faucetEntry cron.EntryID
	claimEntry  cron.EntryID
	startup     sync.WaitGroup

	running bool
	mutex   sync.RWMutex
	cancel  context.CancelFunc

	statusMutex sync.Mutex
	status      Status
}

// Status is a point-in-time snapshot of the agent.
type Status struct {
	Address       string    `json:"address"`
	Running       bool      `json:"running"`
	GateState     string    `json:"gateState"`
	LastClaim     time.Time `json:"lastClaim"`
	NextEligible  time.Time `json:"nextEligible"`
	NextFaucetRun time.Time `json:"nextFaucetRun"`
	NextClaimRun  time.Time `json:"nextClaimRun"`

	LastFaucetAt      time.Time `json:"lastFaucetAt"`
	LastFaucetMessage string    `json:"lastFaucetMessage,omitempty"`
	LastFaucetError   string    `json:"lastFaucetError,omitempty"`
	LastClaimTx       string    `json:"lastClaimTx,omitempty"`
	LastClaimError    string    `json:"lastClaimError,omitempty"`

	gate GateState
}

type Option func(*Agent)

// WithClock replaces time.Now for the claim gate.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(a *Agent) {
		a.metrics = metrics
	}
}

// NewAgent creates an agent for w. The faucet client may be nil when the
// faucet task is disabled, likewise the claimer and store for the claim task.
func NewAgent(cfg *config.Schema, w *wallet.Wallet, faucetClient faucet.Fauceter, claimer Claimer, store state.ClaimStore, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if w == nil {
		return nil, fmt.Errorf("wallet is required")
	}
	if cfg.Faucet.IsEnabled() && faucetClient == nil {
		return nil, fmt.Errorf("faucet client is required when the faucet task is enabled")
	}
	if cfg.Claim.IsEnabled() && (claimer == nil || store == nil) {
		return nil, fmt.Errorf("claimer and state store are required when the claim task is enabled")
	}

	agent := &Agent{
		config:       cfg,
		wallet:       w,
		faucetClient: faucetClient,
		claimer:      claimer,
		store:        store,
		now:          time.Now,
		status:       Status{Address: w.Address().Hex()},
	}
	for _, opt := range opts {
		opt(agent)
	}
	if agent.metrics == nil {
		agent.metrics = NewMetrics(nil)
	}
	return agent, nil
}

// Start runs each enabled task once, faucet first, and only then installs the
// cron entries. It returns once the startup runs are done and cron is ticking.
func (a *Agent) Start(ctx context.Context) error {
	a.mutex.Lock()
	if a.running {
		a.mutex.Unlock()
		return fmt.Errorf("agent is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cronLogger := cron.PrintfLogger(logger.GetLogger())
	c := cron.New(cron.WithLogger(cronLogger))

	faucetJob := cron.FuncJob(func() { a.RunFaucet(runCtx) })
	claimJob := cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(func() { a.RunClaim(runCtx) }))

	a.cron = c
	a.faucetJob = faucetJob
	a.claimJob = claimJob
	a.faucetEntry, a.claimEntry = 0, 0
	a.cancel = cancel
	a.running = true
	a.startup.Add(1)
	a.mutex.Unlock()
	defer a.startup.Done()

	logger.Infof("[agent] Agent started for wallet %s", a.wallet.Address().Hex())
	faucetEnabled, claimEnabled := a.config.Faucet.IsEnabled(), a.config.Claim.IsEnabled()
	if !faucetEnabled && !claimEnabled {
		logger.Warnf("[agent] Both faucet and claim tasks are disabled")
	}
	if faucetEnabled {
		faucetJob.Run()
	}
	if claimEnabled {
		claimJob.Run()
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	if runCtx.Err() != nil || a.cron != c {
		logger.Infof("[agent] Agent stopped during startup run, cron entries not installed")
		return nil
	}

	if faucetEnabled {
		a.faucetEntry = c.Schedule(every(a.config.Faucet.Interval), faucetJob)
		logger.Infof("[agent] Faucet task scheduled every %s (%s)", a.config.Faucet.Interval, a.config.Faucet.URL)
	}
	if claimEnabled {
		a.claimEntry = c.Schedule(every(a.config.Claim.Interval), claimJob)
		logger.Infof("[agent] Claim task scheduled every %s (contract %s)", a.config.Claim.Interval, a.config.Claim.ContractAddress)
	}
	c.Start()
	return nil
}

// every is a fixed-delay cron schedule. Unlike cron.Every it keeps sub-second
// precision.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// Stop cancels in-flight work and waits for running jobs. It is safe to call
// more than once.
func (a *Agent) Stop() error {
	a.mutex.Lock()
	if !a.running {
		a.mutex.Unlock()
		return nil
	}

	logger.Infof("[agent] Stopping agent...")
	a.running = false
	a.cancel()
	c := a.cron
	a.mutex.Unlock()

	<-c.Stop().Done()
	a.startup.Wait()

	logger.Infof("[agent] Agent stopped")
	return nil
}

// IsRunning returns whether the agent is currently running
func (a *Agent) IsRunning() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.running
}

// RunFaucet requests funds for the wallet once. Failures are logged and
// counted, never returned.
func (a *Agent) RunFaucet(ctx context.Context) {
	address := a.wallet.Address().Hex()
	logger.Infof("[faucet] Requesting funds for %s", address)

	result, err := a.faucetClient.Claim(ctx, address)

	a.statusMutex.Lock()
	defer a.statusMutex.Unlock()
	a.status.LastFaucetAt = a.now()

	if err != nil {
		logger.Errorf("[faucet] Faucet request for %s failed: %v", address, err)
		a.status.LastFaucetMessage = ""
		a.status.LastFaucetError = err.Error()
		a.metrics.faucetRequests.WithLabelValues("failed").Inc()
		return
	}

	if result.Funded {
		logger.Infof("[faucet] Faucet funded %s: %s", address, result.Message)
	} else {
		logger.Infof("[faucet] Faucet response: %s", result.Message)
	}
	a.status.LastFaucetMessage = result.Message
	a.status.LastFaucetError = ""
	a.metrics.faucetRequests.WithLabelValues("success").Inc()
}

// RunClaim runs one claim tick. The transaction is only sent once the claim
// interval has elapsed since the last persisted claim, and the timestamp is
// only advanced after a successful receipt.
func (a *Agent) RunClaim(ctx context.Context) ClaimOutcome {
	outcome := a.runClaim(ctx)
	a.metrics.claimAttempts.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (a *Agent) runClaim(ctx context.Context) ClaimOutcome {
	interval := a.config.Claim.Interval

	lastClaim, err := a.store.LastClaim()
	if err != nil {
		logger.Warnf("[claim] Failed to read last claim time, treating it as never: %v", err)
	}
	a.recordLastClaim(lastClaim)

	now := a.now()
	elapsed := now.Sub(lastClaim)
	if elapsed < interval {
		a.setGate(GateWaiting)
		logger.Infof("[claim] Last claim at %s, next claim possible in %s",
			lastClaim.UTC().Format(time.RFC3339), (interval - elapsed).Round(time.Second))
		return ClaimSkipped
	}

	a.setGate(GateEligible)
	a.setGate(GateInFlight)
	logger.Infof("[claim] Using wallet: %s", a.wallet.Address().Hex())

	result, err := a.claimer.ClaimReward(ctx, a.wallet)
	if err != nil {
		outcome := classifyClaimError(err)
		logger.Errorf("[claim] Claim failed (%s): %v", outcome, err)
		a.statusMutex.Lock()
		a.status.LastClaimError = err.Error()
		if result != nil && result.TxHash != (common.Hash{}) {
			a.status.LastClaimTx = result.TxHash.Hex()
		}
		a.statusMutex.Unlock()
		a.setGate(GateEligible)
		return outcome
	}

	claimedAt := a.now()
	logger.Infof("[claim] Reward claimed in tx %s (block %d, gas used %d, %s)",
		result.TxHash.Hex(), result.BlockNumber, result.GasUsed, result.Duration.Round(time.Millisecond))

	if err := a.store.SetLastClaim(claimedAt); err != nil {
		logger.Errorf("[claim] Claim confirmed but failed to persist last claim time: %v", err)
	}
	a.recordLastClaim(claimedAt)

	a.statusMutex.Lock()
	a.status.LastClaimTx = result.TxHash.Hex()
	a.status.LastClaimError = ""
	a.statusMutex.Unlock()
	a.setGate(GateWaiting)
	return ClaimSucceeded
}

func classifyClaimError(err error) ClaimOutcome {
	switch {
	case errors.Is(err, contract.ErrConfirmationTimeout):
		return ClaimTimedOut
	case errors.Is(err, contract.ErrTransactionReverted):
		return ClaimReverted
	default:
		return ClaimFailed
	}
}

func (a *Agent) setGate(gate GateState) {
	a.statusMutex.Lock()
	previous := a.status.gate
	a.status.gate = gate
	a.statusMutex.Unlock()

	if previous != gate {
		logger.Debugf("[claim] Gate %s -> %s", previous, gate)
	}
	a.metrics.gateState.Set(float64(gate))
}

func (a *Agent) recordLastClaim(t time.Time) {
	a.statusMutex.Lock()
	a.status.LastClaim = t
	a.status.NextEligible = t.Add(a.config.Claim.Interval)
	a.statusMutex.Unlock()

	if t.UnixMilli() > 0 {
		a.metrics.lastClaim.Set(float64(t.Unix()))
	}
}

// Status returns a snapshot of the agent
func (a *Agent) Status() Status {
	a.statusMutex.Lock()
	status := a.status
	a.statusMutex.Unlock()
	status.GateState = status.gate.String()

	a.mutex.RLock()
	defer a.mutex.RUnlock()
	status.Running = a.running
	if a.running {
		if a.faucetEntry != 0 {
			status.NextFaucetRun = a.cron.Entry(a.faucetEntry).Next
		}
		if a.claimEntry != 0 {
			status.NextClaimRun = a.cron.Entry(a.claimEntry).Next
		}
	}
	return status
}
