package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zama-ai/testnet-reward-agent/pkg/config"
	"github.com/zama-ai/testnet-reward-agent/pkg/contract"
	"github.com/zama-ai/testnet-reward-agent/pkg/faucet"
	"github.com/zama-ai/testnet-reward-agent/pkg/logger"
	"github.com/zama-ai/testnet-reward-agent/pkg/state"
	"github.com/zama-ai/testnet-reward-agent/pkg/wallet"
)

func init() {
	_ = logger.InitLogger()
}

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// mockFauceter is a mock implementation of faucet.Fauceter for testing.
type mockFauceter struct {
	calls     atomic.Int32
	claimFunc func(ctx context.Context, address string) (*faucet.FaucetResult, error)
}

func (m *mockFauceter) Claim(ctx context.Context, address string) (*faucet.FaucetResult, error) {
	m.calls.Add(1)
	if m.claimFunc != nil {
		return m.claimFunc(ctx, address)
	}
	return &faucet.FaucetResult{Address: address, Message: "ok", StatusCode: 200}, nil
}

// mockClaimer is a mock implementation of Claimer for testing.
type mockClaimer struct {
	calls     atomic.Int32
	claimFunc func(ctx context.Context, w *wallet.Wallet) (*contract.ClaimResult, error)
}

func (m *mockClaimer) ClaimReward(ctx context.Context, w *wallet.Wallet) (*contract.ClaimResult, error) {
	m.calls.Add(1)
	if m.claimFunc != nil {
		return m.claimFunc(ctx, w)
	}
	return &contract.ClaimResult{TxHash: common.HexToHash("0xabc"), BlockNumber: 10, GasUsed: 42000}, nil
}

// fakeClock is a settable clock for gate tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testAgent struct {
	*Agent
	faucet  *mockFauceter
	claimer *mockClaimer
	store   *state.FileStore
	clock   *fakeClock
	metrics *Metrics
}

func newTestAgent(t *testing.T, cfg *config.Schema) *testAgent {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}

	w, err := wallet.FromHex(testKey)
	require.NoError(t, err)

	ta := &testAgent{
		faucet:  &mockFauceter{},
		claimer: &mockClaimer{},
		store:   state.NewFileStore(afero.NewMemMapFs(), cfg.Claim.StateFile),
		clock:   &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	ta.Agent, err = NewAgent(cfg, w, ta.faucet, ta.claimer, ta.store,
		WithClock(ta.clock.Now), WithMetrics(ta.metrics))
	require.NoError(t, err)
	return ta
}

func (ta *testAgent) lastClaim(t *testing.T) time.Time {
	t.Helper()
	last, err := ta.store.LastClaim()
	require.NoError(t, err)
	return last
}

func TestNewAgent_Validation(t *testing.T) {
	w, err := wallet.FromHex(testKey)
	require.NoError(t, err)
	store := state.NewFileStore(afero.NewMemMapFs(), "last")

	disabled := false
	faucetOnly := config.Default()
	faucetOnly.Claim.Enabled = &disabled

	tests := []struct {
		name      string
		cfg       *config.Schema
		wallet    *wallet.Wallet
		fauceter  faucet.Fauceter
		claimer   Claimer
		expectErr bool
	}{
		{"nil config", nil, w, &mockFauceter{}, &mockClaimer{}, true},
		{"nil wallet", config.Default(), nil, &mockFauceter{}, &mockClaimer{}, true},
		{"missing faucet client", config.Default(), w, nil, &mockClaimer{}, true},
		{"missing claimer", config.Default(), w, &mockFauceter{}, nil, true},
		{"claim disabled without claimer", faucetOnly, w, &mockFauceter{}, nil, false},
		{"complete", config.Default(), w, &mockFauceter{}, &mockClaimer{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAgent(tt.cfg, tt.wallet, tt.fauceter, tt.claimer, store)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunClaim_Gate(t *testing.T) {
	interval := config.DefaultClaimInterval

	tests := []struct {
		name        string
		sinceLast   *time.Duration
		wantOutcome ClaimOutcome
		wantCalls   int32
	}{
		{"never claimed", nil, ClaimSucceeded, 1},
		{"claimed 24h ago", durationPtr(24 * time.Hour), ClaimSkipped, 0},
		{"claimed one ms short of the interval", durationPtr(interval - time.Millisecond), ClaimSkipped, 0},
		{"claimed exactly one interval ago", durationPtr(interval), ClaimSucceeded, 1},
		{"claimed 26h ago", durationPtr(26 * time.Hour), ClaimSucceeded, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestAgent(t, nil)
			if tt.sinceLast != nil {
				require.NoError(t, ta.store.SetLastClaim(ta.clock.Now().Add(-*tt.sinceLast)))
			}

			outcome := ta.RunClaim(context.Background())

			assert.Equal(t, tt.wantOutcome, outcome)
			assert.Equal(t, tt.wantCalls, ta.claimer.calls.Load())
			assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.claimAttempts.WithLabelValues(string(tt.wantOutcome))))
			if outcome == ClaimSucceeded {
				assert.Equal(t, ta.clock.Now().UnixMilli(), ta.lastClaim(t).UnixMilli())
			}
		})
	}
}

func TestRunClaim_PersistsConfirmationTime(t *testing.T) {
	ta := newTestAgent(t, nil)
	start := ta.clock.Now()
	ta.claimer.claimFunc = func(ctx context.Context, w *wallet.Wallet) (*contract.ClaimResult, error) {
		// Confirmation takes a while.
		ta.clock.Advance(30 * time.Second)
		return &contract.ClaimResult{TxHash: common.HexToHash("0x01")}, nil
	}

	require.Equal(t, ClaimSucceeded, ta.RunClaim(context.Background()))

	want := start.Add(30 * time.Second)
	assert.Equal(t, want.UnixMilli(), ta.lastClaim(t).UnixMilli())

	status := ta.Status()
	assert.Equal(t, "WAITING", status.GateState)
	assert.Equal(t, common.HexToHash("0x01").Hex(), status.LastClaimTx)
	assert.Equal(t, want.Add(config.DefaultClaimInterval).UnixMilli(), status.NextEligible.UnixMilli())
	assert.Equal(t, float64(want.Unix()), testutil.ToFloat64(ta.metrics.lastClaim))
	assert.Equal(t, float64(GateWaiting), testutil.ToFloat64(ta.metrics.gateState))
}

func TestRunClaim_FailuresLeaveTimestampUnchanged(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantOutcome ClaimOutcome
	}{
		{"rpc failure", errors.New("failed to get gas price: connection refused"), ClaimFailed},
		{"confirmation timeout", fmt.Errorf("%w: tx 0x01 after 5m0s", contract.ErrConfirmationTimeout), ClaimTimedOut},
		{"reverted", fmt.Errorf("%w: tx 0x01 in block 7", contract.ErrTransactionReverted), ClaimReverted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestAgent(t, nil)
			previous := ta.clock.Now().Add(-30 * time.Hour)
			require.NoError(t, ta.store.SetLastClaim(previous))

			ta.claimer.claimFunc = func(ctx context.Context, w *wallet.Wallet) (*contract.ClaimResult, error) {
				return &contract.ClaimResult{TxHash: common.HexToHash("0x01")}, tt.err
			}

			assert.Equal(t, tt.wantOutcome, ta.RunClaim(context.Background()))
			assert.Equal(t, previous.UnixMilli(), ta.lastClaim(t).UnixMilli())

			status := ta.Status()
			assert.Equal(t, "ELIGIBLE", status.GateState)
			assert.Equal(t, tt.err.Error(), status.LastClaimError)

			// The next tick retries.
			ta.claimer.claimFunc = nil
			assert.Equal(t, ClaimSucceeded, ta.RunClaim(context.Background()))
			assert.Equal(t, int32(2), ta.claimer.calls.Load())
		})
	}
}

func TestRunClaim_CorruptStateTreatedAsNeverClaimed(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, config.DefaultStateFile, []byte("not-a-number"), 0o644))

	ta := newTestAgent(t, nil)
	ta.store = state.NewFileStore(fs, config.DefaultStateFile)
	ta.Agent.store = ta.store

	assert.Equal(t, ClaimSucceeded, ta.RunClaim(context.Background()))
	assert.Equal(t, ta.clock.Now().UnixMilli(), ta.lastClaim(t).UnixMilli())
}

func TestRunClaim_SecondTickWithinIntervalIsSkipped(t *testing.T) {
	ta := newTestAgent(t, nil)

	require.Equal(t, ClaimSucceeded, ta.RunClaim(context.Background()))
	ta.clock.Advance(time.Hour)
	assert.Equal(t, ClaimSkipped, ta.RunClaim(context.Background()))
	ta.clock.Advance(24 * time.Hour)
	assert.Equal(t, ClaimSucceeded, ta.RunClaim(context.Background()))
	assert.Equal(t, int32(2), ta.claimer.calls.Load())
}

func TestRunFaucet(t *testing.T) {
	t.Run("success records message", func(t *testing.T) {
		ta := newTestAgent(t, nil)
		ta.faucet.claimFunc = func(ctx context.Context, address string) (*faucet.FaucetResult, error) {
			assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", address)
			return &faucet.FaucetResult{Address: address, Message: "Txhash: 0x123", Funded: true}, nil
		}

		ta.RunFaucet(context.Background())

		status := ta.Status()
		assert.Equal(t, "Txhash: 0x123", status.LastFaucetMessage)
		assert.Empty(t, status.LastFaucetError)
		assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.faucetRequests.WithLabelValues("success")))
	})

	t.Run("failure is swallowed", func(t *testing.T) {
		ta := newTestAgent(t, nil)
		ta.faucet.claimFunc = func(ctx context.Context, address string) (*faucet.FaucetResult, error) {
			return nil, fmt.Errorf("%w: 429", faucet.ErrUnexpectedStatus)
		}

		ta.RunFaucet(context.Background())

		status := ta.Status()
		assert.Contains(t, status.LastFaucetError, "429")
		assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.faucetRequests.WithLabelValues("failed")))
	})
}

func TestStart_FaucetFailureDoesNotAffectClaim(t *testing.T) {
	ta := newTestAgent(t, nil)
	ta.faucet.claimFunc = func(ctx context.Context, address string) (*faucet.FaucetResult, error) {
		return nil, errors.New("faucet unreachable")
	}

	require.NoError(t, ta.Start(context.Background()))
	defer ta.Stop()

	assert.Equal(t, int32(1), ta.faucet.calls.Load())
	assert.Equal(t, int32(1), ta.claimer.calls.Load())
	assert.Equal(t, ta.clock.Now().UnixMilli(), ta.lastClaim(t).UnixMilli())
}

func TestStart_RecentClaimSendsNoTransaction(t *testing.T) {
	ta := newTestAgent(t, nil)
	require.NoError(t, ta.store.SetLastClaim(ta.clock.Now().Add(-time.Hour)))

	require.NoError(t, ta.Start(context.Background()))
	defer ta.Stop()

	assert.Equal(t, int32(1), ta.faucet.calls.Load())
	assert.Zero(t, ta.claimer.calls.Load())
}

func TestStart_DisabledTasks(t *testing.T) {
	disabled := false
	cfg := config.Default()
	cfg.Faucet.Enabled = &disabled

	ta := newTestAgent(t, cfg)
	require.NoError(t, ta.Start(context.Background()))
	defer ta.Stop()

	assert.Zero(t, ta.faucet.calls.Load())
	assert.Equal(t, int32(1), ta.claimer.calls.Load())

	status := ta.Status()
	assert.True(t, status.NextFaucetRun.IsZero())
	assert.False(t, status.NextClaimRun.IsZero())
}

func TestAgentStartStop(t *testing.T) {
	ta := newTestAgent(t, nil)

	assert.False(t, ta.IsRunning())
	assert.NoError(t, ta.Stop(), "stop before start is a no-op")

	require.NoError(t, ta.Start(context.Background()))
	assert.True(t, ta.IsRunning())
	assert.Error(t, ta.Start(context.Background()), "second start must fail")

	before := time.Now()
	status := ta.Status()
	assert.True(t, status.Running)
	assert.WithinDuration(t, before.Add(config.DefaultFaucetInterval), status.NextFaucetRun, 5*time.Second)
	assert.WithinDuration(t, before.Add(config.DefaultClaimInterval), status.NextClaimRun, 5*time.Second)

	assert.NoError(t, ta.Stop())
	assert.False(t, ta.IsRunning())
	assert.NoError(t, ta.Stop(), "second stop is a no-op")
	assert.True(t, ta.Status().NextClaimRun.IsZero())
}

func TestClaimJob_OverlappingTickIsSkipped(t *testing.T) {
	disabled := false
	cfg := config.Default()
	cfg.Faucet.Enabled = &disabled
	ta := newTestAgent(t, cfg)

	entered := make(chan struct{})
	release := make(chan struct{})
	ta.claimer.claimFunc = func(ctx context.Context, w *wallet.Wallet) (*contract.ClaimResult, error) {
		close(entered)
		<-release
		return &contract.ClaimResult{}, nil
	}

	started := make(chan error, 1)
	go func() { started <- ta.Start(context.Background()) }()
	<-entered

	assert.Equal(t, "IN_FLIGHT", ta.Status().GateState)

	ta.mutex.RLock()
	claimJob := ta.claimJob
	ta.mutex.RUnlock()

	done := make(chan struct{})
	go func() {
		claimJob.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("overlapping claim tick should return immediately")
	}

	close(release)
	require.NoError(t, <-started)
	assert.Equal(t, int32(1), ta.claimer.calls.Load())
	assert.NoError(t, ta.Stop())
}

func TestStop_CancelsInFlightClaim(t *testing.T) {
	disabled := false
	cfg := config.Default()
	cfg.Faucet.Enabled = &disabled
	ta := newTestAgent(t, cfg)
	previous := ta.clock.Now().Add(-48 * time.Hour)
	require.NoError(t, ta.store.SetLastClaim(previous))

	entered := make(chan struct{})
	ta.claimer.claimFunc = func(ctx context.Context, w *wallet.Wallet) (*contract.ClaimResult, error) {
		close(entered)
		<-ctx.Done()
		return &contract.ClaimResult{}, fmt.Errorf("stopped waiting: %w", ctx.Err())
	}

	started := make(chan error, 1)
	go func() { started <- ta.Start(context.Background()) }()
	<-entered

	require.NoError(t, ta.Stop())
	require.NoError(t, <-started)
	assert.Equal(t, previous.UnixMilli(), ta.lastClaim(t).UnixMilli())
	assert.Equal(t, 1.0, testutil.ToFloat64(ta.metrics.claimAttempts.WithLabelValues(string(ClaimFailed))))
	assert.Empty(t, ta.cron.Entries(), "no cron entries after stopping during the startup run")
}

func TestStart_RunsTasksBeforeInstallingCron(t *testing.T) {
	ta := newTestAgent(t, nil)
	ta.Agent.now = time.Now

	var mu sync.Mutex
	var order []string
	ta.faucet.claimFunc = func(ctx context.Context, address string) (*faucet.FaucetResult, error) {
		mu.Lock()
		order = append(order, "faucet")
		mu.Unlock()
		return &faucet.FaucetResult{Address: address, Message: "ok"}, nil
	}
	ta.claimer.claimFunc = func(ctx context.Context, w *wallet.Wallet) (*contract.ClaimResult, error) {
		mu.Lock()
		order = append(order, "claim")
		mu.Unlock()
		status := ta.Status()
		assert.True(t, status.NextFaucetRun.IsZero(), "faucet entry installed before the startup claim")
		assert.True(t, status.NextClaimRun.IsZero(), "claim entry installed before the startup claim")
		return &contract.ClaimResult{TxHash: common.HexToHash("0x01")}, nil
	}

	require.NoError(t, ta.Start(context.Background()))
	defer ta.Stop()

	assert.Equal(t, []string{"faucet", "claim"}, order)
	status := ta.Status()
	assert.False(t, status.NextClaimRun.Before(status.NextEligible), "first claim tick lands before the claim is eligible")
	assert.False(t, status.NextFaucetRun.IsZero())
}

func TestStart_FirstScheduledClaimIsEligible(t *testing.T) {
	disabled := false
	cfg := config.Default()
	cfg.Faucet.Enabled = &disabled
	cfg.Claim.Interval = 2 * time.Second

	ta := newTestAgent(t, cfg)
	ta.Agent.now = time.Now
	ta.claimer.claimFunc = func(ctx context.Context, w *wallet.Wallet) (*contract.ClaimResult, error) {
		// Confirmation takes a while.
		time.Sleep(600 * time.Millisecond)
		return &contract.ClaimResult{TxHash: common.HexToHash("0x01")}, nil
	}

	require.NoError(t, ta.Start(context.Background()))
	defer ta.Stop()

	success := ta.metrics.claimAttempts.WithLabelValues(string(ClaimSucceeded))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(success) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, testutil.ToFloat64(ta.metrics.claimAttempts.WithLabelValues(string(ClaimSkipped))))
}

func TestStop_DoesNotBlockStatus(t *testing.T) {
	disabled := false
	cfg := config.Default()
	cfg.Faucet.Enabled = &disabled
	ta := newTestAgent(t, cfg)

	entered := make(chan struct{})
	release := make(chan struct{})
	ta.claimer.claimFunc = func(ctx context.Context, w *wallet.Wallet) (*contract.ClaimResult, error) {
		close(entered)
		<-release
		return &contract.ClaimResult{}, nil
	}

	started := make(chan error, 1)
	go func() { started <- ta.Start(context.Background()) }()
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- ta.Stop() }()

	assert.Eventually(t, func() bool { return !ta.IsRunning() }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, ta.Status().Running)

	select {
	case <-stopped:
		t.Fatal("stop returned before the in-flight claim finished")
	default:
	}

	close(release)
	require.NoError(t, <-stopped)
	require.NoError(t, <-started)
}

func TestGateStateString(t *testing.T) {
	assert.Equal(t, "WAITING", GateWaiting.String())
	assert.Equal(t, "ELIGIBLE", GateEligible.String())
	assert.Equal(t, "IN_FLIGHT", GateInFlight.String())
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
