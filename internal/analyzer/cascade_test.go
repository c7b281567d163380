package analyzer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/polysignal/consensuswatch/internal/config"
	"github.com/polysignal/consensuswatch/internal/polymarket/dataapi"
	"github.com/polysignal/consensuswatch/internal/storage"
	"github.com/sirupsen/logrus"
)

type fakeData struct {
	tradeCount    int
	positions     []dataapi.Position
	lastTrade     int64
	tradeErr      error
	positionsErr  error
	countCalls    int
	positionCalls int
	activityCalls int
}

func (f *fakeData) TradeCount(ctx context.Context, address string) (int, error) {
	f.countCalls++
	return f.tradeCount, f.tradeErr
}

func (f *fakeData) ClosedPositions(ctx context.Context, address string, lookback time.Duration, limit int) ([]dataapi.Position, error) {
	f.positionCalls++
	return f.positions, f.positionsErr
}

func (f *fakeData) LastTradeTimestamp(ctx context.Context, address string) (int64, error) {
	f.activityCalls++
	return f.lastTrade, nil
}

type fakeStore struct {
	cache     map[string]*storage.AnalysisCache
	wallets   map[string]*storage.TrackedWallet
	completed []int64
	failed    []int64
	retried   []int64
	retryAt   []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cache:   make(map[string]*storage.AnalysisCache),
		wallets: make(map[string]*storage.TrackedWallet),
	}
}

func (f *fakeStore) DequeueReady(ctx context.Context, limit int) ([]storage.AnalysisJob, error) {
	return nil, nil
}
func (f *fakeStore) ClaimJob(ctx context.Context, id int64) (bool, error) { return true, nil }

func (f *fakeStore) CompleteJob(ctx context.Context, id int64) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, id int64, m string) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeStore) RetryJob(ctx context.Context, id int64, t time.Time, m string) error {
	f.retried = append(f.retried, id)
	f.retryAt = append(f.retryAt, t)
	return nil
}

func (f *fakeStore) GetCachedAnalysis(ctx context.Context, address string) (*storage.AnalysisCache, error) {
	return f.cache[address], nil
}

func (f *fakeStore) CacheAnalysis(ctx context.Context, entry *storage.AnalysisCache, ttl time.Duration) error {
	f.cache[entry.Address] = entry
	return nil
}

func (f *fakeStore) GetTrackedWallet(ctx context.Context, address string) (*storage.TrackedWallet, error) {
	return f.wallets[address], nil
}

func (f *fakeStore) UpsertTrackedWallet(ctx context.Context, w *storage.TrackedWallet) error {
	f.wallets[w.Address] = w
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		AnalyzerWorkers:   1,
		MaxRetries:        6,
		RetryBackoffBase:  1.2,
		RetryJitter:       0.1,
		AnalysisCacheTTL:  time.Hour,
		MinTrades:         6,
		MinMarkets:        12,
		MinVolumeUSD:      25000,
		MinWinRate:        0.70,
		MinROI:            0.0025,
		MinAvgPnLUSD:      50,
		MinAvgStakeUSD:    100,
		MaxDailyFrequency: 40,
		InactivityDays:    14,
		LookbackDays:      90,
		MaxPositions:      500,
	}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// qualityPositions builds a history that clears every threshold
func qualityPositions(n int) []dataapi.Position {
	now := time.Now().Unix()
	positions := make([]dataapi.Position, n)
	for i := range positions {
		pnl := 200.0
		if i%5 == 4 {
			pnl = -50.0 // 80% win rate
		}
		positions[i] = dataapi.Position{
			ConditionID: string(rune('a' + i%15)),
			Size:        5000,
			EntryPrice:  0.5,
			RealizedPnL: pnl,
			ClosedTS:    now - int64(i)*86400,
		}
	}
	return positions
}

func TestEvaluateTaxonomy(t *testing.T) {
	now := time.Now().Unix()

	tests := []struct {
		name string
		data *fakeData
		want string
	}{
		{
			name: "accepted",
			data: &fakeData{tradeCount: 50, positions: qualityPositions(20), lastTrade: now - 3600},
			want: ResultAccepted,
		},
		{
			name: "low trades",
			data: &fakeData{tradeCount: 5},
			want: ResultLowTrades,
		},
		{
			name: "no closed positions",
			data: &fakeData{tradeCount: 50},
			want: ResultNoStats,
		},
		{
			name: "inactive",
			data: &fakeData{tradeCount: 50, positions: qualityPositions(20), lastTrade: now - 30*86400},
			want: ResultInactive,
		},
		{
			name: "no activity signal is not inactive",
			data: &fakeData{tradeCount: 50, positions: qualityPositions(20), lastTrade: 0},
			want: ResultAccepted,
		},
		{
			name: "high frequency",
			data: &fakeData{tradeCount: 5000, positions: qualityPositions(20), lastTrade: now - 3600},
			want: ResultHighFrequency,
		},
		{
			name: "low market count",
			data: &fakeData{
				tradeCount: 50,
				positions: []dataapi.Position{
					{ConditionID: "m1", Size: 30000, EntryPrice: 1.0, RealizedPnL: 500, ClosedTS: now - 86400},
					{ConditionID: "m2", Size: 30000, EntryPrice: 1.0, RealizedPnL: 500, ClosedTS: now - 10*86400},
				},
				lastTrade: now - 3600,
			},
			want: ResultLowMarkets,
		},
		{
			name: "low volume",
			data: &fakeData{
				tradeCount: 50,
				positions: func() []dataapi.Position {
					ps := qualityPositions(20)
					for i := range ps {
						ps[i].Size = 400 // $200 stakes, well under the floor
					}
					return ps
				}(),
				lastTrade: now - 3600,
			},
			want: ResultLowVolume,
		},
		{
			name: "low win rate",
			data: &fakeData{
				tradeCount: 50,
				positions: func() []dataapi.Position {
					ps := qualityPositions(20)
					for i := range ps {
						if i%2 == 0 {
							ps[i].RealizedPnL = -10 // 50% win rate, PnL still positive
						}
					}
					return ps
				}(),
				lastTrade: now - 3600,
			},
			want: ResultLowWinRate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(testConfig(), newFakeStore(), tt.data, testLogger())
			got, _, err := a.evaluate(context.Background(), logrus.NewEntry(testLogger()), "0xabc")
			if err != nil {
				t.Fatalf("evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("evaluate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLowTradesSkipsPositionFetch(t *testing.T) {
	data := &fakeData{tradeCount: 5}
	a := New(testConfig(), newFakeStore(), data, testLogger())

	got, _, err := a.evaluate(context.Background(), logrus.NewEntry(testLogger()), "0xabc")
	if err != nil {
		t.Fatalf("evaluate() error = %v", err)
	}
	if got != ResultLowTrades {
		t.Errorf("evaluate() = %q, want %q", got, ResultLowTrades)
	}
	if data.positionCalls != 0 {
		t.Errorf("positionCalls = %d, want 0", data.positionCalls)
	}
	if data.activityCalls != 0 {
		t.Errorf("activityCalls = %d, want 0", data.activityCalls)
	}
}

func TestCachedVerdictSkipsMarketData(t *testing.T) {
	store := newFakeStore()
	store.cache["0xabc"] = &storage.AnalysisCache{
		Address:   "0xabc",
		Result:    ResultLowVolume,
		ExpiresTS: time.Now().Add(time.Hour).Unix(),
	}
	data := &fakeData{tradeCount: 50, positions: qualityPositions(20)}
	a := New(testConfig(), store, data, testLogger())

	job := &storage.AnalysisJob{ID: 1, Address: "0xabc"}
	got, err := a.analyze(context.Background(), logrus.NewEntry(testLogger()), job)
	if err != nil {
		t.Fatalf("analyze() error = %v", err)
	}
	if got != ResultLowVolume {
		t.Errorf("analyze() = %q, want %q", got, ResultLowVolume)
	}
	if data.countCalls != 0 || data.positionCalls != 0 {
		t.Errorf("market data called on cache hit: counts=%d positions=%d", data.countCalls, data.positionCalls)
	}
}

func TestCachedAcceptRepairsTrackedWallet(t *testing.T) {
	store := newFakeStore()
	store.cache["0xabc"] = &storage.AnalysisCache{
		Address:     "0xabc",
		Result:      ResultAccepted,
		WinRate:     0.8,
		MarketCount: 15,
		ExpiresTS:   time.Now().Add(time.Hour).Unix(),
	}
	a := New(testConfig(), store, &fakeData{}, testLogger())

	job := &storage.AnalysisJob{ID: 1, Address: "0xabc", Display: "whale"}
	got, err := a.analyze(context.Background(), logrus.NewEntry(testLogger()), job)
	if err != nil {
		t.Fatalf("analyze() error = %v", err)
	}
	if got != ResultAccepted {
		t.Errorf("analyze() = %q, want %q", got, ResultAccepted)
	}
	wallet := store.wallets["0xabc"]
	if wallet == nil {
		t.Fatal("tracked wallet not repaired from cached verdict")
	}
	if wallet.WinRate != 0.8 || wallet.MarketCount != 15 {
		t.Errorf("repaired wallet = %+v, want metrics from cache", wallet)
	}
}

func TestAcceptPersistsWalletAndCache(t *testing.T) {
	store := newFakeStore()
	data := &fakeData{tradeCount: 50, positions: qualityPositions(20), lastTrade: time.Now().Unix() - 3600}
	a := New(testConfig(), store, data, testLogger())

	job := &storage.AnalysisJob{ID: 1, Address: "0xabc", Display: "whale", Source: "leaderboard"}
	got, err := a.analyze(context.Background(), logrus.NewEntry(testLogger()), job)
	if err != nil {
		t.Fatalf("analyze() error = %v", err)
	}
	if got != ResultAccepted {
		t.Fatalf("analyze() = %q, want %q", got, ResultAccepted)
	}
	if store.wallets["0xabc"] == nil {
		t.Error("accepted wallet not tracked")
	}
	entry := store.cache["0xabc"]
	if entry == nil {
		t.Fatal("verdict not cached")
	}
	if entry.Result != ResultAccepted {
		t.Errorf("cached result = %q, want %q", entry.Result, ResultAccepted)
	}
}

func TestProcessJobStatusMachine(t *testing.T) {
	tests := []struct {
		name          string
		tradeErr      error
		retryCount    int
		wantCompleted int
		wantFailed    int
		wantRetried   int
	}{
		{
			name:          "success completes",
			wantCompleted: 1,
		},
		{
			name:        "retryable upstream failure reschedules",
			tradeErr:    &dataapi.CallError{Endpoint: "/traded", Status: 503, Retryable: true, Message: "service unavailable"},
			wantRetried: 1,
		},
		{
			name:       "retry budget exhausted fails",
			tradeErr:   &dataapi.CallError{Endpoint: "/traded", Status: 503, Retryable: true, Message: "service unavailable"},
			retryCount: 6,
			wantFailed: 1,
		},
		{
			name:          "terminal upstream answer completes with api_error verdict",
			tradeErr:      &dataapi.CallError{Endpoint: "/traded", Status: 404, Retryable: false, Message: "not found"},
			wantCompleted: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			data := &fakeData{
				tradeCount: 50,
				positions:  qualityPositions(20),
				lastTrade:  time.Now().Unix() - 3600,
				tradeErr:   tt.tradeErr,
			}
			a := New(testConfig(), store, data, testLogger())

			job := &storage.AnalysisJob{
				ID:         7,
				Address:    "0xabc",
				RetryCount: tt.retryCount,
				MaxRetries: 6,
			}
			a.processJob(context.Background(), logrus.NewEntry(testLogger()), job)

			if got := len(store.completed); got != tt.wantCompleted {
				t.Errorf("completed = %d, want %d", got, tt.wantCompleted)
			}
			if got := len(store.failed); got != tt.wantFailed {
				t.Errorf("failed = %d, want %d", got, tt.wantFailed)
			}
			if got := len(store.retried); got != tt.wantRetried {
				t.Errorf("retried = %d, want %d", got, tt.wantRetried)
			}
		})
	}
}

func TestRetryScheduledInFuture(t *testing.T) {
	store := newFakeStore()
	data := &fakeData{tradeErr: &dataapi.CallError{Endpoint: "/traded", Status: 429, Retryable: true, RetryAfter: 30 * time.Second}}
	a := New(testConfig(), store, data, testLogger())

	before := time.Now()
	job := &storage.AnalysisJob{ID: 7, Address: "0xabc", MaxRetries: 6}
	a.processJob(context.Background(), logrus.NewEntry(testLogger()), job)

	if len(store.retryAt) != 1 {
		t.Fatalf("retried = %d, want 1", len(store.retryAt))
	}
	if next := store.retryAt[0]; next.Before(before.Add(30 * time.Second)) {
		t.Errorf("next retry %v earlier than Retry-After floor", next)
	}
}

func TestTerminalErrorCachesAPIErrorVerdict(t *testing.T) {
	store := newFakeStore()
	data := &fakeData{tradeErr: &dataapi.CallError{Endpoint: "/traded", Status: 404, Retryable: false, Message: "not found"}}
	a := New(testConfig(), store, data, testLogger())

	job := &storage.AnalysisJob{ID: 7, Address: "0xabc", MaxRetries: 6}
	a.processJob(context.Background(), logrus.NewEntry(testLogger()), job)

	entry := store.cache["0xabc"]
	if entry == nil {
		t.Fatal("terminal verdict not cached")
	}
	if entry.Result != ResultAPIError {
		t.Errorf("cached result = %q, want %q", entry.Result, ResultAPIError)
	}
	if len(store.completed) != 1 || len(store.failed) != 0 {
		t.Errorf("completed=%d failed=%d, want job completed", len(store.completed), len(store.failed))
	}
}

func TestComputeMetrics(t *testing.T) {
	now := time.Now().Unix()
	positions := []dataapi.Position{
		{ConditionID: "m1", Size: 1000, EntryPrice: 0.5, RealizedPnL: 300, ClosedTS: now - 86400},
		{ConditionID: "m2", Size: 2000, EntryPrice: 0.25, RealizedPnL: -100, ClosedTS: now - 5*86400},
		{ConditionID: "m1", Size: 500, EntryPrice: 0.8, RealizedPnL: 200, ClosedTS: now - 10*86400},
	}

	m := computeMetrics(45, positions)

	if m.MarketCount != 2 {
		t.Errorf("MarketCount = %d, want 2", m.MarketCount)
	}
	assertClose(t, "WinRate", m.WinRate, 2.0/3.0)
	assertClose(t, "RealizedPnLUSD", m.RealizedPnLUSD, 400)
	assertClose(t, "VolumeUSD", m.VolumeUSD, 1400) // 500 + 500 + 400
	assertClose(t, "ROI", m.ROI, 400.0/1400.0)
	assertClose(t, "AvgPnLUSD", m.AvgPnLUSD, 200)
	assertClose(t, "AvgStakeUSD", m.AvgStakeUSD, 1400.0/3.0)
	assertClose(t, "DailyFrequency", m.DailyFrequency, 5.0) // 45 trades over 9 days
}

func TestRetryDelay(t *testing.T) {
	a := New(testConfig(), newFakeStore(), &fakeData{}, testLogger())

	for attempt := 0; attempt <= 6; attempt++ {
		delay := a.retryDelay(attempt, 0)
		base := time.Duration(math.Pow(1.2, float64(attempt)) * float64(time.Second))
		if delay < base {
			t.Errorf("attempt %d: delay %v below backoff floor %v", attempt, delay, base)
		}
		max := base + time.Duration(0.1*float64(base)) + time.Millisecond
		if delay > max {
			t.Errorf("attempt %d: delay %v above jittered ceiling %v", attempt, delay, max)
		}
	}

	// server Retry-After overrides a shorter computed delay
	if delay := a.retryDelay(0, 30*time.Second); delay != 30*time.Second {
		t.Errorf("retryDelay with Retry-After = %v, want 30s", delay)
	}

	// cap holds for large attempts
	if delay := a.retryDelay(100, 0); delay > maxRetryDelay {
		t.Errorf("retryDelay(100) = %v, exceeds cap %v", delay, maxRetryDelay)
	}
}

func assertClose(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}
