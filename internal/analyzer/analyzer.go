package analyzer

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/polysignal/consensuswatch/internal/config"
	"github.com/polysignal/consensuswatch/internal/metrics"
	"github.com/polysignal/consensuswatch/internal/polymarket/dataapi"
	"github.com/polysignal/consensuswatch/internal/storage"
	"github.com/sirupsen/logrus"
)

// maxRetryDelay caps the exponential backoff
const maxRetryDelay = 10 * time.Minute

// Store is the persistence surface the analyzer needs
type Store interface {
	DequeueReady(ctx context.Context, limit int) ([]storage.AnalysisJob, error)
	ClaimJob(ctx context.Context, id int64) (bool, error)
	CompleteJob(ctx context.Context, id int64) error
	FailJob(ctx context.Context, id int64, errMsg string) error
	RetryJob(ctx context.Context, id int64, nextRetry time.Time, errMsg string) error
	GetCachedAnalysis(ctx context.Context, address string) (*storage.AnalysisCache, error)
	CacheAnalysis(ctx context.Context, entry *storage.AnalysisCache, ttl time.Duration) error
	GetTrackedWallet(ctx context.Context, address string) (*storage.TrackedWallet, error)
	UpsertTrackedWallet(ctx context.Context, wallet *storage.TrackedWallet) error
}

// MarketData is the upstream surface the quality filter reads from
type MarketData interface {
	TradeCount(ctx context.Context, address string) (int, error)
	ClosedPositions(ctx context.Context, address string, lookback time.Duration, limit int) ([]dataapi.Position, error)
	LastTradeTimestamp(ctx context.Context, address string) (int64, error)
}

// Analyzer drains the wallet-analysis queue with a bounded worker pool
type Analyzer struct {
	cfg   *config.Config
	store Store
	data  MarketData
	log   *logrus.Logger
}

// New creates a wallet analyzer
func New(cfg *config.Config, store Store, data MarketData, log *logrus.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, store: store, data: data, log: log}
}

// Run starts the worker pool and blocks until ctx is cancelled. Workers
// finish their current job before exiting.
func (a *Analyzer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < a.cfg.AnalyzerWorkers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			a.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (a *Analyzer) workerLoop(ctx context.Context, worker int) {
	log := a.log.WithField("worker", worker)
	log.Info("Analyzer worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Analyzer worker stopped")
			return
		default:
		}

		job, ok := a.claimNext(ctx, log)
		if !ok {
			select {
			case <-ctx.Done():
			case <-time.After(a.cfg.IdleSleep):
			}
			continue
		}

		a.processJob(ctx, log, job)
	}
}

// claimNext dequeues a batch of ready jobs and races other workers for
// one of them. Losing a claim just means trying the next candidate.
func (a *Analyzer) claimNext(ctx context.Context, log *logrus.Entry) (*storage.AnalysisJob, bool) {
	jobs, err := a.store.DequeueReady(ctx, a.cfg.DequeueBatchSize)
	if err != nil {
		log.WithError(err).Error("Failed to dequeue jobs")
		return nil, false
	}

	for i := range jobs {
		claimed, err := a.store.ClaimJob(ctx, jobs[i].ID)
		if err != nil {
			log.WithError(err).WithField("job_id", jobs[i].ID).Error("Failed to claim job")
			continue
		}
		if claimed {
			return &jobs[i], true
		}
	}
	return nil, false
}

func (a *Analyzer) processJob(ctx context.Context, log *logrus.Entry, job *storage.AnalysisJob) {
	start := time.Now()
	jobLog := log.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"address": job.Address,
		"source":  job.Source,
	})

	verdict, err := a.analyze(ctx, jobLog, job)
	if err != nil {
		outcome := a.handleError(ctx, jobLog, job, err)
		metrics.RecordJob(outcome, time.Since(start))
		return
	}

	if err := a.store.CompleteJob(ctx, job.ID); err != nil {
		jobLog.WithError(err).Error("Failed to complete job")
	}
	metrics.RecordJob(verdict, time.Since(start))
	jobLog.WithFields(logrus.Fields{
		"result":   verdict,
		"duration": time.Since(start).String(),
	}).Info("Wallet analysis finished")
}

// analyze resolves a verdict for the job's address, consulting the cache
// first. Returns an error only for retryable upstream failures.
func (a *Analyzer) analyze(ctx context.Context, log *logrus.Entry, job *storage.AnalysisJob) (string, error) {
	cached, err := a.store.GetCachedAnalysis(ctx, job.Address)
	if err != nil {
		log.WithError(err).Warn("Cache lookup failed, analyzing fresh")
	}
	if cached != nil {
		metrics.CacheHits.Inc()
		log.WithField("result", cached.Result).Debug("Analysis cache hit")
		if cached.Result == ResultAccepted {
			if err := a.repairTrackedWallet(ctx, job, cached); err != nil {
				log.WithError(err).Warn("Failed to repair tracked wallet from cache")
			}
		}
		return cached.Result, nil
	}

	verdict, m, err := a.evaluate(ctx, log, job.Address)
	if err != nil {
		retryable, _, ok := dataapi.Classify(err)
		if ok && !retryable {
			// terminal upstream answer, cache it so we stop asking
			verdict = ResultAPIError
		} else {
			return "", err
		}
	}

	if verdict == ResultAccepted {
		wallet := &storage.TrackedWallet{
			Address:        job.Address,
			Display:        job.Display,
			Source:         job.Source,
			WinRate:        m.WinRate,
			RealizedPnLUSD: m.RealizedPnLUSD,
			VolumeUSD:      m.VolumeUSD,
			MarketCount:    m.MarketCount,
			LastTradeTS:    m.LastTradeTS,
		}
		if err := a.store.UpsertTrackedWallet(ctx, wallet); err != nil {
			return "", err
		}
	}

	entry := &storage.AnalysisCache{
		Address:        job.Address,
		Result:         verdict,
		TradeCount:     m.TradeCount,
		MarketCount:    m.MarketCount,
		WinRate:        m.WinRate,
		RealizedPnLUSD: m.RealizedPnLUSD,
		VolumeUSD:      m.VolumeUSD,
		DailyFrequency: m.DailyFrequency,
		LastTradeTS:    m.LastTradeTS,
	}
	if err := a.store.CacheAnalysis(ctx, entry, a.cfg.AnalysisCacheTTL); err != nil {
		log.WithError(err).Warn("Failed to cache analysis verdict")
	}

	return verdict, nil
}

// repairTrackedWallet re-creates a missing TrackedWallet row for a wallet
// whose cached verdict says accepted. Covers the case where the registry
// was trimmed but the cache still holds the verdict.
func (a *Analyzer) repairTrackedWallet(ctx context.Context, job *storage.AnalysisJob, cached *storage.AnalysisCache) error {
	existing, err := a.store.GetTrackedWallet(ctx, job.Address)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return a.store.UpsertTrackedWallet(ctx, &storage.TrackedWallet{
		Address:        job.Address,
		Display:        job.Display,
		Source:         job.Source,
		WinRate:        cached.WinRate,
		RealizedPnLUSD: cached.RealizedPnLUSD,
		VolumeUSD:      cached.VolumeUSD,
		MarketCount:    cached.MarketCount,
		LastTradeTS:    cached.LastTradeTS,
	})
}

// handleError routes an upstream failure to retry or terminal failure
// and returns the outcome label.
func (a *Analyzer) handleError(ctx context.Context, log *logrus.Entry, job *storage.AnalysisJob, err error) string {
	retryable, retryAfter, _ := dataapi.Classify(err)

	if !retryable || job.RetryCount >= job.MaxRetries {
		log.WithError(err).WithField("retries", job.RetryCount).Warn("Job failed terminally")
		if ferr := a.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			log.WithError(ferr).Error("Failed to mark job failed")
		}
		return "failed"
	}

	delay := a.retryDelay(job.RetryCount, retryAfter)
	log.WithError(err).WithFields(logrus.Fields{
		"retry": job.RetryCount + 1,
		"delay": delay.String(),
	}).Info("Scheduling job retry")
	if rerr := a.store.RetryJob(ctx, job.ID, time.Now().Add(delay), err.Error()); rerr != nil {
		log.WithError(rerr).Error("Failed to schedule retry")
	}
	return "retried"
}

// retryDelay computes base^attempt seconds plus jitter, floored by any
// server-provided Retry-After and capped.
func (a *Analyzer) retryDelay(attempt int, retryAfter time.Duration) time.Duration {
	delay := time.Duration(math.Pow(a.cfg.RetryBackoffBase, float64(attempt)) * float64(time.Second))
	delay += time.Duration(rand.Float64() * a.cfg.RetryJitter * float64(delay))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}
