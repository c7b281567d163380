package analyzer

import (
	"context"
	"time"

	"github.com/polysignal/consensuswatch/internal/polymarket/dataapi"
	"github.com/sirupsen/logrus"
)

// Analysis verdicts. Every exit from the cascade carries one of these,
// never a bare boolean.
const (
	ResultAccepted      = "accepted"
	ResultLowTrades     = "rejected_low_trades"
	ResultNoStats       = "rejected_no_stats"
	ResultInactive      = "rejected_inactive"
	ResultHighFrequency = "rejected_high_frequency"
	ResultLowMarkets    = "rejected_low_markets"
	ResultLowVolume     = "rejected_low_volume"
	ResultLowROI        = "rejected_low_roi"
	ResultLowAvgPnL     = "rejected_low_avg_pnl"
	ResultLowAvgStake   = "rejected_low_avg_stake"
	ResultLowWinRate    = "rejected_low_winrate"
	ResultAPIError      = "rejected_api_error"
)

// WalletMetrics summarizes a wallet's closed-position history
type WalletMetrics struct {
	TradeCount     int
	MarketCount    int
	WinRate        float64
	RealizedPnLUSD float64
	VolumeUSD      float64
	ROI            float64
	AvgPnLUSD      float64
	AvgStakeUSD    float64
	DailyFrequency float64
	LastTradeTS    int64
}

// evaluate runs the quality-filter cascade for one address. It stops at
// the first failing check, so cheap signals gate expensive fetches.
func (a *Analyzer) evaluate(ctx context.Context, log *logrus.Entry, address string) (string, WalletMetrics, error) {
	var m WalletMetrics

	tradeCount, err := a.data.TradeCount(ctx, address)
	if err != nil {
		return "", m, err
	}
	m.TradeCount = tradeCount
	if tradeCount < a.cfg.MinTrades {
		return ResultLowTrades, m, nil
	}

	lookback := time.Duration(a.cfg.LookbackDays) * 24 * time.Hour
	positions, err := a.data.ClosedPositions(ctx, address, lookback, a.cfg.MaxPositions)
	if err != nil {
		return "", m, err
	}
	if len(positions) == 0 {
		return ResultNoStats, m, nil
	}

	m = computeMetrics(tradeCount, positions)

	lastTrade, err := a.data.LastTradeTimestamp(ctx, address)
	if err != nil {
		return "", m, err
	}
	m.LastTradeTS = lastTrade
	if lastTrade > 0 {
		idle := time.Since(time.Unix(lastTrade, 0))
		if idle > time.Duration(a.cfg.InactivityDays)*24*time.Hour {
			return ResultInactive, m, nil
		}
	}

	switch {
	case m.DailyFrequency > a.cfg.MaxDailyFrequency:
		return ResultHighFrequency, m, nil
	case m.MarketCount < a.cfg.MinMarkets:
		return ResultLowMarkets, m, nil
	case m.VolumeUSD < a.cfg.MinVolumeUSD:
		return ResultLowVolume, m, nil
	case m.ROI < a.cfg.MinROI:
		return ResultLowROI, m, nil
	case m.AvgPnLUSD < a.cfg.MinAvgPnLUSD:
		return ResultLowAvgPnL, m, nil
	case m.AvgStakeUSD < a.cfg.MinAvgStakeUSD:
		return ResultLowAvgStake, m, nil
	case m.WinRate < a.cfg.MinWinRate:
		return ResultLowWinRate, m, nil
	}

	log.WithFields(logrus.Fields{
		"win_rate":   m.WinRate,
		"pnl_usd":    m.RealizedPnLUSD,
		"volume_usd": m.VolumeUSD,
		"markets":    m.MarketCount,
	}).Debug("Wallet passed quality filter")
	return ResultAccepted, m, nil
}

// computeMetrics derives the quality signals from closed positions.
// Volume and stake come from size*entry, never from PnL.
func computeMetrics(tradeCount int, positions []dataapi.Position) WalletMetrics {
	m := WalletMetrics{TradeCount: tradeCount}

	markets := make(map[string]struct{}, len(positions))
	var wins int
	var oldest, newest int64
	for _, p := range positions {
		markets[p.ConditionID] = struct{}{}
		m.RealizedPnLUSD += p.RealizedPnL
		m.VolumeUSD += p.StakeUSD()
		if p.RealizedPnL > 0 {
			wins++
		}
		if p.ClosedTS > 0 {
			if oldest == 0 || p.ClosedTS < oldest {
				oldest = p.ClosedTS
			}
			if p.ClosedTS > newest {
				newest = p.ClosedTS
			}
		}
	}

	m.MarketCount = len(markets)
	m.WinRate = float64(wins) / float64(len(positions))
	m.AvgStakeUSD = m.VolumeUSD / float64(len(positions))
	if m.VolumeUSD > 0 {
		m.ROI = m.RealizedPnLUSD / m.VolumeUSD
	}
	if m.MarketCount > 0 {
		m.AvgPnLUSD = m.RealizedPnLUSD / float64(m.MarketCount)
	}

	// frequency over the observed activity span, floored at one day
	spanDays := float64(newest-oldest) / 86400
	if spanDays < 1 {
		spanDays = 1
	}
	m.DailyFrequency = float64(tradeCount) / spanDays

	return m
}
