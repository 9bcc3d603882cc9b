// Package report builds the periodic status snapshot and the statistics over
// journaled trades.
package report

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one realized close as read back from the journal.
type Trade struct {
	Time        time.Time       `json:"time"`
	EntryTime   time.Time       `json:"entry_time"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Strategy    string          `json:"strategy"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Fee         decimal.Decimal `json:"fee"`
	Reason      string          `json:"reason"`
	Partial     bool            `json:"partial"`
}

// StrategyStats summarises the trades of one strategy tag.
type StrategyStats struct {
	Trades   int             `json:"trades"`
	Wins     int             `json:"wins"`
	WinRate  float64         `json:"win_rate"`
	TotalPnL decimal.Decimal `json:"total_pnl"`
}

// Report holds the result of analysing a trade list.
type Report struct {
	StartDate                          time.Time                `json:"start_date"`
	EndDate                            time.Time                `json:"end_date"`
	TotalTrades                        int                      `json:"total_trades"`
	PartialCloses                      int                      `json:"partial_closes"`
	WinningTrades                      int                      `json:"winning_trades"`
	LosingTrades                       int                      `json:"losing_trades"`
	WinRate                            float64                  `json:"win_rate"`
	LongWinningTrades                  int                      `json:"long_winning_trades"`
	LongLosingTrades                   int                      `json:"long_losing_trades"`
	LongWinRate                        float64                  `json:"long_win_rate"`
	ShortWinningTrades                 int                      `json:"short_winning_trades"`
	ShortLosingTrades                  int                      `json:"short_losing_trades"`
	ShortWinRate                       float64                  `json:"short_win_rate"`
	TotalPnL                           decimal.Decimal          `json:"total_pnl"`
	TotalFees                          decimal.Decimal          `json:"total_fees"`
	AverageProfit                      decimal.Decimal          `json:"average_profit"`
	AverageLoss                        decimal.Decimal          `json:"average_loss"`
	RiskRewardRatio                    float64                  `json:"risk_reward_ratio"`
	ProfitFactor                       float64                  `json:"profit_factor"`
	MaxDrawdown                        decimal.Decimal          `json:"max_drawdown"`
	RecoveryFactor                     float64                  `json:"recovery_factor"`
	SharpeRatio                        float64                  `json:"sharpe_ratio"`
	SortinoRatio                       float64                  `json:"sortino_ratio"`
	MaxConsecutiveWins                 int                      `json:"max_consecutive_wins"`
	MaxConsecutiveLosses               int                      `json:"max_consecutive_losses"`
	AverageHoldingPeriodSeconds        float64                  `json:"average_holding_period_seconds"`
	AverageWinningHoldingPeriodSeconds float64                  `json:"average_winning_holding_period_seconds"`
	AverageLosingHoldingPeriodSeconds  float64                  `json:"average_losing_holding_period_seconds"`
	ByStrategy                         map[string]StrategyStats `json:"by_strategy"`
	ExitReasons                        map[string]int           `json:"exit_reasons"`
}

// ErrNoTrades is returned when there is nothing to analyze.
var ErrNoTrades = errors.New("no trades to analyze")

// AnalyzeTrades computes statistics over trades. Trades are processed in time order.
func AnalyzeTrades(trades []Trade) (Report, error) {
	if len(trades) == 0 {
		return Report{}, ErrNoTrades
	}
	sorted := append([]Trade(nil), trades...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	r := Report{
		StartDate:   sorted[0].Time,
		EndDate:     sorted[len(sorted)-1].Time,
		TotalTrades: len(sorted),
		ByStrategy:  make(map[string]StrategyStats),
		ExitReasons: make(map[string]int),
	}

	var totalProfit, totalLoss decimal.Decimal
	var pnlHistory []float64
	var holdingPeriods, winningHoldingPeriods, losingHoldingPeriods []float64
	var consecutiveWins, consecutiveLosses int

	equity, peak := decimal.Zero, decimal.Zero
	for _, t := range sorted {
		pnl := t.RealizedPnL
		r.TotalPnL = r.TotalPnL.Add(pnl)
		r.TotalFees = r.TotalFees.Add(t.Fee)
		r.ExitReasons[t.Reason]++
		if t.Partial {
			r.PartialCloses++
		}
		pnlHistory = append(pnlHistory, pnl.InexactFloat64())

		holding := 0.0
		if !t.EntryTime.IsZero() {
			holding = t.Time.Sub(t.EntryTime).Seconds()
		}
		holdingPeriods = append(holdingPeriods, holding)

		stats := r.ByStrategy[t.Strategy]
		stats.Trades++
		stats.TotalPnL = stats.TotalPnL.Add(pnl)

		long := t.Side == "LONG"
		switch {
		case pnl.IsPositive():
			r.WinningTrades++
			stats.Wins++
			if long {
				r.LongWinningTrades++
			} else {
				r.ShortWinningTrades++
			}
			totalProfit = totalProfit.Add(pnl)
			winningHoldingPeriods = append(winningHoldingPeriods, holding)
			consecutiveWins++
			consecutiveLosses = 0
			if consecutiveWins > r.MaxConsecutiveWins {
				r.MaxConsecutiveWins = consecutiveWins
			}
		case pnl.IsNegative():
			r.LosingTrades++
			if long {
				r.LongLosingTrades++
			} else {
				r.ShortLosingTrades++
			}
			totalLoss = totalLoss.Add(pnl)
			losingHoldingPeriods = append(losingHoldingPeriods, holding)
			consecutiveLosses++
			consecutiveWins = 0
			if consecutiveLosses > r.MaxConsecutiveLosses {
				r.MaxConsecutiveLosses = consecutiveLosses
			}
		}
		stats.WinRate = percent(stats.Wins, stats.Trades)
		r.ByStrategy[t.Strategy] = stats

		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(r.MaxDrawdown) {
			r.MaxDrawdown = dd
		}
	}

	r.WinRate = percent(r.WinningTrades, r.WinningTrades+r.LosingTrades)
	r.LongWinRate = percent(r.LongWinningTrades, r.LongWinningTrades+r.LongLosingTrades)
	r.ShortWinRate = percent(r.ShortWinningTrades, r.ShortWinningTrades+r.ShortLosingTrades)

	if r.WinningTrades > 0 {
		r.AverageProfit = totalProfit.Div(decimal.NewFromInt(int64(r.WinningTrades)))
	}
	if r.LosingTrades > 0 {
		r.AverageLoss = totalLoss.Div(decimal.NewFromInt(int64(r.LosingTrades)))
	}
	if !r.AverageLoss.IsZero() {
		r.RiskRewardRatio = r.AverageProfit.Div(r.AverageLoss.Abs()).InexactFloat64()
	}
	if totalLoss.IsNegative() {
		r.ProfitFactor = totalProfit.Div(totalLoss.Abs()).InexactFloat64()
	}
	if r.MaxDrawdown.IsPositive() {
		r.RecoveryFactor = r.TotalPnL.Div(r.MaxDrawdown).InexactFloat64()
	}

	r.SharpeRatio = calculateSharpeRatio(pnlHistory, 0.0)
	r.SortinoRatio = calculateSortinoRatio(pnlHistory, 0.0)
	r.AverageHoldingPeriodSeconds = mean(holdingPeriods)
	r.AverageWinningHoldingPeriodSeconds = mean(winningHoldingPeriods)
	r.AverageLosingHoldingPeriodSeconds = mean(losingHoldingPeriods)
	return r, nil
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateStandardDeviation returns the population standard deviation.
func calculateStandardDeviation(returns []float64, mean float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}
	variance := 0.0
	for _, r := range returns {
		variance += math.Pow(r-mean, 2)
	}
	return math.Sqrt(variance / float64(len(returns)))
}

// calculateDownsideDeviation only counts returns below target.
func calculateDownsideDeviation(returns []float64, target float64) float64 {
	downsideVariance := 0.0
	downsideCount := 0
	for _, r := range returns {
		if r < target {
			downsideVariance += math.Pow(r-target, 2)
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return 0.0
	}
	return math.Sqrt(downsideVariance / float64(downsideCount))
}

func calculateSharpeRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}
	m := mean(returns)
	stdDev := calculateStandardDeviation(returns, m)
	if stdDev == 0 {
		return 0.0
	}
	return (m - riskFreeRate) / stdDev
}

func calculateSortinoRatio(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}
	downsideDev := calculateDownsideDeviation(returns, 0)
	if downsideDev == 0 {
		return 0.0
	}
	return (mean(returns) - riskFreeRate) / downsideDev
}
