package backtest

import (
	"time"

	"github.com/coinrich/coinrich/internal/position"
)

// EquityPoint is account equity at one bar close.
type EquityPoint struct {
	At     time.Time `json:"at"`
	Equity float64   `json:"equity"`
}

// RegimeStats breaks performance down by the regime at entry.
type RegimeStats struct {
	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	AvgReturn float64 `json:"avg_return_pct"`
}

// Summary is the aggregate statistics of one run.
type Summary struct {
	Trades          int                    `json:"trades"`
	Wins            int                    `json:"wins"`
	Losses          int                    `json:"losses"`
	WinRate         float64                `json:"win_rate"`
	TotalReturnPct  float64                `json:"total_return_pct"`
	FinalEquity     float64                `json:"final_equity"`
	MaxDrawdownPct  float64                `json:"max_drawdown_pct"`
	ProfitFactor    float64                `json:"profit_factor"`
	AvgWinPct       float64                `json:"avg_win_pct"`
	AvgLossPct      float64                `json:"avg_loss_pct"`
	AvgHoldingMins  float64                `json:"avg_holding_minutes"`
	ExitReasons     map[string]int         `json:"exit_reasons"`
	ByRegime        map[string]RegimeStats `json:"by_regime"`
}

// Result is the full output of a run.
type Result struct {
	Summary Summary                `json:"summary"`
	Trades  []position.TradeRecord `json:"trades"`
	Equity  []EquityPoint          `json:"equity"`
}

// Compute aggregates trade and equity data into a summary.
func Compute(trades []position.TradeRecord, equity []EquityPoint, cfg Config) Summary {
	s := Summary{
		Trades:      len(trades),
		ExitReasons: make(map[string]int),
		ByRegime:    make(map[string]RegimeStats),
		FinalEquity: cfg.InitialCapital,
	}
	if len(equity) > 0 {
		s.FinalEquity = equity[len(equity)-1].Equity
	}
	if cfg.InitialCapital > 0 {
		s.TotalReturnPct = (s.FinalEquity - cfg.InitialCapital) / cfg.InitialCapital * 100.0
	}
	s.MaxDrawdownPct = maxDrawdown(equity)

	var grossWin, grossLoss, holding float64
	for _, t := range trades {
		s.ExitReasons[t.ExitReason]++
		rs := s.ByRegime[t.EntryRegime]
		rs.Trades++
		rs.AvgReturn += t.ReturnPct
		if t.ReturnPct > 0 {
			s.Wins++
			rs.Wins++
			grossWin += t.ReturnPct
		} else {
			s.Losses++
			grossLoss += -t.ReturnPct
		}
		s.ByRegime[t.EntryRegime] = rs
		holding += t.HoldingPeriod().Minutes()
	}

	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100.0
		s.AvgHoldingMins = holding / float64(s.Trades)
	}
	if s.Wins > 0 {
		s.AvgWinPct = grossWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossPct = -grossLoss / float64(s.Losses)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		s.ProfitFactor = grossWin
	}

	for k, rs := range s.ByRegime {
		if rs.Trades > 0 {
			rs.AvgReturn /= float64(rs.Trades)
			s.ByRegime[k] = rs
		}
	}
	return s
}

// maxDrawdown returns the largest peak-to-trough decline in percent.
func maxDrawdown(equity []EquityPoint) float64 {
	var peak, worst float64
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak * 100.0
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
