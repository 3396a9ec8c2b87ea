package simulator

import (
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/shopspring/decimal"
)

type State int32

const (
	Idle State = iota
	Running
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// SymbolStats aggregates the logged fills of one symbol.
type SymbolStats struct {
	Fills    int
	Volume   int64
	Notional int64
}

// VWAP in ticks, zero before the first fill.
func (s SymbolStats) VWAP() decimal.Decimal {
	if s.Volume == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(s.Notional).Div(decimal.NewFromInt(s.Volume))
}

func (s *SymbolStats) add(f matching.Fill) {
	s.Fills++
	s.Volume += f.Qty
	s.Notional += f.Notional()
}

// Report summarises a finished run.
type Report struct {
	RunID      string
	State      State
	Events     int
	Fills      int
	Rejected   int
	Cancelled  int
	Unreleased int
	Symbols    map[string]SymbolStats
	Err        error
}
