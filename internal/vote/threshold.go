package vote

import (
	"fmt"
	"math/bits"

	"sunshine.org/internal/dao"
)

// Percent is a ratio in parts per million.
type Percent uint32

// PercentScale is 100%.
const PercentScale Percent = 1_000_000

// Pct converts a whole percentage.
func Pct(p uint32) Percent { return Percent(p) * (PercentScale / 100) }

func (p Percent) String() string {
	return fmt.Sprintf("%d.%04d%%", p/10_000, p%10_000)
}

type ThresholdKind string

const (
	KindSignal    ThresholdKind = "signal"
	KindPercent   ThresholdKind = "percent"
	KindUnanimous ThresholdKind = "unanimous"
)

// Threshold is the approval condition of a vote. It never changes after the
// vote opens.
type Threshold struct {
	Kind       ThresholdKind `json:"kind"`
	MinSupport dao.Shares    `json:"min_support,omitempty"`
	MinTurnout dao.Shares    `json:"min_turnout,omitempty"` // 0: no turnout requirement
	SupportPct Percent       `json:"support_pct,omitempty"`
	TurnoutPct Percent       `json:"turnout_pct,omitempty"`
}

func SignalThreshold(support, turnout dao.Shares) Threshold {
	return Threshold{Kind: KindSignal, MinSupport: support, MinTurnout: turnout}
}

func PercentThreshold(support, turnout Percent) Threshold {
	return Threshold{Kind: KindPercent, SupportPct: support, TurnoutPct: turnout}
}

func UnanimousThreshold() Threshold {
	return Threshold{Kind: KindUnanimous}
}

// Validate checks the threshold before a vote opens.
func (t Threshold) Validate() error {
	switch t.Kind {
	case KindSignal:
		if t.MinSupport == 0 {
			return fmt.Errorf("%w: signal support must be > 0", ErrInvalidThreshold)
		}
	case KindPercent:
		for _, p := range []Percent{t.SupportPct, t.TurnoutPct} {
			if p == 0 || p >= PercentScale {
				return fmt.Errorf("%w: %s", ErrPercentThresholdBounds, p)
			}
		}
	case KindUnanimous:
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidThreshold, t.Kind)
	}
	return nil
}

// atLeast reports share·PercentScale ≥ pct·electorate without overflow.
func atLeast(share dao.Shares, pct Percent, electorate dao.Shares) bool {
	lh, ll := bits.Mul64(uint64(share), uint64(PercentScale))
	rh, rl := bits.Mul64(uint64(pct), uint64(electorate))
	if lh != rh {
		return lh > rh
	}
	return ll >= rl
}

// evaluate applies a Signal or Percent threshold to a tally. These kinds
// only ever approve: ballots can be switched and the electorate can grow
// while the vote is open, so a failing tally stays open until expiry.
func (t Threshold) evaluate(tl Tally, electorate dao.Shares) Outcome {
	switch t.Kind {
	case KindSignal:
		if tl.Support >= t.MinSupport && (t.MinTurnout == 0 || tl.Turnout >= t.MinTurnout) {
			return Approved
		}
	case KindPercent:
		if atLeast(tl.Support, t.SupportPct, electorate) && atLeast(tl.Turnout, t.TurnoutPct, electorate) {
			return Approved
		}
	}
	return Open
}
