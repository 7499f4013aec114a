package metric

// Tier buckets an engagement rate against industry benchmarks.
type Tier string

const (
	TierExcellent Tier = "excellent" // >= 3.5%
	TierGood      Tier = "good"      // >= 2.5%
	TierAverage   Tier = "average"   // >= 1.5%
	TierPoor      Tier = "poor"
)

// BenchmarkRate is the industry average engagement rate used as reference.
const BenchmarkRate = 0.025

// TierFor classifies an engagement rate given as a fraction (0.035 = 3.5%).
func TierFor(rate float64) Tier {
	switch {
	case rate >= 0.035:
		return TierExcellent
	case rate >= 0.025:
		return TierGood
	case rate >= 0.015:
		return TierAverage
	default:
		return TierPoor
	}
}

// Tier classifies the snapshot's engagement rate.
func (s Snapshot) Tier() Tier {
	return TierFor(s.EngagementRate())
}

// Comparison is the outcome of an A/B comparison between two snapshots.
type Comparison struct {
	WinnerID string  `json:"winner_id"` // empty when tied
	RateA    float64 `json:"rate_a"`
	RateB    float64 `json:"rate_b"`
	// Lift is the winner's relative improvement over the loser's rate; 0 if
	// the loser has no engagement.
	Lift float64 `json:"lift"`
}

// Compare picks the snapshot with the higher engagement rate; impressions
// break ties.
func Compare(a, b Snapshot) Comparison {
	c := Comparison{RateA: a.EngagementRate(), RateB: b.EngagementRate()}
	winner := a
	rw, rl := c.RateA, c.RateB
	switch {
	case c.RateA > c.RateB:
	case c.RateB > c.RateA:
		winner, rw, rl = b, c.RateB, c.RateA
	case a.Impressions > b.Impressions:
	case b.Impressions > a.Impressions:
		winner, rw, rl = b, c.RateB, c.RateA
	default:
		return c
	}
	c.WinnerID = winner.NodeID
	if rl > 0 {
		c.Lift = (rw - rl) / rl
	}
	return c
}
