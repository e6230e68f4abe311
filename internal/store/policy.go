package store

import (
	"attribution/internal/types"
	"time"
)

const lowestRank = 8

var mediumRank = map[string]int{
	"paid_search":    1,
	"cpc":            1,
	"lsa":            1,
	"paid_social":    2,
	"display":        3,
	"email":          4,
	"organic_social": 5,
	"social":         5,
	"organic":        6,
	"referral":       7,
	types.MediumNone: lowestRank,
}

// MediumRank returns the priority of a medium, 1 being the strongest.
// Unknown mediums rank with (none).
func MediumRank(medium string) int {
	if r, ok := mediumRank[medium]; ok {
		return r
	}
	return lowestRank
}

// ShouldReplaceLastTouch reports whether candidate may overwrite the
// current last touch. Direct visits always win and equal ranks favour
// the candidate.
func ShouldReplaceLastTouch(candidate types.Touch, current *types.Touch) bool {
	if current == nil {
		return true
	}
	if candidate.IsDirect() {
		return true
	}
	return MediumRank(candidate.Medium) <= MediumRank(current.Medium)
}

// AttributionWindow is how long a touch of the given medium keeps credit.
func AttributionWindow(medium string) time.Duration {
	const day = 24 * time.Hour
	switch medium {
	case "cpc", "paid_search", "lsa":
		return 30 * day
	case "paid_social", "display":
		return 28 * day
	case "social", "organic_social", "organic", "email":
		return 7 * day
	default:
		return day
	}
}

func (s *Store) shouldReplace(candidate types.Touch, current *types.Touch, now time.Time) bool {
	if ShouldReplaceLastTouch(candidate, current) {
		return true
	}
	return s.windows && now.Sub(current.Timestamp) > AttributionWindow(current.Medium)
}
