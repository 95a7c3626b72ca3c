package domain

// FanOut describes how many tuples share each value of a join attribute,
// |R| / V(A, R). In case 4 the side with the smaller fan-out has more
// distinct values and bounds the estimate.
type FanOut string

const (
	// FanOutNone means the attribute has no non-NULL values, so nothing joins.
	FanOutNone       FanOut = "none"
	FanOutNearUnique FanOut = "near_unique"
	FanOutLow        FanOut = "low"
	FanOutHigh       FanOut = "high"
	FanOutVeryHigh   FanOut = "very_high"
)

const (
	nearUniqueFanOut = 2
	lowFanOut        = 10
	highFanOut       = 1000
)

// ClassifyFanOut buckets rows per distinct value. Catalog statistics may
// report more distinct values than rows; that reads as near unique.
func ClassifyFanOut(distinct, rows int64) FanOut {
	if distinct <= 0 || rows <= 0 {
		return FanOutNone
	}

	perValue := float64(rows) / float64(distinct)
	switch {
	case perValue < nearUniqueFanOut:
		return FanOutNearUnique
	case perValue <= lowFanOut:
		return FanOutLow
	case perValue <= highFanOut:
		return FanOutHigh
	default:
		return FanOutVeryHigh
	}
}
