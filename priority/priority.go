// Package priority computes the queue sort key of a submission.
//
// Lower scores are dequeued first. A score always lies in [class-1, class) so
// that every task of a lower class is served before any task of a higher one,
// while inside a class submitters with more outstanding work, or who recently
// used noticeably more judge time than others, are pushed back.
package priority

import "math"

// Class separates tasks into strictly ordered bands
type Class int

// Priority classes, served in increasing order
const (
	ClassNewSubmission Class = iota + 1
	ClassInteractiveRejudge
	ClassBackgroundRejudge
)

const (
	idBias = 1_000_000

	// z-score range which maps into the [1, maxPenalty] occupied time penalty
	penaltyLow  = 1.0
	penaltyHigh = 3.0
	maxPenalty  = 100.0
)

// Score returns the sort key for a submission.
//
// pending is the number of outstanding submissions of the submitter, occupied
// is the judge time the submitter consumed recently and mean / stddev are the
// same statistic across all recently active submitters.
func Score(id uint64, pending int, occupied, mean, stddev float64, class Class) float64 {
	t1 := float64(pending) + 1
	t2 := float64(id) + idBias
	t3 := occupiedPenalty(occupied, mean, stddev)
	return float64(class) - 1/(t1*t2*t3)
}

func occupiedPenalty(occupied, mean, stddev float64) float64 {
	// a single active user, or no variance at all, is never penalized
	if stddev == 0 || math.IsNaN(stddev) || math.IsInf(stddev, 0) {
		return 1
	}
	k := (occupied - mean) / stddev
	switch {
	case math.IsNaN(k) || math.IsInf(k, 0):
		return 1
	case k <= penaltyLow:
		return 1
	case k >= penaltyHigh:
		return maxPenalty
	}
	return (k*k-penaltyLow*penaltyLow)/(penaltyHigh*penaltyHigh-penaltyLow*penaltyLow)*(maxPenalty-1) + 1
}

// MeanStddev returns the population mean and standard deviation of values.
// It returns zeros for an empty input.
func MeanStddev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
