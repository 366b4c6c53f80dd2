package priority

import (
	"math"
	"testing"
)

func TestScoreExample(t *testing.T) {
	got := Score(5, 0, 0, 0, 0, 10)
	want := 10 - 1.0/((0+1)*(5+1_000_000)*1)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("Score() = %.12f, want %.12f", got, want)
	}
	if math.Abs(got-9.9999990) > 1e-6 {
		t.Fatalf("Score() = %.12f, expected about 9.9999990", got)
	}
}

func TestScoreRange(t *testing.T) {
	for _, class := range []Class{ClassNewSubmission, ClassInteractiveRejudge, ClassBackgroundRejudge} {
		for _, pending := range []int{0, 1, 10, 1000} {
			for _, occ := range []float64{0, 10, 1e6} {
				s := Score(42, pending, occ, 5, 2, class)
				if s < float64(class)-1 || s >= float64(class) {
					t.Errorf("Score(class=%d, pending=%d, occ=%v) = %v out of range", class, pending, occ, s)
				}
			}
		}
	}
}

func TestScoreMonotonicPending(t *testing.T) {
	prev := math.Inf(-1)
	for pending := 0; pending < 50; pending++ {
		s := Score(1000, pending, 30, 10, 5, ClassNewSubmission)
		if s < prev {
			t.Fatalf("score decreased at pending=%d: %v < %v", pending, s, prev)
		}
		prev = s
	}
}

func TestScoreMonotonicOccupied(t *testing.T) {
	prev := math.Inf(-1)
	for occ := 0.0; occ < 100; occ += 0.5 {
		s := Score(1000, 3, occ, 20, 7, ClassNewSubmission)
		if s < prev {
			t.Fatalf("score decreased at occupied=%v: %v < %v", occ, s, prev)
		}
		prev = s
	}
}

func TestScoreNoVariance(t *testing.T) {
	base := Score(7, 2, 0, 0, 0, ClassInteractiveRejudge)
	for _, occ := range []float64{0, 1, 1e9, math.Inf(1)} {
		if s := Score(7, 2, occ, 0, 0, ClassInteractiveRejudge); s != base {
			t.Errorf("stddev=0 penalized occupied=%v: %v != %v", occ, s, base)
		}
	}
}

func TestScoreClassOrdering(t *testing.T) {
	worst := Score(1<<40, 1<<20, 1e9, 0, 1, ClassNewSubmission)
	best := Score(0, 0, 0, 0, 0, ClassInteractiveRejudge)
	if worst >= best {
		t.Fatalf("class ordering violated: %v >= %v", worst, best)
	}
}

func TestOccupiedPenalty(t *testing.T) {
	tests := []struct {
		occ, mean, std float64
		want           float64
	}{
		{0, 0, 0, 1},
		{10, 10, 1, 1},          // k = 0
		{11, 10, 1, 1},          // k = 1
		{13, 10, 1, maxPenalty}, // k = 3
		{100, 10, 1, maxPenalty},
		{12, 10, 1, (4.0-1)/(9-1)*99 + 1}, // k = 2
		{5, 10, math.NaN(), 1},
	}
	for _, tc := range tests {
		if got := occupiedPenalty(tc.occ, tc.mean, tc.std); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("occupiedPenalty(%v, %v, %v) = %v, want %v", tc.occ, tc.mean, tc.std, got, tc.want)
		}
	}
}

func TestMeanStddev(t *testing.T) {
	m, s := MeanStddev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if m != 5 || s != 2 {
		t.Fatalf("MeanStddev() = %v, %v, want 5, 2", m, s)
	}
	m, s = MeanStddev(nil)
	if m != 0 || s != 0 {
		t.Fatalf("MeanStddev(nil) = %v, %v", m, s)
	}
}
