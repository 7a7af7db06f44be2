package evolve

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"
)

func sphere(x []float64) (float64, error) {
	var s float64
	for _, v := range x {
		s += (v - 1) * (v - 1)
	}
	return s, nil
}

func boxBounds(dims int, lo, hi float64) []Bound {
	b := make([]Bound, dims)
	for i := range b {
		b[i] = Bound{Lo: lo, Hi: hi}
	}
	return b
}

func TestDEMinimizesSphere(t *testing.T) {
	d := NewDE(7)
	d.MaxGenerations = 300
	d.Workers = 4

	sol, err := d.Minimize(context.Background(), Problem{Objective: sphere, Bounds: boxBounds(3, -5, 5)}, nil)
	if err != nil {
		t.Fatalf("Minimize() error = %v", err)
	}
	if sol.F > 1e-3 {
		t.Errorf("best score = %v, want < 1e-3 (x=%v, reason %s)", sol.F, sol.X, sol.Reason)
	}
	for i, v := range sol.X {
		if v < -5 || v > 5 {
			t.Errorf("x[%d] = %v outside bounds", i, v)
		}
	}
}

func TestDEDeterministicForSeed(t *testing.T) {
	run := func(workers int) Solution {
		d := NewDE(42)
		d.MaxGenerations = 20
		d.Workers = workers
		sol, err := d.Minimize(context.Background(), Problem{Objective: sphere, Bounds: boxBounds(4, -3, 3)}, nil)
		if err != nil {
			t.Fatalf("Minimize() error = %v", err)
		}
		return sol
	}

	a, b := run(1), run(8)
	if a.F != b.F {
		t.Errorf("scores differ across worker counts: %v vs %v", a.F, b.F)
	}
	for i := range a.X {
		if a.X[i] != b.X[i] {
			t.Errorf("x[%d] differs: %v vs %v", i, a.X[i], b.X[i])
		}
	}
}

func TestDEZeroGenerationsEvaluatesInitOnly(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	seed := []float64{1, 1}
	init := PerturbedPopulation(seed, 10, 0.1, rng)

	d := NewDE(1)
	d.MaxGenerations = 0
	sol, err := d.Minimize(context.Background(), Problem{Objective: sphere, Bounds: boxBounds(2, -5, 5), Init: init}, nil)
	if err != nil {
		t.Fatalf("Minimize() error = %v", err)
	}
	if sol.Generations != 0 {
		t.Errorf("generations = %d, want 0", sol.Generations)
	}
	if sol.Evaluations != 10 {
		t.Errorf("evaluations = %d, want 10", sol.Evaluations)
	}
	if sol.F != 0 || sol.X[0] != 1 || sol.X[1] != 1 {
		t.Errorf("best = %v (%v), want the seed with score 0", sol.X, sol.F)
	}
}

func TestDEObserverStops(t *testing.T) {
	d := NewDE(3)
	d.MaxGenerations = 100

	var calls int
	sol, err := d.Minimize(context.Background(), Problem{Objective: sphere, Bounds: boxBounds(2, -5, 5)},
		func(g Generation) bool {
			calls++
			if g.Index != calls {
				t.Errorf("generation index = %d, want %d", g.Index, calls)
			}
			return g.Index < 3
		})
	if err != nil {
		t.Fatalf("Minimize() error = %v", err)
	}
	if sol.Reason != StopObserver {
		t.Errorf("reason = %s, want %s", sol.Reason, StopObserver)
	}
	if sol.Generations != 3 || calls != 3 {
		t.Errorf("generations = %d, observer calls = %d, want 3 and 3", sol.Generations, calls)
	}
}

func TestDECancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDE(3)
	sol, err := d.Minimize(ctx, Problem{Objective: sphere, Bounds: boxBounds(2, -5, 5)}, nil)
	if err != nil {
		t.Fatalf("Minimize() error = %v", err)
	}
	if sol.Reason != StopCancelled {
		t.Errorf("reason = %s, want %s", sol.Reason, StopCancelled)
	}
	if sol.X == nil {
		t.Error("cancelled run must still report the best initial member")
	}
}

func TestDEEvaluationBudget(t *testing.T) {
	d := NewDE(5)
	d.PopSize = 5
	d.MaxEvaluations = 35 // initial 10 plus two generations of 10

	sol, err := d.Minimize(context.Background(), Problem{Objective: sphere, Bounds: boxBounds(2, -5, 5)}, nil)
	if err != nil {
		t.Fatalf("Minimize() error = %v", err)
	}
	if sol.Reason != StopEvaluationBudget {
		t.Errorf("reason = %s, want %s", sol.Reason, StopEvaluationBudget)
	}
	if sol.Evaluations > 35 {
		t.Errorf("evaluations = %d, want <= 35", sol.Evaluations)
	}
}

func TestDEPolishStaysWithinBudget(t *testing.T) {
	tests := []struct {
		name     string
		maxEvals int
		polished bool
	}{
		{"room to polish", 60, true},
		{"no room left", 30, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDE(13)
			d.PopSize = 5
			d.MaxGenerations = 2
			d.Polish = true
			d.MaxEvaluations = tt.maxEvals // initial 10 plus two generations of 10

			sol, err := d.Minimize(context.Background(), Problem{Objective: sphere, Bounds: boxBounds(2, -5, 5)}, nil)
			if err != nil {
				t.Fatalf("Minimize() error = %v", err)
			}
			if sol.Evaluations > tt.maxEvals {
				t.Errorf("evaluations = %d, want <= %d", sol.Evaluations, tt.maxEvals)
			}
			if !tt.polished && sol.Polished {
				t.Error("polish ran without any budget left")
			}
			if tt.polished && sol.Evaluations <= 30 {
				t.Errorf("evaluations = %d, polish should have used the remaining budget", sol.Evaluations)
			}
		})
	}
}

func TestDEInitialPopulationIgnoresCeiling(t *testing.T) {
	d := NewDE(3)
	d.PopSize = 15
	d.MaxEvaluations = 10

	sol, err := d.Minimize(context.Background(), Problem{Objective: sphere, Bounds: boxBounds(2, -5, 5)}, nil)
	if err != nil {
		t.Fatalf("Minimize() error = %v", err)
	}
	if sol.Evaluations != 30 || sol.Generations != 0 {
		t.Errorf("evaluations = %d, generations = %d; want only the initial 30", sol.Evaluations, sol.Generations)
	}
	if sol.Reason != StopEvaluationBudget {
		t.Errorf("reason = %s, want %s", sol.Reason, StopEvaluationBudget)
	}
}

func TestDECountsFailures(t *testing.T) {
	var calls atomic.Int64
	obj := func(x []float64) (float64, error) {
		n := calls.Add(1)
		switch n % 7 {
		case 0:
			return 0, errors.New("boom")
		case 3:
			panic("objective panic")
		}
		return sphere(x)
	}

	d := NewDE(9)
	d.MaxGenerations = 5
	sol, err := d.Minimize(context.Background(), Problem{Objective: obj, Bounds: boxBounds(2, -5, 5)}, nil)
	if err != nil {
		t.Fatalf("Minimize() error = %v", err)
	}
	if sol.Failures == 0 {
		t.Error("expected failures to be counted")
	}
	if math.IsInf(sol.F, 1) {
		t.Error("best score should come from a successful evaluation")
	}
	if int64(sol.Evaluations) != calls.Load() {
		t.Errorf("evaluations = %d, objective calls = %d", sol.Evaluations, calls.Load())
	}
}

func TestDEPolishNeverWorsens(t *testing.T) {
	d := NewDE(11)
	d.MaxGenerations = 5
	d.Polish = true

	sol, err := d.Minimize(context.Background(), Problem{Objective: sphere, Bounds: boxBounds(3, -5, 5)}, nil)
	if err != nil {
		t.Fatalf("Minimize() error = %v", err)
	}

	plain := NewDE(11)
	plain.MaxGenerations = 5
	base, err := plain.Minimize(context.Background(), Problem{Objective: sphere, Bounds: boxBounds(3, -5, 5)}, nil)
	if err != nil {
		t.Fatalf("Minimize() error = %v", err)
	}
	if sol.F > base.F {
		t.Errorf("polished score %v worse than unpolished %v", sol.F, base.F)
	}
}

func TestProblemValidate(t *testing.T) {
	tests := []struct {
		name string
		p    Problem
	}{
		{"nil objective", Problem{Bounds: boxBounds(2, 0, 1)}},
		{"no dims", Problem{Objective: sphere}},
		{"inverted", Problem{Objective: sphere, Bounds: []Bound{{Lo: 2, Hi: 1}}}},
		{"small init", Problem{Objective: sphere, Bounds: boxBounds(1, 0, 1), Init: [][]float64{{0}, {1}}}},
		{"ragged init", Problem{Objective: sphere, Bounds: boxBounds(2, 0, 1), Init: [][]float64{{0, 0}, {1}, {0, 1}, {1, 1}, {1, 0}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(); !errors.Is(err, ErrInvalidProblem) {
				t.Errorf("Validate() = %v, want ErrInvalidProblem", err)
			}
		})
	}
}

func TestLatinHypercubeStratified(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	bounds := []Bound{{Lo: 0, Hi: 10}, {Lo: -1, Hi: 1}}
	pop := LatinHypercube(bounds, 10, rng)

	for j, b := range bounds {
		seen := make([]bool, 10)
		for _, m := range pop {
			cell := int((m[j] - b.Lo) / (b.Hi - b.Lo) * 10)
			if cell < 0 || cell >= 10 || seen[cell] {
				t.Fatalf("dimension %d: value %v in bad or repeated stratum %d", j, m[j], cell)
			}
			seen[cell] = true
		}
	}
}

func TestPickTwoDistinct(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 8))
	for i := 0; i < 1000; i++ {
		n := 3 + i%5
		ex := i % n
		a, b := pickTwo(n, ex, rng)
		if a == b || a == ex || b == ex || a < 0 || b < 0 || a >= n || b >= n {
			t.Fatalf("pickTwo(%d, %d) = %d, %d", n, ex, a, b)
		}
	}
}
