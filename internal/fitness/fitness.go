// Package fitness scores build triples for how close they are to a balanced cycle.
//
// The score is a sum of penalty terms with widely separated weights, so that
// range validity dominates cycle validity, which dominates battle length,
// which dominates naming. Lower is better.
package fitness

import (
	"errors"
	"fmt"
	"math"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/combat"
	"github.com/lawnchairsociety/rpsbalance/internal/cycle"
)

// ErrInvalidRange is returned for empty or inverted stat ranges.
var ErrInvalidRange = errors.New("invalid stat range")

// Range is an inclusive numeric interval.
type Range struct {
	Min float64
	Max float64
}

// Validate rejects inverted or non-finite ranges.
func (r Range) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Max < r.Min {
		return fmt.Errorf("%w: [%g, %g]", ErrInvalidRange, r.Min, r.Max)
	}
	return nil
}

// Distance is how far v lies outside the range, zero when inside.
func (r Range) Distance(v float64) float64 {
	return math.Max(0, r.Min-v) + math.Max(0, v-r.Max)
}

// StatRanges holds the valid interval for each stat.
type StatRanges struct {
	Atk     Range
	Defense Range
	Revenge Range
	HP      Range
	Spd     Range
}

// DefaultStatRanges returns the ranges used when none are configured.
func DefaultStatRanges() StatRanges {
	return StatRanges{
		Atk:     Range{Min: 1, Max: 10},
		Defense: Range{Min: 1, Max: 10},
		Revenge: Range{Min: -1, Max: 1},
		HP:      Range{Min: 5, Max: 25},
		Spd:     Range{Min: 0, Max: 10},
	}
}

// Validate checks every range.
func (s StatRanges) Validate() error {
	named := []struct {
		name string
		r    Range
	}{
		{"atk", s.Atk}, {"defense", s.Defense}, {"revenge", s.Revenge}, {"hp", s.HP}, {"spd", s.Spd},
	}
	for _, n := range named {
		if err := n.r.Validate(); err != nil {
			return fmt.Errorf("%s: %w", n.name, err)
		}
	}
	return nil
}

// Weights are the multipliers of each penalty term.
type Weights struct {
	OutOfRange       float64
	Cycle            float64
	Rounds           float64
	UndershootFactor float64 // Extra multiplier for battles shorter than the window
	Ordering         float64
}

// DefaultWeights returns the weights used when none are configured.
func DefaultWeights() Weights {
	return Weights{
		OutOfRange:       10000,
		Cycle:            100,
		Rounds:           10,
		UndershootFactor: 5,
		Ordering:         1000,
	}
}

// Breakdown is the score split into its terms.
type Breakdown struct {
	Range    float64
	Cycle    float64
	Rounds   float64
	Ordering float64
	Report   cycle.Report
}

// Total is the fitness score.
func (b Breakdown) Total() float64 {
	return b.Range + b.Cycle + b.Rounds + b.Ordering
}

// Evaluator computes fitness scores. It holds no mutable state, so one
// evaluator may be shared by any number of goroutines as long as its
// validator's resolver carries no shared random source.
type Evaluator struct {
	Validator *cycle.Validator
	Ranges    StatRanges
	Weights   Weights
	// HasSpeed adds the spd range to the range penalty.
	HasSpeed bool
}

// NewEvaluator creates an evaluator with default ranges and weights.
func NewEvaluator(validator *cycle.Validator) *Evaluator {
	if validator == nil {
		validator = cycle.NewValidator(nil, cycle.Window{Min: 3, Max: 10})
	}
	return &Evaluator{
		Validator: validator,
		Ranges:    DefaultStatRanges(),
		Weights:   DefaultWeights(),
	}
}

// WithRand returns a copy of the evaluator for use by a single goroutine,
// with speed ties broken by rng.
func (e *Evaluator) WithRand(rng combat.Rand) *Evaluator {
	c := *e
	c.Validator = e.Validator.WithRand(rng)
	return &c
}

// Evaluate scores the triple with the default configuration.
func Evaluate(o, b, t archetype.Build) float64 {
	return NewEvaluator(nil).Evaluate(o, b, t)
}

// Evaluate returns the fitness score of the triple. Lower is better.
func (e *Evaluator) Evaluate(o, b, t archetype.Build) float64 {
	return e.Breakdown(o, b, t).Total()
}

// Breakdown computes every penalty term. All terms are evaluated
// unconditionally so the landscape stays continuous for minimizers.
func (e *Evaluator) Breakdown(o, b, t archetype.Build) Breakdown {
	var bd Breakdown
	for _, build := range []archetype.Build{o, b, t} {
		bd.Range += e.rangePenalty(build)
	}

	bd.Report = e.Validator.Validate(o, b, t)
	if !bd.Report.Directed {
		bd.Cycle = e.Weights.Cycle
	}

	w := e.Validator.Window
	for _, rounds := range bd.Report.Rounds {
		switch {
		case rounds < w.Min:
			bd.Rounds += e.Weights.UndershootFactor * e.Weights.Rounds * float64(w.Min-rounds)
		case rounds > w.Max:
			bd.Rounds += e.Weights.Rounds * float64(rounds-w.Max)
		}
	}

	if !archetype.OrderingHolds(o, b, t) {
		bd.Ordering = e.Weights.Ordering
	}
	return bd
}

func (e *Evaluator) rangePenalty(b archetype.Build) float64 {
	d := e.Ranges.Atk.Distance(b.Atk) +
		e.Ranges.Defense.Distance(b.Defense) +
		e.Ranges.Revenge.Distance(b.Revenge) +
		e.Ranges.HP.Distance(float64(b.HP))
	if e.HasSpeed {
		d += e.Ranges.Spd.Distance(b.Spd)
	}
	return e.Weights.OutOfRange * d
}
