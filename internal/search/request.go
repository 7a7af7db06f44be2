package search

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/combat"
	"github.com/lawnchairsociety/rpsbalance/internal/evolve"
	"github.com/lawnchairsociety/rpsbalance/internal/fitness"
)

// ErrInvalidConfig is returned by Run, Sample and Optimize before any work
// starts when the request cannot be executed.
var ErrInvalidConfig = errors.New("invalid search configuration")

// Mode selects the search strategy.
type Mode string

const (
	ModeSampling     Mode = "sampling"
	ModeOptimization Mode = "optimization"
)

// ParseMode accepts a mode name as written in configuration files.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSampling, ModeOptimization:
		return Mode(s), nil
	case "sample":
		return ModeSampling, nil
	case "optimize":
		return ModeOptimization, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
}

// Strategy selects how sampling draws candidates.
type Strategy string

const (
	StrategyRandom     Strategy = "random"
	StrategyExhaustive Strategy = "exhaustive"
)

// IntRange is an inclusive integer interval.
type IntRange struct {
	Min int
	Max int
}

// Size is the number of integers in the range.
func (r IntRange) Size() int {
	return r.Max - r.Min + 1
}

// IntRanges holds the sampling range of each stat of one archetype.
type IntRanges struct {
	Atk     IntRange
	Defense IntRange
	Revenge IntRange
	HP      IntRange
	Spd     IntRange
}

func (r IntRanges) list(hasSpeed bool) []IntRange {
	out := []IntRange{r.Atk, r.Defense, r.Revenge, r.HP}
	if hasSpeed {
		out = append(out, r.Spd)
	}
	return out
}

// UniformIntRanges applies the same ranges to all three archetypes.
func UniformIntRanges(r IntRanges) [3]IntRanges {
	return [3]IntRanges{r, r, r}
}

// SamplingConfig configures ModeSampling.
type SamplingConfig struct {
	Strategy Strategy
	// Candidates is the number of triples drawn, or the largest space an
	// exhaustive enumeration may cover.
	Candidates int
	BatchSize  int
	Ranges     [3]IntRanges
}

// OptimizationConfig configures ModeOptimization.
type OptimizationConfig struct {
	Generations int
	PopSize     int
	Tol         float64
	Atol        float64
	// Sigma is the relative standard deviation of the seeded population noise.
	Sigma             float64
	Polish            bool
	PolishEvaluations int
	// Bounds per archetype. A zero value uses the evaluator's stat ranges.
	Bounds *[3]fitness.StatRanges
}

// DefaultSamplingConfig mirrors the small integer ranges used for manual tuning.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Strategy:   StrategyRandom,
		Candidates: 100000,
		BatchSize:  4096,
		Ranges: UniformIntRanges(IntRanges{
			Atk:     IntRange{Min: 1, Max: 10},
			Defense: IntRange{Min: 1, Max: 10},
			Revenge: IntRange{Min: -1, Max: 1},
			HP:      IntRange{Min: 5, Max: 25},
			Spd:     IntRange{Min: 0, Max: 10},
		}),
	}
}

// DefaultOptimizationConfig returns the minimizer settings used when none are configured.
func DefaultOptimizationConfig() OptimizationConfig {
	return OptimizationConfig{
		Generations:       100,
		PopSize:           15,
		Tol:               1e-5,
		Sigma:             0.1,
		PolishEvaluations: 2000,
	}
}

// Progress is reported after each sampling batch or optimization generation.
type Progress struct {
	Mode        Mode
	Step        int // Batch or generation number, starting at 1
	Evaluated   int
	Failures    int
	Discovered  int
	BestScore   float64
	Convergence float64
}

// ProgressFunc receives progress. Returning false stops the search at the
// next batch or generation boundary.
type ProgressFunc func(Progress) bool

// Request is one search invocation.
type Request struct {
	Mode      Mode
	Seed      uint64
	Workers   int
	Evaluator *fitness.Evaluator

	Sampling     SamplingConfig
	Optimization OptimizationConfig
	SeedTriple   *archetype.Triple

	Progress ProgressFunc

	// Safety nets. Zero disables them. Sampling stops exactly at
	// MaxEvaluations; optimization always evaluates its initial population.
	MaxEvaluations int
	TimeLimit      time.Duration

	// Minimizer overrides the differential evolution minimizer.
	Minimizer evolve.Minimizer
}

// NewRequest returns a request with default sampling and optimization settings.
func NewRequest(mode Mode, evaluator *fitness.Evaluator) Request {
	if evaluator == nil {
		evaluator = fitness.NewEvaluator(nil)
	}
	return Request{
		Mode:         mode,
		Evaluator:    evaluator,
		Sampling:     DefaultSamplingConfig(),
		Optimization: DefaultOptimizationConfig(),
	}
}

// Layout is the parameter layout used for this request. Speed dimensions are
// present when the evaluator penalizes speed or battles are speed ordered.
func (r Request) Layout() Layout {
	return Layout{HasSpeed: r.Evaluator.HasSpeed || r.Evaluator.Validator.Resolver.Policy == combat.PolicySpeedOrdered}
}

// Validate reports every reason the request cannot run, wrapped in ErrInvalidConfig.
func (r Request) Validate() error {
	if r.Evaluator == nil || r.Evaluator.Validator == nil || r.Evaluator.Validator.Resolver == nil {
		return fmt.Errorf("%w: no evaluator", ErrInvalidConfig)
	}
	if r.Evaluator.Validator.Resolver.RoundLimit <= 0 {
		return fmt.Errorf("%w: round limit must be positive, got %d", ErrInvalidConfig, r.Evaluator.Validator.Resolver.RoundLimit)
	}
	if err := r.Evaluator.Validator.Window.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := r.Evaluator.Ranges.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if r.MaxEvaluations < 0 || r.TimeLimit < 0 {
		return fmt.Errorf("%w: negative safety limit", ErrInvalidConfig)
	}

	switch r.Mode {
	case ModeSampling:
		return r.validateSampling()
	case ModeOptimization:
		return r.validateOptimization()
	}
	return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, r.Mode)
}

func (r Request) validateSampling() error {
	s := r.Sampling
	if s.Candidates <= 0 {
		return fmt.Errorf("%w: candidate budget must be positive, got %d", ErrInvalidConfig, s.Candidates)
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("%w: negative batch size", ErrInvalidConfig)
	}
	hasSpeed := r.Layout().HasSpeed
	for i, ranges := range s.Ranges {
		for _, ir := range ranges.list(hasSpeed) {
			if ir.Max < ir.Min {
				return fmt.Errorf("%w: %s sampling range [%d, %d] is inverted", ErrInvalidConfig, archetypeOrder[i], ir.Min, ir.Max)
			}
		}
	}
	switch s.Strategy {
	case StrategyRandom:
	case StrategyExhaustive:
		size, ok := spaceSize(r.radices())
		if !ok || size > s.Candidates {
			return fmt.Errorf("%w: exhaustive space exceeds the candidate budget of %d", ErrInvalidConfig, s.Candidates)
		}
	default:
		return fmt.Errorf("%w: unknown sampling strategy %q", ErrInvalidConfig, s.Strategy)
	}
	return nil
}

func (r Request) validateOptimization() error {
	o := r.Optimization
	if o.Generations < 0 {
		return fmt.Errorf("%w: generation budget must not be negative, got %d", ErrInvalidConfig, o.Generations)
	}
	if o.PopSize <= 0 {
		return fmt.Errorf("%w: population multiplier must be positive, got %d", ErrInvalidConfig, o.PopSize)
	}
	if o.Sigma < 0 || math.IsNaN(o.Sigma) {
		return fmt.Errorf("%w: seed noise must not be negative", ErrInvalidConfig)
	}
	if o.Tol < 0 || o.Atol < 0 {
		return fmt.Errorf("%w: tolerances must not be negative", ErrInvalidConfig)
	}
	for i, b := range r.bounds() {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%w: %s bounds: %w", ErrInvalidConfig, archetypeOrder[i], err)
		}
	}
	if r.SeedTriple != nil {
		if err := r.SeedTriple.Validate(); err != nil {
			return fmt.Errorf("%w: seed triple: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

func (r Request) bounds() [3]fitness.StatRanges {
	if r.Optimization.Bounds != nil {
		return *r.Optimization.Bounds
	}
	g := r.Evaluator.Ranges
	return [3]fitness.StatRanges{g, g, g}
}

// radices lists the size of every sampled dimension in layout order.
func (r Request) radices() []IntRange {
	hasSpeed := r.Layout().HasSpeed
	var out []IntRange
	for _, ranges := range r.Sampling.Ranges {
		out = append(out, ranges.list(hasSpeed)...)
	}
	return out
}

// spaceSize multiplies the range sizes, reporting false on overflow.
func spaceSize(ranges []IntRange) (int, bool) {
	size := 1
	for _, r := range ranges {
		n := r.Size()
		if n <= 0 {
			return 0, true
		}
		if size > math.MaxInt/n {
			return 0, false
		}
		size *= n
	}
	return size, true
}
