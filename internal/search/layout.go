package search

import (
	"fmt"
	"math"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/evolve"
	"github.com/lawnchairsociety/rpsbalance/internal/fitness"
)

// archetypeOrder is the fixed build order of every parameter vector.
var archetypeOrder = [3]string{archetype.Offense, archetype.Balanced, archetype.Tank}

// Layout maps build triples to flat parameter vectors and back. Each
// archetype occupies a contiguous block of atk, defense, revenge, hp and,
// when speed is modelled, spd.
type Layout struct {
	HasSpeed bool
}

// StatsPerBuild is the number of dimensions per archetype.
func (l Layout) StatsPerBuild() int {
	if l.HasSpeed {
		return 5
	}
	return 4
}

// Dims is the length of a parameter vector.
func (l Layout) Dims() int {
	return 3 * l.StatsPerBuild()
}

// Encode flattens a triple.
func (l Layout) Encode(t archetype.Triple) []float64 {
	x := make([]float64, 0, l.Dims())
	for _, b := range t.Builds() {
		x = append(x, b.Atk, b.Defense, b.Revenge, float64(b.HP))
		if l.HasSpeed {
			x = append(x, b.Spd)
		}
	}
	return x
}

// Decode builds a triple from x. HP is rounded half to even; every other
// stat is taken as is.
func (l Layout) Decode(x []float64) (archetype.Triple, error) {
	if len(x) != l.Dims() {
		return archetype.Triple{}, fmt.Errorf("parameter vector has %d dimensions, want %d", len(x), l.Dims())
	}

	var builds [3]archetype.Build
	n := l.StatsPerBuild()
	for i, name := range archetypeOrder {
		v := x[i*n : (i+1)*n]
		hp := math.RoundToEven(v[3])
		if math.IsNaN(hp) || math.IsInf(hp, 0) {
			return archetype.Triple{}, fmt.Errorf("%s: hp is not finite", name)
		}
		var spd float64
		if l.HasSpeed {
			spd = v[4]
		}
		b, err := archetype.NewBuild(name, v[0], v[1], v[2], int(hp), spd)
		if err != nil {
			return archetype.Triple{}, err
		}
		builds[i] = b
	}
	return archetype.Triple{Offense: builds[0], Balanced: builds[1], Tank: builds[2]}, nil
}

// Bounds returns the search box for per-archetype stat ranges.
func (l Layout) Bounds(ranges [3]fitness.StatRanges) []evolve.Bound {
	out := make([]evolve.Bound, 0, l.Dims())
	for _, r := range ranges {
		out = append(out,
			evolve.Bound{Lo: r.Atk.Min, Hi: r.Atk.Max},
			evolve.Bound{Lo: r.Defense.Min, Hi: r.Defense.Max},
			evolve.Bound{Lo: r.Revenge.Min, Hi: r.Revenge.Max},
			evolve.Bound{Lo: r.HP.Min, Hi: r.HP.Max},
		)
		if l.HasSpeed {
			out = append(out, evolve.Bound{Lo: r.Spd.Min, Hi: r.Spd.Max})
		}
	}
	return out
}
