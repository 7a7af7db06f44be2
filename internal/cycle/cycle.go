// Package cycle checks whether three builds form an Offense > Tank > Balanced > Offense dominance cycle.
package cycle

import (
	"errors"
	"fmt"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/combat"
)

// ErrInvalidWindow is returned for an empty or inverted round window.
var ErrInvalidWindow = errors.New("invalid round window")

// Matchup indices into Report arrays.
const (
	OffenseVsTank = iota
	TankVsBalanced
	BalancedVsOffense
)

// MatchupNames labels the three battles in report order.
var MatchupNames = [3]string{"Offense vs Tank", "Tank vs Balanced", "Balanced vs Offense"}

// Window is the inclusive range of acceptable battle lengths.
type Window struct {
	Min int
	Max int
}

// Validate rejects windows that no battle could satisfy.
func (w Window) Validate() error {
	if w.Min <= 0 || w.Max < w.Min {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidWindow, w.Min, w.Max)
	}
	return nil
}

// Contains reports whether rounds falls inside the window.
func (w Window) Contains(rounds int) bool {
	return rounds >= w.Min && rounds <= w.Max
}

// Report is the outcome of the three cycle battles.
type Report struct {
	// Directed is true iff every battle was won in the cyclic direction.
	Directed     bool
	InWindow     bool
	Rounds       [3]int
	Winners      [3]string
	Trajectories [3]combat.HealthTrajectory
}

// Valid reports whether the cycle holds and every battle length is in the window.
func (r Report) Valid() bool {
	return r.Directed && r.InWindow
}

// Validator runs the cycle battles with a shared resolver.
type Validator struct {
	Resolver *combat.Resolver
	Window   Window
}

// NewValidator creates a validator. A nil resolver uses the simultaneous policy.
func NewValidator(resolver *combat.Resolver, window Window) *Validator {
	if resolver == nil {
		resolver = combat.NewResolver(combat.PolicySimultaneous, combat.DefaultRoundLimit, nil)
	}
	return &Validator{Resolver: resolver, Window: window}
}

// WithRand returns a copy of the validator whose resolver draws tie-breaks from rng.
func (v *Validator) WithRand(rng combat.Rand) *Validator {
	return &Validator{Resolver: v.Resolver.WithRand(rng), Window: v.Window}
}

// Validate runs Offense vs Tank, Tank vs Balanced and Balanced vs Offense.
// Round counts are reported whether or not the cycle holds.
func (v *Validator) Validate(o, b, t archetype.Build) Report {
	pairs := [3][2]archetype.Build{
		OffenseVsTank:     {o, t},
		TankVsBalanced:    {t, b},
		BalancedVsOffense: {b, o},
	}

	var rep Report
	rep.Directed = true
	rep.InWindow = true
	for i, p := range pairs {
		result, log := v.Resolver.Resolve(p[0], p[1])
		rep.Rounds[i] = result.Rounds
		rep.Winners[i] = result.Winner
		rep.Trajectories[i] = log

		// Names are compared, so a draw (empty winner) never matches.
		if result.Draw() || result.Winner != p[0].Name {
			rep.Directed = false
		}
		if !v.Window.Contains(result.Rounds) {
			rep.InWindow = false
		}
	}
	return rep
}

// ValidateCycle resolves the three cycle battles with the simultaneous policy
// and reports whether the winners follow the cycle, along with the round counts.
func ValidateCycle(o, b, t archetype.Build, minRounds, maxRounds int) (bool, [3]int) {
	v := NewValidator(nil, Window{Min: minRounds, Max: maxRounds})
	rep := v.Validate(o, b, t)
	return rep.Directed, rep.Rounds
}
