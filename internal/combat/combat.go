// Package combat resolves a single battle between two archetype builds.
package combat

import (
	"fmt"
	"math"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
)

// DefaultRoundLimit bounds a battle that never reaches a kill.
const DefaultRoundLimit = 100

// Policy selects the order in which damage is resolved within a round.
type Policy int

const (
	// PolicySimultaneous resolves both primary hits at once, then both revenge hits.
	PolicySimultaneous Policy = iota
	// PolicySpeedOrdered lets the faster combatant strike first and ends the
	// battle at the first sub-step that drops a combatant to zero.
	PolicySpeedOrdered
)

// String returns the configuration name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicySimultaneous:
		return "simultaneous"
	case PolicySpeedOrdered:
		return "speed"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a configuration name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "simultaneous", "":
		return PolicySimultaneous, nil
	case "speed", "speed-ordered", "speed_ordered":
		return PolicySpeedOrdered, nil
	default:
		return 0, fmt.Errorf("unknown resolution policy %q", s)
	}
}

// Rand is the random source used for speed tie-breaks.
// *math/rand/v2.Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

// BattleResult holds the outcome of one battle.
type BattleResult struct {
	Winner string // Empty on a draw
	Rounds int
}

// Draw reports whether neither combatant won.
func (r BattleResult) Draw() bool {
	return r.Winner == ""
}

func (r BattleResult) String() string {
	if r.Draw() {
		return fmt.Sprintf("Draw after %d rounds", r.Rounds)
	}
	return fmt.Sprintf("%s wins in %d rounds", r.Winner, r.Rounds)
}

// HealthSnapshot is the health of both combatants at a round boundary,
// in argument order.
type HealthSnapshot struct {
	A float64
	B float64
}

// HealthTrajectory is the per-round health log, initial state included.
type HealthTrajectory []HealthSnapshot

// AverageDamage returns the mean damage per logged entry taken by each side.
func (h HealthTrajectory) AverageDamage() (toA, toB float64) {
	if len(h) == 0 {
		return 0, 0
	}
	first, last := h[0], h[len(h)-1]
	n := float64(len(h))
	return (first.A - last.A) / n, (first.B - last.B) / n
}

// Resolver simulates battles under a fixed policy.
type Resolver struct {
	Policy     Policy
	RoundLimit int
	Rand       Rand // Nil breaks speed ties toward the first combatant
}

// NewResolver creates a resolver, defaulting a non-positive limit.
func NewResolver(policy Policy, roundLimit int, rng Rand) *Resolver {
	if roundLimit <= 0 {
		roundLimit = DefaultRoundLimit
	}
	return &Resolver{Policy: policy, RoundLimit: roundLimit, Rand: rng}
}

// Resolve is a convenience wrapper for a one-off battle.
func Resolve(p1, p2 archetype.Build, roundLimit int, policy Policy, rng Rand) (BattleResult, HealthTrajectory) {
	return NewResolver(policy, roundLimit, rng).Resolve(p1, p2)
}

// WithRand returns a copy of the resolver drawing tie-breaks from rng.
func (r *Resolver) WithRand(rng Rand) *Resolver {
	c := *r
	c.Rand = rng
	return &c
}

// Resolve runs a battle between p1 and p2. Neither build is modified.
func (r *Resolver) Resolve(p1, p2 archetype.Build) (BattleResult, HealthTrajectory) {
	limit := r.RoundLimit
	if limit <= 0 {
		limit = DefaultRoundLimit
	}
	switch r.Policy {
	case PolicySpeedOrdered:
		return r.resolveSpeedOrdered(p1, p2, limit)
	default:
		return resolveSimultaneous(p1, p2, limit)
	}
}

// PrimaryDamage is the floored damage attacker deals to defender.
func PrimaryDamage(attacker, defender archetype.Build) float64 {
	return math.Max(0, attacker.Atk-defender.Defense)
}

func resolveSimultaneous(p1, p2 archetype.Build, limit int) (BattleResult, HealthTrajectory) {
	hp1, hp2 := float64(p1.HP), float64(p2.HP)
	log := make(HealthTrajectory, 1, limit+1)
	log[0] = HealthSnapshot{A: hp1, B: hp2}

	for round := 1; round <= limit; round++ {
		hp1 -= PrimaryDamage(p2, p1)
		hp2 -= PrimaryDamage(p1, p2)

		// Both revenge checks see post-primary health.
		alive1, alive2 := hp1 > 0, hp2 > 0
		if alive1 {
			hp2 -= p1.Revenge
		}
		if alive2 {
			hp1 -= p2.Revenge
		}

		log = append(log, HealthSnapshot{A: hp1, B: hp2})

		switch {
		case hp1 <= 0 && hp2 <= 0:
			return BattleResult{Rounds: round}, log
		case hp2 <= 0:
			return BattleResult{Winner: p1.Name, Rounds: round}, log
		case hp1 <= 0:
			return BattleResult{Winner: p2.Name, Rounds: round}, log
		}
	}

	return BattleResult{Rounds: limit}, log
}

func (r *Resolver) resolveSpeedOrdered(p1, p2 archetype.Build, limit int) (BattleResult, HealthTrajectory) {
	// hp[0] belongs to p1, hp[1] to p2.
	hp := [2]float64{float64(p1.HP), float64(p2.HP)}
	builds := [2]archetype.Build{p1, p2}
	log := make(HealthTrajectory, 1, limit+1)
	log[0] = HealthSnapshot{A: hp[0], B: hp[1]}

	for round := 1; round <= limit; round++ {
		first := r.firstAttacker(p1, p2)
		second := 1 - first

		// The fixed event order: first strikes, second retaliates, second
		// strikes, first retaliates.
		steps := [4]struct {
			from, to int
			revenge  bool
		}{
			{first, second, false},
			{second, first, true},
			{second, first, false},
			{first, second, true},
		}

		for _, s := range steps {
			if s.revenge {
				if hp[s.from] <= 0 {
					continue
				}
				hp[s.to] -= builds[s.from].Revenge
			} else {
				hp[s.to] -= PrimaryDamage(builds[s.from], builds[s.to])
			}

			if hp[s.to] <= 0 {
				log = append(log, HealthSnapshot{A: hp[0], B: hp[1]})
				return BattleResult{Winner: builds[s.from].Name, Rounds: round}, log
			}
		}

		log = append(log, HealthSnapshot{A: hp[0], B: hp[1]})
	}

	return BattleResult{Rounds: limit}, log
}

// firstAttacker returns 0 if p1 strikes first this round, 1 otherwise.
func (r *Resolver) firstAttacker(p1, p2 archetype.Build) int {
	switch {
	case p1.Spd > p2.Spd:
		return 0
	case p2.Spd > p1.Spd:
		return 1
	case r.Rand == nil:
		return 0
	default:
		return r.Rand.IntN(2)
	}
}
