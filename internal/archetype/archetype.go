// Package archetype defines the stat snapshots that battles and searches operate on.
package archetype

import (
	"errors"
	"fmt"
)

// Canonical archetype names. Builds are not required to use them, but the
// cycle validator and the records format expect them by convention.
const (
	Offense  = "Offense"
	Balanced = "Balanced"
	Tank     = "Tank"
)

// Colors maps archetype names to the display colors used by chart renderers.
var Colors = map[string]string{
	Offense:  "#FF5733",
	Balanced: "#33FF57",
	Tank:     "#3375FF",
}

// ErrNegativeHP is returned when a build is created with negative health.
var ErrNegativeHP = errors.New("hp must be non-negative")

// Build is one archetype's combat stat vector.
type Build struct {
	Name    string
	Atk     float64
	Defense float64
	Revenge float64 // Flat retaliation damage; negative values heal the attacker
	HP      int
	Spd     float64 // Only read by the speed-ordered policy
}

// NewBuild creates a build, rejecting negative health.
func NewBuild(name string, atk, defense, revenge float64, hp int, spd float64) (Build, error) {
	b := Build{Name: name, Atk: atk, Defense: defense, Revenge: revenge, HP: hp, Spd: spd}
	if err := b.Validate(); err != nil {
		return Build{}, err
	}
	return b, nil
}

// Validate reports whether the build satisfies its structural invariants.
func (b Build) Validate() error {
	if b.HP < 0 {
		return fmt.Errorf("%s: %w (got %d)", b.Name, ErrNegativeHP, b.HP)
	}
	return nil
}

// String formats the build the way the records file stores it. SPD is only
// written when set.
func (b Build) String() string {
	if b.Spd != 0 {
		return fmt.Sprintf("%s(ATK: %g, DEF: %g, REV: %g, HP: %d, SPD: %g)", b.Name, b.Atk, b.Defense, b.Revenge, b.HP, b.Spd)
	}
	return fmt.Sprintf("%s(ATK: %g, DEF: %g, REV: %g, HP: %d)", b.Name, b.Atk, b.Defense, b.Revenge, b.HP)
}

// Triple is one candidate balance configuration.
type Triple struct {
	Offense  Build
	Balanced Build
	Tank     Build
}

// Builds returns the triple in its fixed field order.
func (t Triple) Builds() [3]Build {
	return [3]Build{t.Offense, t.Balanced, t.Tank}
}

// Validate checks every build of the triple.
func (t Triple) Validate() error {
	for _, b := range t.Builds() {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// OrderingHolds reports whether the stat profiles match their archetype names:
// attack O > B > T, defense T > B > O and health O < B < T.
func OrderingHolds(o, b, t Build) bool {
	atk := o.Atk > b.Atk && b.Atk > t.Atk
	def := t.Defense > b.Defense && b.Defense > o.Defense
	hp := o.HP < b.HP && b.HP < t.HP
	return atk && def && hp
}
