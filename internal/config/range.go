package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Range is a float interval written as [min, max] or {min: .., max: ..}.
type Range struct {
	Min float64
	Max float64
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Range) UnmarshalYAML(value *yaml.Node) error {
	var lo, hi float64
	if err := decodeBounds(value, &lo, &hi); err != nil {
		return err
	}
	r.Min, r.Max = lo, hi
	return nil
}

// MarshalYAML writes the flow sequence form.
func (r Range) MarshalYAML() (any, error) {
	return flowPair(r.Min, r.Max), nil
}

// IntRange is an integer interval written as [min, max] or {min: .., max: ..}.
type IntRange struct {
	Min int
	Max int
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *IntRange) UnmarshalYAML(value *yaml.Node) error {
	var lo, hi int
	if err := decodeBounds(value, &lo, &hi); err != nil {
		return err
	}
	r.Min, r.Max = lo, hi
	return nil
}

// MarshalYAML writes the flow sequence form.
func (r IntRange) MarshalYAML() (any, error) {
	return flowPair(r.Min, r.Max), nil
}

func decodeBounds[T int | float64](value *yaml.Node, lo, hi *T) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var pair []T
		if err := value.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: range needs exactly two values, got %d", value.Line, len(pair))
		}
		*lo, *hi = pair[0], pair[1]
	case yaml.MappingNode:
		var m struct {
			Min T `yaml:"min"`
			Max T `yaml:"max"`
		}
		if err := value.Decode(&m); err != nil {
			return err
		}
		*lo, *hi = m.Min, m.Max
	default:
		return fmt.Errorf("line %d: range must be [min, max] or a min/max mapping", value.Line)
	}
	return nil
}

func flowPair[T int | float64](lo, hi T) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range []T{lo, hi} {
		var item yaml.Node
		_ = item.Encode(v)
		n.Content = append(n.Content, &item)
	}
	return n
}
