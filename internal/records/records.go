// Package records reads and writes the plain text triple format: one build
// per line, a blank line between triples.
//
//	Offense(ATK: 6, DEF: 1, REV: 1, HP: 16)
//	Balanced(ATK: 4, DEF: 2, REV: 2, HP: 20)
//	Tank(ATK: 1, DEF: 3, REV: 3, HP: 23)
package records

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
)

// ErrMalformed is returned for lines or groups that do not parse.
var ErrMalformed = errors.New("malformed record")

const number = `([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)`

var buildLine = regexp.MustCompile(`^([A-Za-z][\w ]*?)\(ATK: ` + number +
	`, DEF: ` + number + `, REV: ` + number + `, HP: ([-+]?\d+)(?:, SPD: ` + number + `)?\)$`)

// Write writes triples in the record format.
func Write(w io.Writer, triples []archetype.Triple) error {
	bw := bufio.NewWriter(w)
	for i, t := range triples {
		if i > 0 {
			bw.WriteString("\n")
		}
		for _, b := range t.Builds() {
			bw.WriteString(b.String())
			bw.WriteString("\n")
		}
	}
	return bw.Flush()
}

// Read parses every triple in r. Lines starting with # are ignored. Builds
// are assigned to Offense, Balanced and Tank by their position in the group.
func Read(r io.Reader) ([]archetype.Triple, error) {
	var (
		triples []archetype.Triple
		group   []archetype.Build
		start   int
	)

	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		if len(group) != 3 {
			return fmt.Errorf("%w: triple starting on line %d has %d builds, want 3", ErrMalformed, start, len(group))
		}
		triples = append(triples, archetype.Triple{Offense: group[0], Balanced: group[1], Tank: group[2]})
		group = group[:0]
		return nil
	}

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "#"):
			continue
		case line == "":
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}

		b, err := ParseBuild(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(group) == 0 {
			start = lineNo
		}
		group = append(group, b)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return triples, nil
}

// ParseBuild parses a single build line.
func ParseBuild(line string) (archetype.Build, error) {
	m := buildLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return archetype.Build{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	var stats [4]float64
	for i, idx := range []int{2, 3, 4, 6} {
		if m[idx] == "" {
			continue
		}
		v, err := strconv.ParseFloat(m[idx], 64)
		if err != nil {
			return archetype.Build{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		stats[i] = v
	}
	hp, err := strconv.Atoi(m[5])
	if err != nil {
		return archetype.Build{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return archetype.NewBuild(strings.TrimSpace(m[1]), stats[0], stats[1], stats[2], hp, stats[3])
}

// ReadFile reads triples from path.
func ReadFile(path string) ([]archetype.Triple, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// WriteFile writes triples to path, replacing any existing file.
func WriteFile(path string, triples []archetype.Triple) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, triples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
