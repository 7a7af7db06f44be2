package server

import (
	"math"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/search"
)

// Message types sent to clients.
const (
	TypeProgress = "progress"
	TypeResult   = "result"
	TypeError    = "error"
)

// maxDiscoveriesPerResult bounds the discoveries listed in a result message.
const maxDiscoveriesPerResult = 50

// BuildJSON is the wire form of a build.
type BuildJSON struct {
	Name    string  `json:"name"`
	Atk     float64 `json:"atk"`
	Defense float64 `json:"defense"`
	Revenge float64 `json:"revenge"`
	HP      int     `json:"hp"`
	Spd     float64 `json:"spd,omitempty"`
}

// DiscoveryJSON is the wire form of a discovered triple.
type DiscoveryJSON struct {
	Builds [3]BuildJSON `json:"builds"`
	Score  *float64     `json:"score"`
	Rounds [3]int       `json:"rounds"`
}

// ProgressMessage reports one batch or generation.
type ProgressMessage struct {
	Type        string   `json:"type"`
	Mode        string   `json:"mode"`
	Step        int      `json:"step"`
	Evaluated   int      `json:"evaluated"`
	Failures    int      `json:"failures"`
	Discovered  int      `json:"discovered"`
	BestScore   *float64 `json:"best_score"`
	Convergence *float64 `json:"convergence,omitempty"`
}

// ResultMessage is sent once a search finishes.
type ResultMessage struct {
	Type        string          `json:"type"`
	Mode        string          `json:"mode"`
	RunID       int64           `json:"run_id,omitempty"`
	Evaluated   int             `json:"evaluated"`
	Failures    int             `json:"failures"`
	Generations int             `json:"generations"`
	StopReason  string          `json:"stop_reason"`
	ElapsedMS   int64           `json:"elapsed_ms"`
	Discovered  int             `json:"discovered"`
	Best        *DiscoveryJSON  `json:"best,omitempty"`
	Discoveries []DiscoveryJSON `json:"discoveries"`
}

// ErrorMessage reports a rejected or failed request.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewProgressMessage converts search progress. Infinite scores become null.
func NewProgressMessage(p search.Progress) ProgressMessage {
	msg := ProgressMessage{
		Type:       TypeProgress,
		Mode:       string(p.Mode),
		Step:       p.Step,
		Evaluated:  p.Evaluated,
		Failures:   p.Failures,
		Discovered: p.Discovered,
		BestScore:  finite(p.BestScore),
	}
	if p.Mode == search.ModeOptimization {
		msg.Convergence = finite(p.Convergence)
	}
	return msg
}

// NewResultMessage converts a search result. runID is zero when nothing
// was archived.
func NewResultMessage(r search.Result, runID int64) ResultMessage {
	msg := ResultMessage{
		Type:        TypeResult,
		Mode:        string(r.Mode),
		RunID:       runID,
		Evaluated:   r.Evaluated,
		Failures:    r.Failures,
		Generations: r.Generations,
		StopReason:  string(r.StopReason),
		ElapsedMS:   r.Elapsed.Milliseconds(),
		Discovered:  len(r.Discoveries),
		Discoveries: []DiscoveryJSON{},
	}
	if r.Best != nil {
		best := newDiscoveryJSON(*r.Best)
		msg.Best = &best
	}
	for i, d := range r.Discoveries {
		if i == maxDiscoveriesPerResult {
			break
		}
		msg.Discoveries = append(msg.Discoveries, newDiscoveryJSON(d))
	}
	return msg
}

// NewErrorMessage wraps err for the client.
func NewErrorMessage(err error) ErrorMessage {
	return ErrorMessage{Type: TypeError, Error: err.Error()}
}

func newDiscoveryJSON(d search.Discovery) DiscoveryJSON {
	out := DiscoveryJSON{Score: finite(d.Score), Rounds: d.Rounds}
	for i, b := range d.Triple.Builds() {
		out.Builds[i] = newBuildJSON(b)
	}
	return out
}

func newBuildJSON(b archetype.Build) BuildJSON {
	return BuildJSON{Name: b.Name, Atk: b.Atk, Defense: b.Defense, Revenge: b.Revenge, HP: b.HP, Spd: b.Spd}
}

// finite maps non-finite values to nil so they encode as JSON null.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
