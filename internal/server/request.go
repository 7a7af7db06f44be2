package server

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/config"
	"github.com/lawnchairsociety/rpsbalance/internal/search"
)

// ErrBadRequest is returned for payloads that are not a JSON object.
var ErrBadRequest = errors.New("bad request")

// ParseRequest builds a search request from a JSON payload, starting from
// the configured defaults. Recognized keys:
//
//	mode, seed, workers, max_evaluations, time_limit ("90s" or seconds),
//	candidates, batch_size, strategy, generations, popsize, sigma, polish,
//	seed_triple.{offense,balanced,tank}.{atk,defense,revenge,hp,spd}
//
// Candidate and generation budgets are capped by the websocket limits.
func ParseRequest(cfg *config.Config, payload []byte) (search.Request, error) {
	if !gjson.ValidBytes(payload) {
		return search.Request{}, fmt.Errorf("%w: payload is not valid JSON", ErrBadRequest)
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return search.Request{}, fmt.Errorf("%w: payload must be a JSON object", ErrBadRequest)
	}

	req, err := cfg.Request(root.Get("mode").String())
	if err != nil {
		return search.Request{}, err
	}

	if v := root.Get("seed"); v.Exists() {
		req.Seed = v.Uint()
	}
	setInt(root, "workers", &req.Workers)
	setInt(root, "max_evaluations", &req.MaxEvaluations)
	setInt(root, "candidates", &req.Sampling.Candidates)
	setInt(root, "batch_size", &req.Sampling.BatchSize)
	setInt(root, "generations", &req.Optimization.Generations)
	setInt(root, "popsize", &req.Optimization.PopSize)
	if v := root.Get("strategy"); v.Exists() {
		req.Sampling.Strategy = search.Strategy(v.String())
	}
	if v := root.Get("sigma"); v.Exists() {
		req.Optimization.Sigma = v.Float()
	}
	if v := root.Get("polish"); v.Exists() {
		req.Optimization.Polish = v.Bool()
	}

	if v := root.Get("time_limit"); v.Exists() {
		limit, err := parseDuration(v)
		if err != nil {
			return search.Request{}, err
		}
		req.TimeLimit = limit
	}

	if v := root.Get("seed_triple"); v.Exists() {
		t, err := parseTriple(v)
		if err != nil {
			return search.Request{}, err
		}
		req.SeedTriple = &t
	}

	if err := applyLimits(cfg.WebSocket, &req); err != nil {
		return search.Request{}, err
	}
	if err := req.Validate(); err != nil {
		return search.Request{}, err
	}
	return req, nil
}

func setInt(root gjson.Result, path string, dst *int) {
	if v := root.Get(path); v.Exists() {
		*dst = int(v.Int())
	}
}

func parseDuration(v gjson.Result) (time.Duration, error) {
	switch v.Type {
	case gjson.Number:
		return time.Duration(v.Float() * float64(time.Second)), nil
	case gjson.String:
		d, err := time.ParseDuration(v.String())
		if err != nil {
			return 0, fmt.Errorf("%w: time_limit: %v", search.ErrInvalidConfig, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("%w: time_limit must be a duration string or seconds", search.ErrInvalidConfig)
	}
}

func parseTriple(v gjson.Result) (archetype.Triple, error) {
	var t archetype.Triple
	builds := []struct {
		key  string
		name string
		dst  *archetype.Build
	}{
		{"offense", archetype.Offense, &t.Offense},
		{"balanced", archetype.Balanced, &t.Balanced},
		{"tank", archetype.Tank, &t.Tank},
	}
	for _, b := range builds {
		bv := v.Get(b.key)
		if !bv.IsObject() {
			return t, fmt.Errorf("%w: seed_triple.%s is missing", search.ErrInvalidConfig, b.key)
		}
		build, err := parseBuild(b.name, bv)
		if err != nil {
			return t, fmt.Errorf("%w: seed_triple.%s: %w", search.ErrInvalidConfig, b.key, err)
		}
		*b.dst = build
	}
	return t, nil
}

// parseBuild accepts the long stat names and the short ATK/DEF/REV/HP/SPD forms.
func parseBuild(name string, v gjson.Result) (archetype.Build, error) {
	stat := func(keys ...string) float64 {
		for _, k := range keys {
			if r := v.Get(k); r.Exists() {
				return r.Float()
			}
		}
		return 0
	}

	hp := stat("hp", "HP")
	if hp != math.Trunc(hp) {
		return archetype.Build{}, fmt.Errorf("hp must be an integer, got %g", hp)
	}
	return archetype.NewBuild(name,
		stat("atk", "ATK"),
		stat("defense", "def", "DEF"),
		stat("revenge", "rev", "REV"),
		int(hp),
		stat("spd", "SPD"),
	)
}

func applyLimits(limits config.WebSocketConfig, req *search.Request) error {
	if limits.MaxCandidates > 0 && req.Mode == search.ModeSampling && req.Sampling.Candidates > limits.MaxCandidates {
		return fmt.Errorf("%w: candidates %d exceed the limit of %d",
			search.ErrInvalidConfig, req.Sampling.Candidates, limits.MaxCandidates)
	}
	if limits.MaxGenerations > 0 && req.Mode == search.ModeOptimization && req.Optimization.Generations > limits.MaxGenerations {
		return fmt.Errorf("%w: generations %d exceed the limit of %d",
			search.ErrInvalidConfig, req.Optimization.Generations, limits.MaxGenerations)
	}
	return nil
}
