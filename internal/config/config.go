// Package config loads the balancer YAML configuration and builds the
// combat, fitness and search components from it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/combat"
	"github.com/lawnchairsociety/rpsbalance/internal/cycle"
	"github.com/lawnchairsociety/rpsbalance/internal/database"
	"github.com/lawnchairsociety/rpsbalance/internal/fitness"
	"github.com/lawnchairsociety/rpsbalance/internal/search"
)

// Config is the complete balancer configuration.
type Config struct {
	Combat    CombatConfig    `yaml:"combat"`
	Fitness   FitnessConfig   `yaml:"fitness"`
	Search    SearchConfig    `yaml:"search"`
	Database  DatabaseConfig  `yaml:"database"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// CombatConfig selects the battle rules.
type CombatConfig struct {
	// Policy is "simultaneous" or "speed".
	Policy     string `yaml:"policy"`
	RoundLimit int    `yaml:"round_limit"`

	// MinRounds and MaxRounds bound the acceptable battle length.
	MinRounds int `yaml:"min_rounds"`
	MaxRounds int `yaml:"max_rounds"`
}

// FitnessConfig holds the valid stat ranges and penalty weights.
type FitnessConfig struct {
	HasSpeed bool          `yaml:"has_speed"`
	Ranges   RangesConfig  `yaml:"ranges"`
	Weights  WeightsConfig `yaml:"weights"`
}

// RangesConfig holds one valid range per stat.
type RangesConfig struct {
	Atk     Range `yaml:"atk"`
	Defense Range `yaml:"defense"`
	Revenge Range `yaml:"revenge"`
	HP      Range `yaml:"hp"`
	Spd     Range `yaml:"spd"`
}

// RangesOverride replaces the stat ranges that are set.
type RangesOverride struct {
	Atk     *Range `yaml:"atk"`
	Defense *Range `yaml:"defense"`
	Revenge *Range `yaml:"revenge"`
	HP      *Range `yaml:"hp"`
	Spd     *Range `yaml:"spd"`
}

func (o RangesOverride) apply(r RangesConfig) RangesConfig {
	for _, f := range []struct {
		src *Range
		dst *Range
	}{
		{o.Atk, &r.Atk}, {o.Defense, &r.Defense}, {o.Revenge, &r.Revenge}, {o.HP, &r.HP}, {o.Spd, &r.Spd},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	return r
}

func (r RangesConfig) statRanges() fitness.StatRanges {
	return fitness.StatRanges{
		Atk:     fitness.Range(r.Atk),
		Defense: fitness.Range(r.Defense),
		Revenge: fitness.Range(r.Revenge),
		HP:      fitness.Range(r.HP),
		Spd:     fitness.Range(r.Spd),
	}
}

// WeightsConfig holds the penalty multipliers.
type WeightsConfig struct {
	OutOfRange       float64 `yaml:"out_of_range"`
	Cycle            float64 `yaml:"cycle"`
	Rounds           float64 `yaml:"rounds"`
	UndershootFactor float64 `yaml:"undershoot_factor"`
	Ordering         float64 `yaml:"ordering"`
}

// SearchConfig configures both search strategies.
type SearchConfig struct {
	Mode    string `yaml:"mode"`
	Seed    uint64 `yaml:"seed"`
	Workers int    `yaml:"workers"`

	// Safety nets. Zero disables them.
	MaxEvaluations int           `yaml:"max_evaluations"`
	TimeLimit      time.Duration `yaml:"time_limit"`

	Sampling     SamplingConfig     `yaml:"sampling"`
	Optimization OptimizationConfig `yaml:"optimization"`

	// SeedTriple starts the optimizer near a known triple.
	SeedTriple *TripleConfig `yaml:"seed_triple"`
}

// SamplingConfig configures integer candidate sampling.
type SamplingConfig struct {
	Strategy   string          `yaml:"strategy"`
	Candidates int             `yaml:"candidates"`
	BatchSize  int             `yaml:"batch_size"`
	Ranges     IntRangesConfig `yaml:"ranges"`

	// Archetypes overrides individual stat ranges per archetype, keyed by
	// lower-case archetype name.
	Archetypes map[string]IntRangesOverride `yaml:"archetypes"`
}

// IntRangesConfig holds one integer sampling range per stat.
type IntRangesConfig struct {
	Atk     IntRange `yaml:"atk"`
	Defense IntRange `yaml:"defense"`
	Revenge IntRange `yaml:"revenge"`
	HP      IntRange `yaml:"hp"`
	Spd     IntRange `yaml:"spd"`
}

// IntRangesOverride replaces the stat ranges that are set.
type IntRangesOverride struct {
	Atk     *IntRange `yaml:"atk"`
	Defense *IntRange `yaml:"defense"`
	Revenge *IntRange `yaml:"revenge"`
	HP      *IntRange `yaml:"hp"`
	Spd     *IntRange `yaml:"spd"`
}

func (o IntRangesOverride) apply(r IntRangesConfig) IntRangesConfig {
	for _, f := range []struct {
		src *IntRange
		dst *IntRange
	}{
		{o.Atk, &r.Atk}, {o.Defense, &r.Defense}, {o.Revenge, &r.Revenge}, {o.HP, &r.HP}, {o.Spd, &r.Spd},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	return r
}

// OptimizationConfig configures the differential evolution minimizer.
type OptimizationConfig struct {
	Generations       int     `yaml:"generations"`
	PopSize           int     `yaml:"popsize"`
	Tol               float64 `yaml:"tol"`
	Atol              float64 `yaml:"atol"`
	Sigma             float64 `yaml:"sigma"`
	Polish            bool    `yaml:"polish"`
	PolishEvaluations int     `yaml:"polish_evaluations"`

	// Archetypes narrows the search bounds per archetype, keyed by
	// lower-case archetype name. Unset stats use fitness.ranges.
	Archetypes map[string]RangesOverride `yaml:"archetypes"`
}

// TripleConfig is a triple written out in configuration.
type TripleConfig struct {
	Offense  BuildConfig `yaml:"offense"`
	Balanced BuildConfig `yaml:"balanced"`
	Tank     BuildConfig `yaml:"tank"`
}

// BuildConfig is one archetype's stats.
type BuildConfig struct {
	Atk     float64 `yaml:"atk"`
	Defense float64 `yaml:"defense"`
	Revenge float64 `yaml:"revenge"`
	HP      int     `yaml:"hp"`
	Spd     float64 `yaml:"spd"`
}

// DatabaseConfig selects the results archive.
type DatabaseConfig struct {
	Enabled    bool           `yaml:"enabled"`
	Driver     string         `yaml:"driver"`
	SQLitePath string         `yaml:"sqlite_path"`
	Postgres   PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// WebSocketConfig holds settings for the live progress endpoint.
type WebSocketConfig struct {
	Listen string `yaml:"listen"`

	// AllowedOrigins is a list of origins allowed to connect via WebSocket.
	// Empty list enforces same-origin policy.
	// Use "*" to allow all origins.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageSize is the maximum inbound message size in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`

	// MaxConcurrent caps the searches running at once across all clients.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxPerIP caps the searches one client address may run at once. Zero is unlimited.
	MaxPerIP int `yaml:"max_per_ip"`

	// MaxCandidates and MaxGenerations cap what a client may request.
	MaxCandidates  int `yaml:"max_candidates"`
	MaxGenerations int `yaml:"max_generations"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	ranges := fitness.DefaultStatRanges()
	weights := fitness.DefaultWeights()
	sampling := search.DefaultSamplingConfig()
	optimization := search.DefaultOptimizationConfig()
	sr := sampling.Ranges[0]

	pg := database.DefaultPostgresConfig()

	return &Config{
		Combat: CombatConfig{
			Policy:     combat.PolicySimultaneous.String(),
			RoundLimit: combat.DefaultRoundLimit,
			MinRounds:  3,
			MaxRounds:  10,
		},
		Fitness: FitnessConfig{
			Ranges: RangesConfig{
				Atk:     Range(ranges.Atk),
				Defense: Range(ranges.Defense),
				Revenge: Range(ranges.Revenge),
				HP:      Range(ranges.HP),
				Spd:     Range(ranges.Spd),
			},
			Weights: WeightsConfig(weights),
		},
		Search: SearchConfig{
			Mode: string(search.ModeOptimization),
			Seed: 1,
			Sampling: SamplingConfig{
				Strategy:   string(sampling.Strategy),
				Candidates: sampling.Candidates,
				BatchSize:  sampling.BatchSize,
				Ranges: IntRangesConfig{
					Atk:     IntRange(sr.Atk),
					Defense: IntRange(sr.Defense),
					Revenge: IntRange(sr.Revenge),
					HP:      IntRange(sr.HP),
					Spd:     IntRange(sr.Spd),
				},
			},
			Optimization: OptimizationConfig{
				Generations:       optimization.Generations,
				PopSize:           optimization.PopSize,
				Tol:               optimization.Tol,
				Atol:              optimization.Atol,
				Sigma:             optimization.Sigma,
				PolishEvaluations: optimization.PolishEvaluations,
			},
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "data/balancer.db",
			Postgres: PostgresConfig{
				Host:            pg.Host,
				Port:            pg.Port,
				SSLMode:         pg.SSLMode,
				MaxOpenConns:    pg.MaxOpenConns,
				MaxIdleConns:    pg.MaxIdleConns,
				ConnMaxLifetime: pg.ConnMaxLifetime,
			},
		},
		WebSocket: WebSocketConfig{
			Listen:         ":8080",
			AllowedOrigins: []string{}, // Same-origin only by default
			MaxMessageSize: 4096,
			MaxConcurrent:  2,
			MaxPerIP:       1,
			MaxCandidates:  200000,
			MaxGenerations: 500,
		},
	}
}

// LoadConfig reads a YAML file over the defaults. A missing file yields
// the defaults; the result is validated either way.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that both search modes could be built from the configuration.
func (c *Config) Validate() error {
	for _, mode := range []search.Mode{search.ModeSampling, search.ModeOptimization} {
		req, err := c.Request(string(mode))
		if err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return fmt.Errorf("%s: %w", mode, err)
		}
	}
	if _, err := search.ParseMode(c.Search.Mode); err != nil {
		return err
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unknown database driver %q", search.ErrInvalidConfig, c.Database.Driver)
	}
	return nil
}

// Resolver builds the combat resolver.
func (c *Config) Resolver() (*combat.Resolver, error) {
	policy, err := combat.ParsePolicy(c.Combat.Policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", search.ErrInvalidConfig, err)
	}
	if c.Combat.RoundLimit <= 0 {
		return nil, fmt.Errorf("%w: round_limit must be positive, got %d", search.ErrInvalidConfig, c.Combat.RoundLimit)
	}
	return combat.NewResolver(policy, c.Combat.RoundLimit, nil), nil
}

// Window is the configured acceptable battle length.
func (c *Config) Window() cycle.Window {
	return cycle.Window{Min: c.Combat.MinRounds, Max: c.Combat.MaxRounds}
}

// Evaluator builds the fitness evaluator.
func (c *Config) Evaluator() (*fitness.Evaluator, error) {
	resolver, err := c.Resolver()
	if err != nil {
		return nil, err
	}
	ev := fitness.NewEvaluator(cycle.NewValidator(resolver, c.Window()))
	ev.Ranges = c.Fitness.Ranges.statRanges()
	ev.Weights = fitness.Weights(c.Fitness.Weights)
	ev.HasSpeed = c.Fitness.HasSpeed
	return ev, nil
}

// Request builds a search request for mode. An empty mode uses search.mode.
func (c *Config) Request(mode string) (search.Request, error) {
	if mode == "" {
		mode = c.Search.Mode
	}
	m, err := search.ParseMode(mode)
	if err != nil {
		return search.Request{}, err
	}
	ev, err := c.Evaluator()
	if err != nil {
		return search.Request{}, err
	}

	req := search.NewRequest(m, ev)
	s := c.Search
	req.Seed = s.Seed
	req.Workers = s.Workers
	req.MaxEvaluations = s.MaxEvaluations
	req.TimeLimit = s.TimeLimit

	if err := checkArchetypeKeys("sampling", s.Sampling.Archetypes); err != nil {
		return search.Request{}, err
	}
	if err := checkArchetypeKeys("optimization", s.Optimization.Archetypes); err != nil {
		return search.Request{}, err
	}

	req.Sampling.Strategy = search.Strategy(s.Sampling.Strategy)
	req.Sampling.Candidates = s.Sampling.Candidates
	req.Sampling.BatchSize = s.Sampling.BatchSize
	for i, name := range archetypeNames {
		r := s.Sampling.Ranges
		if override, ok := s.Sampling.Archetypes[strings.ToLower(name)]; ok {
			r = override.apply(r)
		}
		req.Sampling.Ranges[i] = r.intRanges()
	}

	o := s.Optimization
	req.Optimization = search.OptimizationConfig{
		Generations:       o.Generations,
		PopSize:           o.PopSize,
		Tol:               o.Tol,
		Atol:              o.Atol,
		Sigma:             o.Sigma,
		Polish:            o.Polish,
		PolishEvaluations: o.PolishEvaluations,
	}
	if len(o.Archetypes) > 0 {
		var bounds [3]fitness.StatRanges
		for i, name := range archetypeNames {
			r := c.Fitness.Ranges
			if override, ok := o.Archetypes[strings.ToLower(name)]; ok {
				r = override.apply(r)
			}
			bounds[i] = r.statRanges()
		}
		req.Optimization.Bounds = &bounds
	}

	if s.SeedTriple != nil {
		t := s.SeedTriple.Triple()
		req.SeedTriple = &t
	}
	return req, nil
}

var archetypeNames = []string{archetype.Offense, archetype.Balanced, archetype.Tank}

// checkArchetypeKeys rejects override keys that name no archetype.
func checkArchetypeKeys[T any](section string, overrides map[string]T) error {
	for key := range overrides {
		known := false
		for _, name := range archetypeNames {
			if key == strings.ToLower(name) {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%w: %s.archetypes: unknown archetype %q", search.ErrInvalidConfig, section, key)
		}
	}
	return nil
}

func (r IntRangesConfig) intRanges() search.IntRanges {
	return search.IntRanges{
		Atk:     search.IntRange(r.Atk),
		Defense: search.IntRange(r.Defense),
		Revenge: search.IntRange(r.Revenge),
		HP:      search.IntRange(r.HP),
		Spd:     search.IntRange(r.Spd),
	}
}

// Triple converts the configured stats into named builds.
func (t TripleConfig) Triple() archetype.Triple {
	build := func(name string, b BuildConfig) archetype.Build {
		return archetype.Build{Name: name, Atk: b.Atk, Defense: b.Defense, Revenge: b.Revenge, HP: b.HP, Spd: b.Spd}
	}
	return archetype.Triple{
		Offense:  build(archetype.Offense, t.Offense),
		Balanced: build(archetype.Balanced, t.Balanced),
		Tank:     build(archetype.Tank, t.Tank),
	}
}

// Archive converts the database section into connection settings.
func (d DatabaseConfig) Archive() database.Config {
	return database.Config{
		Driver:     d.Driver,
		SQLitePath: d.SQLitePath,
		Postgres: database.PostgresConfig{
			Host:            d.Postgres.Host,
			Port:            d.Postgres.Port,
			User:            d.Postgres.User,
			Password:        d.Postgres.Password,
			Database:        d.Postgres.Database,
			SSLMode:         d.Postgres.SSLMode,
			MaxOpenConns:    d.Postgres.MaxOpenConns,
			MaxIdleConns:    d.Postgres.MaxIdleConns,
			ConnMaxLifetime: d.Postgres.ConnMaxLifetime,
		},
	}
}

// IsOriginAllowed checks if the given origin is allowed based on the config.
// Returns true if:
// - AllowedOrigins contains "*" (allow all)
// - AllowedOrigins contains the exact origin
// - AllowedOrigins is empty and origin matches the request host (same-origin)
func (c *WebSocketConfig) IsOriginAllowed(origin, requestHost string) bool {
	if len(c.AllowedOrigins) == 0 {
		return isSameOrigin(origin, requestHost)
	}

	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// isSameOrigin checks if the origin matches the request host.
func isSameOrigin(origin, requestHost string) bool {
	if origin == "" {
		return true // Non-browser clients send no Origin header
	}

	originHost := origin
	if idx := strings.Index(origin, "://"); idx != -1 {
		originHost = origin[idx+3:]
	}
	originHost = strings.TrimSuffix(originHost, "/")

	return originHost == requestHost
}
