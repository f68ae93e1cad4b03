// Package config loads the runtime configuration file.
//
// The file is TOML. Every key is optional; omitted keys keep their
// defaults. Unknown keys are an error so typos do not silently fall back.
//
//	database  = "tether.db"
//	resources = "./resources"
//
//	[engine]
//	max_clicks      = 32
//	max_iterations  = 16
//	gated_resources = ["payroll"]
//
//	[cache]
//	max_entries = 4096
//	max_queries = 512
//	never_cache = ["task"]
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/roach88/tether/internal/cache"
	"github.com/roach88/tether/internal/clockwork"
	"github.com/roach88/tether/internal/engine"
)

// DefaultDatabase is the SQLite path used when neither the file nor a flag
// names one.
const DefaultDatabase = "tether.db"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the runtime configuration.
type Config struct {
	Database  string `toml:"database"`
	Resources string `toml:"resources"`
	Engine    Engine `toml:"engine"`
	Cache     Cache  `toml:"cache"`
}

// Engine bounds the work done per context.
type Engine struct {
	MaxClicks      int      `toml:"max_clicks"`
	MaxIterations  int      `toml:"max_iterations"`
	GatedResources []string `toml:"gated_resources"`
}

// Cache sizes the per-request cache scope.
type Cache struct {
	MaxEntries int      `toml:"max_entries"`
	MaxQueries int      `toml:"max_queries"`
	NeverCache []string `toml:"never_cache"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DefaultDatabase,
		Engine: Engine{
			MaxClicks:     engine.DefaultMaxClicks,
			MaxIterations: clockwork.DefaultMaxIterations,
		},
		Cache: Cache{
			MaxEntries: cache.DefaultMaxEntries,
			MaxQueries: cache.DefaultMaxQueries,
			NeverCache: append([]string(nil), cache.DefaultNeverCache...),
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := checkUndecoded(meta); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses TOML text over the defaults. It is Load without the file.
func Decode(data string) (Config, error) {
	cfg := Default()
	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := checkUndecoded(meta); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func checkUndecoded(meta toml.MetaData) error {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, len(undecoded))
	for i, k := range undecoded {
		keys[i] = k.String()
	}
	sort.Strings(keys)
	return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
}

func (c *Config) normalize() {
	c.Database = strings.TrimSpace(c.Database)
	c.Resources = strings.TrimSpace(c.Resources)
	c.Engine.GatedResources = normalizeList(c.Engine.GatedResources)
	c.Cache.NeverCache = normalizeList(c.Cache.NeverCache)
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		v := strings.TrimSpace(s)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Validate reports every out-of-range value.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, fmt.Errorf("%w: database is required", ErrInvalid))
	}
	if c.Engine.MaxClicks < 1 {
		errs = append(errs, fmt.Errorf("%w: engine.max_clicks must be positive, got %d", ErrInvalid, c.Engine.MaxClicks))
	}
	if c.Engine.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("%w: engine.max_iterations must be positive, got %d", ErrInvalid, c.Engine.MaxIterations))
	}
	if c.Cache.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("%w: cache.max_entries must be positive, got %d", ErrInvalid, c.Cache.MaxEntries))
	}
	if c.Cache.MaxQueries < 1 {
		errs = append(errs, fmt.Errorf("%w: cache.max_queries must be positive, got %d", ErrInvalid, c.Cache.MaxQueries))
	}
	return errors.Join(errs...)
}

// CacheOptions translates the cache section.
func (c Config) CacheOptions() []cache.Option {
	return []cache.Option{
		cache.WithMaxEntries(c.Cache.MaxEntries),
		cache.WithMaxQueries(c.Cache.MaxQueries),
		cache.WithNeverCache(c.Cache.NeverCache...),
	}
}

// EngineOptions translates the engine and cache sections.
func (c Config) EngineOptions() []engine.EngineOption {
	opts := []engine.EngineOption{
		engine.WithMaxClicks(c.Engine.MaxClicks),
		engine.WithMaxIterations(c.Engine.MaxIterations),
		engine.WithCacheOptions(c.CacheOptions()...),
	}
	if len(c.Engine.GatedResources) > 0 {
		opts = append(opts, engine.WithGate(clockwork.ResourceGate(c.Engine.GatedResources...)))
	}
	return opts
}
