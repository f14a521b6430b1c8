/*
Package config loads the server configuration.

PURPOSE:
  One typed Config assembled from, in increasing priority: built-in
  defaults, an optional YAML file, LOADPLAN_* environment variables and
  command-line flags.

KEYS:
  server.port              HTTP port (8080)
  server.allowed_origins   CORS origins
  store.path               SQLite path, ":memory:" allowed (loadplan.db)
  store.seed               seed embedded preset flights on start (true)
  optimizer.default_target_cg  target CG when a flight has none (22)
  optimizer.cg_tolerance       deviation at which the exact score reaches 0 (5)
  optimizer.node_limit         branch-and-bound node budget (200000)
  optimizer.search_limit       node budget of the direct deviation search (50000000)
  optimizer.lp_tolerance       simplex tolerance (1e-10)
  optimizer.optimality_gap     accepted distance from the proven optimum, metres of CG (1e-4)
  heuristic.split          longitudinal split; unset = midpoint of movable slots
  log.level                zap level (info)
  log.development          console encoder (false)

  Environment variables replace "." with "_": LOADPLAN_SERVER_PORT=9090.

USAGE:
  flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
  config.RegisterFlags(flags)
  _ = flags.Parse(os.Args[1:])
  cfg, err := config.Load(flags)

SEE ALSO:
  - cmd/server/main.go: Wiring
*/
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LOADPLAN"

// =============================================================================
// CONFIG TYPES
// =============================================================================

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
	Heuristic HeuristicConfig `mapstructure:"heuristic"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
	Seed bool   `mapstructure:"seed"`
}

type OptimizerConfig struct {
	DefaultTargetCG float64 `mapstructure:"default_target_cg"`
	CGTolerance     float64 `mapstructure:"cg_tolerance"`
	NodeLimit       int     `mapstructure:"node_limit"`
	SearchLimit     int     `mapstructure:"search_limit"`
	LPTolerance     float64 `mapstructure:"lp_tolerance"`
	OptimalityGap   float64 `mapstructure:"optimality_gap"`
}

type HeuristicConfig struct {
	// Split is nil when unset.
	Split *float64 `mapstructure:"-"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// =============================================================================
// DEFAULTS AND FLAGS
// =============================================================================

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("store.path", "loadplan.db")
	v.SetDefault("store.seed", true)
	v.SetDefault("optimizer.default_target_cg", 22.0)
	v.SetDefault("optimizer.cg_tolerance", 5.0)
	v.SetDefault("optimizer.node_limit", 200000)
	v.SetDefault("optimizer.search_limit", 50_000_000)
	v.SetDefault("optimizer.lp_tolerance", 1e-10)
	v.SetDefault("optimizer.optimality_gap", 1e-4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"port":       "server.port",
	"db":         "store.path",
	"seed":       "store.seed",
	"target-cg":  "optimizer.default_target_cg",
	"node-limit": "optimizer.node_limit",
	"split":      "heuristic.split",
	"log-level":  "log.level",
	"log-dev":    "log.development",
}

// RegisterFlags adds the server flags to a flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML config file")
	flags.Int("port", 8080, "HTTP port")
	flags.String("db", "loadplan.db", "SQLite database path (:memory: allowed)")
	flags.Bool("seed", true, "seed embedded preset flights on start")
	flags.Float64("target-cg", 22, "target CG used when a flight has none")
	flags.Int("node-limit", 200000, "branch-and-bound node budget")
	flags.Float64("split", 0, "heuristic longitudinal split (default: midpoint of movable slots)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-dev", false, "human-readable console logs")
}

// =============================================================================
// LOAD
// =============================================================================

// Load builds a Config. flags may be nil; only flags the user actually set
// override file and environment values.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about.
	_ = v.BindEnv("heuristic.split")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if v.IsSet("heuristic.split") {
		split := v.GetFloat64("heuristic.split")
		cfg.Heuristic.Split = &split
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if !finite(c.Optimizer.DefaultTargetCG) {
		errs = append(errs, errors.New("optimizer.default_target_cg must be finite"))
	}
	if !finite(c.Optimizer.CGTolerance) || c.Optimizer.CGTolerance <= 0 {
		errs = append(errs, fmt.Errorf("optimizer.cg_tolerance must be positive, got %v", c.Optimizer.CGTolerance))
	}
	if c.Optimizer.NodeLimit <= 0 {
		errs = append(errs, fmt.Errorf("optimizer.node_limit must be positive, got %d", c.Optimizer.NodeLimit))
	}
	if c.Optimizer.SearchLimit <= 0 {
		errs = append(errs, fmt.Errorf("optimizer.search_limit must be positive, got %d", c.Optimizer.SearchLimit))
	}
	if !finite(c.Optimizer.LPTolerance) || c.Optimizer.LPTolerance <= 0 {
		errs = append(errs, fmt.Errorf("optimizer.lp_tolerance must be positive, got %v", c.Optimizer.LPTolerance))
	}
	if !finite(c.Optimizer.OptimalityGap) || c.Optimizer.OptimalityGap <= 0 {
		errs = append(errs, fmt.Errorf("optimizer.optimality_gap must be positive, got %v", c.Optimizer.OptimalityGap))
	}
	if c.Heuristic.Split != nil && !finite(*c.Heuristic.Split) {
		errs = append(errs, errors.New("heuristic.split must be finite"))
	}
	return errors.Join(errs...)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
