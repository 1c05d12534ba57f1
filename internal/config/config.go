package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/TAIGA/internal/surrogate"
)

// Config is the server configuration, populated from the environment.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	// Forest holds the default surrogate hyperparameters for newly created
	// models; create requests may override them per model.
	Forest struct {
		NumTrees        int     `env:"FOREST_NUM_TREES" envDefault:"10"`
		Bootstrap       bool    `env:"FOREST_BOOTSTRAP" envDefault:"true"`
		PointsPerTree   int     `env:"FOREST_POINTS_PER_TREE" envDefault:"0"`
		RatioFeatures   float64 `env:"FOREST_RATIO_FEATURES" envDefault:"0.8333333333333334"`
		MinSamplesSplit int     `env:"FOREST_MIN_SAMPLES_SPLIT" envDefault:"3"`
		MinSamplesLeaf  int     `env:"FOREST_MIN_SAMPLES_LEAF" envDefault:"3"`
		MaxDepth        int     `env:"FOREST_MAX_DEPTH" envDefault:"20"`
		EpsPurity       float64 `env:"FOREST_EPS_PURITY" envDefault:"1e-8"`
		MaxNodes        int     `env:"FOREST_MAX_NODES" envDefault:"1000"`
		Seed            int64   `env:"FOREST_SEED" envDefault:"42"`
		FitWorkers      int     `env:"FOREST_FIT_WORKERS" envDefault:"1"`
	}
}

// Load parses the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// SurrogateDefaults maps the forest section onto a surrogate model
// configuration.
func (c *Config) SurrogateDefaults() surrogate.Config {
	return surrogate.Config{
		NumTrees:        c.Forest.NumTrees,
		Bootstrap:       c.Forest.Bootstrap,
		PointsPerTree:   c.Forest.PointsPerTree,
		RatioFeatures:   c.Forest.RatioFeatures,
		MinSamplesSplit: c.Forest.MinSamplesSplit,
		MinSamplesLeaf:  c.Forest.MinSamplesLeaf,
		MaxDepth:        c.Forest.MaxDepth,
		EpsPurity:       c.Forest.EpsPurity,
		MaxNodes:        c.Forest.MaxNodes,
		Seed:            c.Forest.Seed,
		Workers:         c.Forest.FitWorkers,
	}
}
