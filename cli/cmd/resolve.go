package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/winusb/cli/config"
)

// Precedence for every option: explicit CLI flag, then config file, then
// the urfave default.

func resolveString(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

func resolveBool(c *cli.Context, name string, fromConfig bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fromConfig || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, fromConfig time.Duration) time.Duration {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Duration(name)
	}
	return fromConfig
}

func resolveStringSlice(c *cli.Context, name string, fromConfig []string) []string {
	if c.IsSet(name) || len(fromConfig) == 0 {
		return c.StringSlice(name)
	}
	return fromConfig
}

// configVal reads a value from cfg, or the zero value when no config
// file was given.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return get(cfg)
}

// loadConfig loads and validates the --config file. It returns nil when
// the flag is absent.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
