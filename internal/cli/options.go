package cli

import (
	"github.com/spf13/pflag"

	"modelprobe/internal/config"
)

// Options are the values gathered from persistent flags and the environment.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	// run overrides; applied only when the flag was set
	overrides []func(*config.Config)
}

// loadConfig reads the config file (if any), applies flag overrides and
// fills defaults.
func (o *Options) loadConfig() (config.Config, error) {
	var cfg config.Config
	if o.ConfigPath != "" {
		c, err := config.Load(o.ConfigPath)
		if err != nil {
			return cfg, exitErr(exitConfig, err)
		}
		cfg = c
	}
	for _, f := range o.overrides {
		f(&cfg)
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// bindString registers a string flag that overrides a config field when set.
func (o *Options) bindString(fs *pflag.FlagSet, name, usage string, field func(*config.Config) *string) {
	v := fs.String(name, "", usage)
	o.overrides = append(o.overrides, func(c *config.Config) {
		if fs.Changed(name) {
			*field(c) = *v
		}
	})
}

func (o *Options) bindInt(fs *pflag.FlagSet, name, usage string, field func(*config.Config) *int) {
	v := fs.Int(name, 0, usage)
	o.overrides = append(o.overrides, func(c *config.Config) {
		if fs.Changed(name) {
			*field(c) = *v
		}
	})
}

func (o *Options) bindBool(fs *pflag.FlagSet, name, usage string, field func(*config.Config) *bool) {
	v := fs.Bool(name, false, usage)
	o.overrides = append(o.overrides, func(c *config.Config) {
		if fs.Changed(name) {
			*field(c) = *v
		}
	})
}
