// Package config carries process-level configuration for the fiber
// runtime and the update engine: the values spec.md §6's "Configuration"
// section names, loaded from a TOML file with flag/environment overrides,
// in the teacher's own viper+cobra+pflag layering (see
// _examples/FeatureBaseDB-featurebase/cmd/root.go's setAllConfig).
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dbcore/fiberdb/fiber"
	fbtoml "github.com/dbcore/fiberdb/toml"
)

// Config holds the five configuration values named in spec.md §6, plus
// the scheduler's idle poll timeout.
type Config struct {
	// StackSizeDefault is the default per-task stack size in bytes.
	StackSizeDefault int `toml:"stack-size-default"`
	// StackSizeMinimal is the minimum per-task stack size in bytes. The
	// fiber scheduler does not read it: CreateTask accepts any size.
	StackSizeMinimal int `toml:"stack-size-minimal"`
	// StackWatermarkDistance is the distance in bytes from the top of a
	// stack to the watermark. The fiber package writes no watermark
	// pattern and does not read this value.
	StackWatermarkDistance int `toml:"stack-watermark-distance"`
	// TaskPoolCapacity is the number of dead default-stack tasks a
	// scheduler keeps for reuse. Schedulers do not read it; each uses the
	// fiber package's fixed pool capacity of 256.
	TaskPoolCapacity int `toml:"task-pool-capacity"`
	// MaxOperationsPerBatch bounds how many operations a single update
	// engine batch may contain; Check and Apply reject larger batches.
	MaxOperationsPerBatch int `toml:"max-operations-per-batch"`
	// PollIdleTimeout bounds how long a scheduler's event loop blocks
	// waiting for a cross-cord wakeup when it has nothing ready to run.
	PollIdleTimeout fbtoml.Duration `toml:"poll-idle-timeout"`
}

// Default returns the configuration the original system ships with,
// named after its own constants (confirmed against
// original_source/src/lib/core/fiber.c).
func Default() Config {
	return Config{
		StackSizeDefault:       fiber.DefaultStackSize,
		StackSizeMinimal:       fiber.MinimalStackSize,
		StackWatermarkDistance: fiber.DefaultStackSize - fiber.DefaultWatermarkAt,
		TaskPoolCapacity:       256,
		MaxOperationsPerBatch:  4096,
		PollIdleTimeout:        fbtoml.Duration(fiber.DefaultIdlePollTimeout),
	}
}

// Load reads a TOML configuration file, starting from Default and
// overriding only the keys present in the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// RegisterFlags adds this config's fields to a pflag.FlagSet, using the
// same defaults as Default, for cmd/fiberdb's root command.
func RegisterFlags(flags *pflag.FlagSet, cfg *Config) {
	def := Default()
	flags.IntVar(&cfg.StackSizeDefault, "stack-size-default", def.StackSizeDefault, "default per-task stack size in bytes")
	flags.IntVar(&cfg.StackSizeMinimal, "stack-size-minimal", def.StackSizeMinimal, "minimum per-task stack size in bytes")
	flags.IntVar(&cfg.StackWatermarkDistance, "stack-watermark-distance", def.StackWatermarkDistance, "distance from stack top to the stack watermark")
	flags.IntVar(&cfg.TaskPoolCapacity, "task-pool-capacity", def.TaskPoolCapacity, "maximum recycled dead tasks kept per scheduler")
	flags.IntVar(&cfg.MaxOperationsPerBatch, "max-operations-per-batch", def.MaxOperationsPerBatch, "maximum operations accepted in a single update batch")
	cfg.PollIdleTimeout = def.PollIdleTimeout
	flags.Var(&cfg.PollIdleTimeout, "poll-idle-timeout", "how long an idle scheduler blocks waiting for a cross-cord wakeup")
}

// ApplyOverrides layers a config file, then FIBERDB_-prefixed environment
// variables, over the flag defaults already bound to cfg, without
// clobbering any value the user set explicitly on the command line — the
// same flag > env > config file > default priority order as the
// teacher's setAllConfig, applied directly against the pflag.FlagSet
// rather than by replacing cfg wholesale (cfg's fields are already the
// live targets of flags bound at RegisterFlags time).
func ApplyOverrides(v *viper.Viper, flags *pflag.FlagSet, cfg *Config) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix("FIBERDB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path, _ := flags.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file %q: %w", path, err)
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}
