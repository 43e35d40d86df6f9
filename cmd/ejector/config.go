package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/antler-hat/devolume/pkg/lib/volume"
)

const (
	envPrefix      = "EJECTOR"
	configFileName = "config.yaml"
	appDirName     = "devolume"

	keySettingsDir        = "settings-dir"
	keyLogLevel           = "log-level"
	keyRequireExternalBus = "require-external-bus"
	keyBusPatterns        = "bus-patterns"
	keyParallelism        = "parallelism"
	keyEjectAttempts      = "eject-attempts"
	keyEjectInitialDelay  = "eject-initial-delay"
	keyEjectMultiplier    = "eject-delay-multiplier"
	keyEjectMaxDelay      = "eject-max-delay"
)

type config struct {
	SettingsDir        string
	LogLevel           string
	RequireExternalBus bool
	BusPatterns        []string
	Parallelism        int
	Retry              volume.RetryPolicy
}

// newViper creates a viper instance with defaults and EJECTOR_* env lookup.
func newViper() *viper.Viper {
	v := viper.New()
	retry := volume.DefaultRetryPolicy()

	v.SetDefault(keySettingsDir, defaultSettingsDir())
	v.SetDefault(keyLogLevel, "warn")
	v.SetDefault(keyRequireExternalBus, false)
	v.SetDefault(keyBusPatterns, []string{"usb"})
	v.SetDefault(keyParallelism, 4)
	v.SetDefault(keyEjectAttempts, retry.Attempts)
	v.SetDefault(keyEjectInitialDelay, retry.InitialDelay)
	v.SetDefault(keyEjectMultiplier, retry.Multiplier)
	v.SetDefault(keyEjectMaxDelay, retry.MaxDelay)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func addConfigFlags(flags *pflag.FlagSet) {
	flags.String(keySettingsDir, "", "Directory holding saved rules and config.yaml")
	flags.String(keyLogLevel, "", "Log level: trace, debug, info, warn or error")
	flags.Bool(keyRequireExternalBus, false, "Only offer volumes attached through an external bus")
	flags.StringSlice(keyBusPatterns, nil, "Bus protocols treated as external, matched case-insensitively")
	flags.Int(keyParallelism, 0, "How many volumes to eject at once")
}

func bindConfigFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, key := range []string{keySettingsDir, keyLogLevel, keyRequireExternalBus, keyBusPatterns, keyParallelism} {
		if err := v.BindPFlag(key, flags.Lookup(key)); err != nil {
			return fmt.Errorf("binding flag %s: %w", key, err)
		}
	}
	return nil
}

// loadConfig reads config.yaml from the settings directory, when present,
// and resolves every key. Flags override env, which overrides the file.
func loadConfig(v *viper.Viper) (config, error) {
	dir := v.GetString(keySettingsDir)
	if dir == "" {
		return config{}, errors.New("settings directory is not set")
	}
	v.SetConfigFile(filepath.Join(dir, configFileName))
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := config{
		SettingsDir:        dir,
		LogLevel:           v.GetString(keyLogLevel),
		RequireExternalBus: v.GetBool(keyRequireExternalBus),
		BusPatterns:        v.GetStringSlice(keyBusPatterns),
		Parallelism:        v.GetInt(keyParallelism),
		Retry: volume.RetryPolicy{
			Attempts:     v.GetInt(keyEjectAttempts),
			InitialDelay: v.GetDuration(keyEjectInitialDelay),
			Multiplier:   v.GetFloat64(keyEjectMultiplier),
			MaxDelay:     v.GetDuration(keyEjectMaxDelay),
		},
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case c.Parallelism < 1:
		return fmt.Errorf("invalid %s %d: must be at least 1", keyParallelism, c.Parallelism)
	case c.Retry.Attempts < 1:
		return fmt.Errorf("invalid %s %d: must be at least 1", keyEjectAttempts, c.Retry.Attempts)
	case c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0:
		return errors.New("eject delays must not be negative")
	case c.Retry.Multiplier < 1:
		return fmt.Errorf("invalid %s %g: must be at least 1", keyEjectMultiplier, c.Retry.Multiplier)
	case c.RequireExternalBus && len(c.BusPatterns) == 0:
		return fmt.Errorf("%s needs at least one of %s", keyRequireExternalBus, keyBusPatterns)
	}
	return nil
}

func (c config) policy() volume.Policy {
	p := volume.DefaultPolicy()
	p.RequireExternalBus = c.RequireExternalBus
	if len(c.BusPatterns) > 0 {
		p.BusPatterns = c.BusPatterns
	}
	return p
}

func defaultSettingsDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appDirName)
	}
	return filepath.Join(os.TempDir(), appDirName)
}

