// Package config loads walkpipe settings from defaults, an optional YAML
// file, WALKPIPE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WALKPIPE_LOG_LEVEL.
const EnvPrefix = "WALKPIPE"

// Keys.
const (
	KeyLogLevel     = "log.level"
	KeyLogFormat    = "log.format"
	KeySnapshots    = "snapshot.files"
	KeyDefaultStage = "pipeline.default_stage"
	KeyMetricsAddr  = "serve.metrics_addr"
)

// Config is the resolved configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Serve    ServeConfig    `mapstructure:"serve"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SnapshotConfig struct {
	Files []string `mapstructure:"files"`
}

type PipelineConfig struct {
	// DefaultStage names the walker used for segments that do not start
	// with a registered name. Empty means unknown names are errors.
	DefaultStage string `mapstructure:"default_stage"`
}

type ServeConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// FlagKeys maps configuration keys to the command-line flags that
// override them.
var FlagKeys = map[string]string{
	KeyLogLevel:     "log-level",
	KeyLogFormat:    "log-format",
	KeySnapshots:    "snapshot",
	KeyDefaultStage: "default-stage",
	KeyMetricsAddr:  "metrics-addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeySnapshots, []string{})
	v.SetDefault(KeyDefaultStage, "")
	v.SetDefault(KeyMetricsAddr, "")
}

// Load resolves the configuration. With path empty, ./walkpipe.yaml is
// read when present; an explicit path must exist. Only flags the user
// actually set override file and environment values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("walkpipe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for key, name := range FlagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}
