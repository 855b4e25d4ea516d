package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/composition/errors"
	"github.com/wippyai/composition/loopback"
	"github.com/wippyai/composition/protocol"
)

// EnvPrefix prefixes every environment override, e.g.
// COMPOSITION_ENGINE_REFRESH_RATE.
const EnvPrefix = "COMPOSITION"

// Config holds probe and engine settings.
type Config struct {
	Engine EngineConfig `mapstructure:"engine"`
	Log    LogConfig    `mapstructure:"log"`
}

// EngineConfig holds loopback engine settings.
type EngineConfig struct {
	NotificationQueue int           `mapstructure:"notification_queue"`
	RefreshRate       uint32        `mapstructure:"refresh_rate"`
	Tier              uint32        `mapstructure:"tier"`
	MaxTextureSize    uint32        `mapstructure:"max_texture_size"`
	SyncMode          bool          `mapstructure:"sync_mode"`
	SyncFlushTimeout  time.Duration `mapstructure:"sync_flush_timeout"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from path, or from composition.yaml in the
// working directory or ~/.config/composition when path is empty. A missing
// default file is not an error; a missing explicit file is. Environment
// variables with prefix COMPOSITION_ override both.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("engine.notification_queue", 64)
	v.SetDefault("engine.refresh_rate", 60)
	v.SetDefault("engine.tier", 2)
	v.SetDefault("engine.max_texture_size", 8192)
	v.SetDefault("engine.sync_mode", false)
	v.SetDefault("engine.sync_flush_timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", false)

	v.SetConfigType("yaml")
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "config file")
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("composition")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "composition"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "unmarshal config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Engine.NotificationQueue <= 0 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("engine", "notification_queue").
			Value(c.Engine.NotificationQueue).
			Detail("must be positive").
			Build()
	}
	if c.Engine.SyncFlushTimeout < 0 {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("engine", "sync_flush_timeout").
			Value(c.Engine.SyncFlushTimeout).
			Detail("must not be negative").
			Build()
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("log", "level").
			Value(c.Log.Level).
			Cause(err).
			Build()
	}
	switch c.Log.Encoding {
	case "console", "json":
	default:
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("log", "encoding").
			Value(c.Log.Encoding).
			Detail("want console or json").
			Build()
	}
	return nil
}

// NewLogger builds a zap logger from c.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = c.Encoding
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// LoopbackOptions translates c into loopback engine options.
func (c EngineConfig) LoopbackOptions() []loopback.Option {
	return []loopback.Option{
		loopback.WithNotificationQueue(c.NotificationQueue),
		loopback.WithRefreshRate(c.RefreshRate),
		loopback.WithSyncMode(c.SyncMode),
		loopback.WithCaps(protocol.Caps{
			Tier:               c.Tier,
			MaxTextureWidth:    c.MaxTextureSize,
			MaxTextureHeight:   c.MaxTextureSize,
			PixelShaderVersion: 0x0300,
			DisplayUniqueness:  1,
		}),
	}
}
