package log

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LogCfg is the "logger" configuration.
type LogCfg struct {
	// LogPath is the target file for the file appender.
	LogPath string `mapstructure:"path"`

	// LogLevel is the minimum level: trace, debug, info, warn, error, fatal.
	// Hot reloadable.
	LogLevel string `mapstructure:"level"`

	// FileAppender enables output to LogPath.
	FileAppender bool `mapstructure:"fileAppender"`

	// ConsoleAppender enables human readable output on stderr.
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`
}

// GetName returns the configuration name for LogCfg
func (cfg *LogCfg) GetName() string {
	return "logger"
}

// Validate validates the LogCfg parameters
func (cfg *LogCfg) Validate() error {
	if _, err := cfg.level(); err != nil {
		return err
	}
	if cfg.FileAppender && cfg.LogPath == "" {
		return fmt.Errorf("path cannot be empty when fileAppender is enabled")
	}
	return nil
}

func (cfg *LogCfg) level() (Level, error) {
	if cfg.LogLevel == "" {
		return InfoLevel, nil
	}
	lv, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return InfoLevel, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return lv, nil
}

var _defaultCfg = &LogCfg{
	LogPath:         "./gameclient.log",
	LogLevel:        "debug",
	ConsoleAppender: true,
}

func getDefaultCfg() *LogCfg {
	return _defaultCfg
}
