package log

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcx/gameclient/config"
	"github.com/rs/zerolog"
)

// Level is a log severity.
type Level = zerolog.Level

// LogEvent is a single structured entry under construction. A nil event (level
// disabled) accepts every call and writes nothing.
type LogEvent = zerolog.Event

const (
	TraceLevel = zerolog.TraceLevel
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// GameLogger is a hot reloadable structured logger. Entries are built with the
// chained API:
//
//	logger.Info().Str("addr", addr).Int("bufferSize", 4096).Msg("tcp connected")
type GameLogger struct {
	logger     atomic.Pointer[zerolog.Logger]
	mu         sync.Mutex
	file       *os.File
	currentCfg *LogCfg
}

// NewLogger creates a logger from cfg. A nil cfg uses the defaults (debug, console).
func NewLogger(cfg *LogCfg) *GameLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}
	x := &GameLogger{}
	x.apply(cfg)
	return x
}

// NewLoggerWithWriter creates a logger writing JSON lines to w. Used for tests
// and for embedding the client into an engine with its own log sink.
func NewLoggerWithWriter(w io.Writer, level Level) *GameLogger {
	x := &GameLogger{currentCfg: &LogCfg{}}
	l := zerolog.New(w).Level(level).With().Timestamp().Logger()
	x.logger.Store(&l)
	return x
}

// NewLoggerWithConfigManager creates a logger that follows "logger" reloads.
func NewLoggerWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *GameLogger {
	logger := NewLogger(cfg)
	if configManager != nil {
		configManager.AddChangeListener(logger)
	}
	return logger
}

// apply rebuilds the underlying zerolog logger from cfg.
func (x *GameLogger) apply(cfg *LogCfg) {
	x.mu.Lock()
	defer x.mu.Unlock()

	lv, err := cfg.level()
	if err != nil {
		lv = InfoLevel
	}

	var writers []io.Writer
	if cfg.ConsoleAppender {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}

	oldFile := x.file
	x.file = nil
	if cfg.FileAppender && cfg.LogPath != "" {
		if f, err := openLogFile(cfg.LogPath); err == nil {
			x.file = f
			writers = append(writers, f)
		} else {
			writers = append(writers, os.Stderr)
		}
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	ctx := zerolog.New(out).Level(lv).With().Timestamp()
	if cfg.EnabledCallerInfo {
		ctx = ctx.Caller()
	}
	l := ctx.Logger()
	x.logger.Store(&l)
	x.currentCfg = cfg

	if oldFile != nil {
		_ = oldFile.Close()
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// OnConfigChanged implements config.ConfigChangeListener.
func (x *GameLogger) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "logger" {
		return nil
	}
	newLogCfg, ok := newConfig.(*LogCfg)
	if !ok {
		return nil
	}
	x.apply(newLogCfg)
	return nil
}

// GetCurrentConfig returns the configuration the logger was last built from.
func (x *GameLogger) GetCurrentConfig() *LogCfg {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.currentCfg
}

// With returns a child logger carrying key=value on every entry. The child
// does not follow later reloads of the parent.
func (x *GameLogger) With(key, value string) *GameLogger {
	child := &GameLogger{currentCfg: x.GetCurrentConfig()}
	l := x.logger.Load().With().Str(key, value).Logger()
	child.logger.Store(&l)
	return child
}

// Close releases the file appender, if any.
func (x *GameLogger) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.file == nil {
		return nil
	}
	err := x.file.Close()
	x.file = nil
	return err
}

func (x *GameLogger) Debug() *LogEvent { return x.logger.Load().Debug() }
func (x *GameLogger) Info() *LogEvent  { return x.logger.Load().Info() }
func (x *GameLogger) Warn() *LogEvent  { return x.logger.Load().Warn() }
func (x *GameLogger) Error() *LogEvent { return x.logger.Load().Error() }

// Fatal logs and exits the process once the entry is written.
func (x *GameLogger) Fatal() *LogEvent { return x.logger.Load().Fatal() }
