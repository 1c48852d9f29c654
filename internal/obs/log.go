package obs

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// LogConfig controls the shared logger.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error. Empty means info.
	Level string
	// Console switches to human-readable output instead of JSON.
	Console bool
	// Output overrides the destination, mainly for tests.
	Output io.Writer
}

// InitLogger configures the process-wide logger. Safe to call once at startup;
// tests may call it again to capture output.
func InitLogger(cfg LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if cfg.Output != nil {
		out = cfg.Output
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out}
	}

	loggerMu.Lock()
	logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	loggerMu.Unlock()
}

// Logger returns the shared structured logger used across the service.
// The pointer refers to a private copy so level methods chain directly.
func Logger() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := logger
	return &l
}
