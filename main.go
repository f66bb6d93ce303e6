package main

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Jegerchristiank/transkriptor/cmd"
	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/logging"
	"github.com/Jegerchristiank/transkriptor/internal/telemetry"
	"github.com/Jegerchristiank/transkriptor/internal/worker"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// The packaged UI drops a .env next to the worker's working directory;
	// a missing file is the normal case.
	_ = godotenv.Load()

	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		logging.Error("failed to load configuration", "error", err)
		return 1
	}
	settings.Version = version
	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	if settings.Log.Enabled {
		fileLogger, closeLog, err := logging.NewFileLogger(logging.FileConfig{
			Path:       settings.LogPath(),
			MaxSizeMB:  settings.Log.MaxSizeMB,
			MaxBackups: settings.Log.MaxBackups,
			MaxAgeDays: settings.Log.MaxAgeDays,
		}, "worker", logLevel(settings))
		if err != nil {
			logging.Warn("file logging disabled", "error", err)
		} else {
			logging.SetDefault(fileLogger)
			defer closeLog()
		}
	}

	if err := telemetry.Init(settings); err != nil {
		logging.Warn("telemetry init failed", "error", err)
	}
	defer telemetry.Flush(2 * time.Second)

	return execute(settings)
}

// logLevel resolves the configured file log level; debug wins over it.
func logLevel(settings *conf.Settings) slog.Level {
	if settings.Debug {
		return slog.LevelDebug
	}
	switch settings.Log.Level {
	case "trace":
		return logging.LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func execute(settings *conf.Settings) int {
	if err := cmd.RootCommand(settings).Execute(); err != nil {
		var exitErr *worker.ExitCodeError
		if errors.As(err, &exitErr) {
			// already reported on the event stream
			return exitErr.Code
		}
		logging.Error("command failed", "error", err)
		return 1
	}
	return 0
}
