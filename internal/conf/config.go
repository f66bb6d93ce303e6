// Package conf loads and holds the worker's configuration from config.yaml
// and environment variables.
package conf

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/Jegerchristiank/transkriptor/internal/errors"
)

// Settings is the root configuration structure.
type Settings struct {
	// Version is the build version, set from main at startup.
	Version string `mapstructure:"-"`

	Debug bool `mapstructure:"debug"` // true to enable debug logging

	// DataDir is the root for jobs.db, per-job directories and logs.
	// Empty means the platform default; Load resolves it to an absolute path.
	DataDir string `mapstructure:"datadir"`

	Decoder   DecoderSettings   `mapstructure:"decoder"`
	OpenAI    OpenAISettings    `mapstructure:"openai"`
	Fallback  FallbackSettings  `mapstructure:"fallback"`
	Chunking  ChunkingSettings  `mapstructure:"chunking"`
	Log       LogSettings       `mapstructure:"log"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

// DecoderSettings points at the external ffmpeg/ffprobe binaries.
type DecoderSettings struct {
	Ffmpeg  string `mapstructure:"ffmpeg"`  // path to ffmpeg, empty for PATH lookup
	Ffprobe string `mapstructure:"ffprobe"` // path to ffprobe, empty for PATH lookup
}

// OpenAISettings configures the remote transcription engine.
type OpenAISettings struct {
	APIKey            string `mapstructure:"apikey"`
	BaseURL           string `mapstructure:"baseurl"` // empty for the public API
	DiarizeModel      string `mapstructure:"diarizemodel"`
	TranscribeModel   string `mapstructure:"transcribemodel"`
	Language          string `mapstructure:"language"`
	RequestTimeoutSec int    `mapstructure:"requesttimeout"`
	MaxRetries        int    `mapstructure:"maxretries"`
}

// FallbackSettings configures the local ASR + diarization engine.
type FallbackSettings struct {
	HuggingFaceToken    string  `mapstructure:"huggingfacetoken"`
	ModelDir            string  `mapstructure:"modeldir"` // empty means <datadir>/models
	AsrEncoder          string  `mapstructure:"asrencoder"`
	AsrDecoder          string  `mapstructure:"asrdecoder"`
	AsrTokens           string  `mapstructure:"asrtokens"`
	SegmentationModel   string  `mapstructure:"segmentationmodel"`
	EmbeddingModel      string  `mapstructure:"embeddingmodel"`
	Threads             int     `mapstructure:"threads"`
	ClusteringThreshold float64 `mapstructure:"clusteringthreshold"`
}

// ChunkingSettings controls the windowing of source audio.
type ChunkingSettings struct {
	DurationSec float64 `mapstructure:"duration"`
	OverlapSec  float64 `mapstructure:"overlap"`
}

// LogSettings controls the optional JSON file log.
type LogSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"` // relative paths resolve under DataDir
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"maxsize"`
	MaxBackups int    `mapstructure:"maxbackups"`
	MaxAgeDays int    `mapstructure:"maxage"`
}

// TelemetrySettings controls optional error reporting. Disabled by default;
// interview material never leaves the machine unless explicitly opted in.
type TelemetrySettings struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new
// Settings instance and installs it as the process-wide instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if settings.DataDir == "" {
		dataDir, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		settings.DataDir = dataDir
	}
	// Anchor the data dir so later chdirs cannot move the job database.
	absDataDir, err := filepath.Abs(settings.DataDir)
	if err != nil {
		return nil, fmt.Errorf("error resolving data directory %q: %w", settings.DataDir, err)
	}
	settings.DataDir = absDataDir

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with defaults, env bindings and the optional
// configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	// A missing config file is fine; defaults plus env cover the worker.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
	}

	return nil
}

// ValidateSettings rejects configurations the pipeline cannot run with.
func ValidateSettings(s *Settings) error {
	if s.Chunking.DurationSec <= 0 {
		return errors.Newf("chunk duration must be positive, got %g", s.Chunking.DurationSec).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Chunking.OverlapSec < 0 || s.Chunking.OverlapSec >= s.Chunking.DurationSec {
		return errors.Newf("chunk overlap must be in [0, duration), got %g", s.Chunking.OverlapSec).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.OpenAI.RequestTimeoutSec <= 0 {
		return errors.Newf("openai request timeout must be positive, got %d", s.OpenAI.RequestTimeoutSec).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.OpenAI.MaxRetries < 1 {
		return errors.Newf("openai max retries must be at least 1, got %d", s.OpenAI.MaxRetries).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}
