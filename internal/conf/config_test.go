package conf

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadIsolated resets viper and points HOME at a scratch directory so a
// developer's real config.yaml cannot leak into the test.
func loadIsolated(t *testing.T) (*Settings, error) {
	t.Helper()
	viper.Reset()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	return Load()
}

func TestLoadDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("APP_DATA_DIR", dataDir)

	s, err := loadIsolated(t)
	require.NoError(t, err)

	assert.Equal(t, dataDir, s.DataDir)
	assert.InDelta(t, 240.0, s.Chunking.DurationSec, 1e-9)
	assert.InDelta(t, 1.5, s.Chunking.OverlapSec, 1e-9)
	assert.Equal(t, "gpt-4o-transcribe-diarize", s.OpenAI.DiarizeModel)
	assert.Equal(t, "whisper-1", s.OpenAI.TranscribeModel)
	assert.Equal(t, "da", s.OpenAI.Language)
	assert.Equal(t, 600, s.OpenAI.RequestTimeoutSec)
	assert.Equal(t, 5, s.OpenAI.MaxRetries)
	assert.True(t, s.Log.Enabled)
	assert.False(t, s.Telemetry.Enabled, "error reporting must be opt-in")
}

func TestLoadEnvOverrides(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("APP_DATA_DIR", dataDir)
	t.Setenv("FFMPEG_BIN", "/opt/media/ffmpeg")
	t.Setenv("FFPROBE_BIN", "/opt/media/ffprobe")
	t.Setenv("OPENAI_API_KEY", "sk-test-key")
	t.Setenv("OPENAI_REQUEST_TIMEOUT_SEC", "120")
	t.Setenv("HUGGINGFACE_TOKEN", "hf_testtoken")

	s, err := loadIsolated(t)
	require.NoError(t, err)

	assert.Equal(t, "/opt/media/ffmpeg", s.FfmpegPath())
	assert.Equal(t, "/opt/media/ffprobe", s.FfprobePath())
	assert.Equal(t, "sk-test-key", s.OpenAI.APIKey)
	assert.Equal(t, 120, s.OpenAI.RequestTimeoutSec)
	assert.Equal(t, "hf_testtoken", s.Fallback.HuggingFaceToken)
}

func TestLoadRejectsMalformedTimeout(t *testing.T) {
	t.Setenv("APP_DATA_DIR", t.TempDir())
	t.Setenv("OPENAI_REQUEST_TIMEOUT_SEC", "soon")

	_, err := loadIsolated(t)
	require.Error(t, err)
	assert.ErrorContains(t, err, "OPENAI_REQUEST_TIMEOUT_SEC")
}

func TestValidateSettings(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			Chunking: ChunkingSettings{DurationSec: 240, OverlapSec: 1.5},
			OpenAI:   OpenAISettings{RequestTimeoutSec: 600, MaxRetries: 5},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Settings) {}, wantErr: false},
		{name: "zero duration", mutate: func(s *Settings) { s.Chunking.DurationSec = 0 }, wantErr: true},
		{name: "negative overlap", mutate: func(s *Settings) { s.Chunking.OverlapSec = -1 }, wantErr: true},
		{name: "overlap equals duration", mutate: func(s *Settings) { s.Chunking.OverlapSec = s.Chunking.DurationSec }, wantErr: true},
		{name: "zero timeout", mutate: func(s *Settings) { s.OpenAI.RequestTimeoutSec = 0 }, wantErr: true},
		{name: "zero retries", mutate: func(s *Settings) { s.OpenAI.MaxRetries = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPathHelpers(t *testing.T) {
	s := &Settings{DataDir: filepath.FromSlash("/data/transkriptor")}
	s.Log.Path = "logs/transkriptor.log"

	assert.Equal(t, filepath.FromSlash("/data/transkriptor/jobs.db"), s.DatabasePath())
	assert.Equal(t, filepath.FromSlash("/data/transkriptor/jobs/abc"), s.JobDir("abc"))
	assert.Equal(t, filepath.FromSlash("/data/transkriptor/logs/transkriptor.log"), s.LogPath())
	assert.Equal(t, filepath.FromSlash("/data/transkriptor/models"), s.ModelDir())

	s.Log.Path = filepath.FromSlash("/var/log/transkriptor.log")
	assert.Equal(t, filepath.FromSlash("/var/log/transkriptor.log"), s.LogPath())

	s.Fallback.ModelDir = filepath.FromSlash("/opt/models")
	assert.Equal(t, filepath.FromSlash("/opt/models"), s.ModelDir())
}
