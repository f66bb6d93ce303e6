package conf

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		// On Windows prefer the directory the worker binary ships in, the
		// packaged UI drops config.yaml next to it.
		if exePath, err := os.Executable(); err == nil {
			configPaths = append(configPaths, filepath.Dir(exePath))
		}
		configPaths = append(configPaths, filepath.Join(homeDir, "AppData", "Roaming", "transkriptor"))
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "transkriptor"),
			"/etc/transkriptor",
		}
	}

	return configPaths, nil
}

// defaultDataDir returns the platform default for DataDir when neither
// config.yaml nor APP_DATA_DIR sets one.
func defaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error resolving user config directory: %w", err)
	}
	return filepath.Join(base, "transkriptor"), nil
}

// DatabasePath returns the location of the job database.
func (s *Settings) DatabasePath() string {
	return filepath.Join(s.DataDir, "jobs.db")
}

// JobsRoot returns the directory holding one subdirectory per job.
func (s *Settings) JobsRoot() string {
	return filepath.Join(s.DataDir, "jobs")
}

// JobDir returns the working directory for a single job.
func (s *Settings) JobDir(jobID string) string {
	return filepath.Join(s.JobsRoot(), jobID)
}

// LogPath resolves the file log destination. Relative paths land under
// DataDir so the packaged app keeps everything in one place.
func (s *Settings) LogPath() string {
	if filepath.IsAbs(s.Log.Path) {
		return s.Log.Path
	}
	return filepath.Join(s.DataDir, s.Log.Path)
}

// ModelDir returns the directory holding the fallback engine's ONNX models.
func (s *Settings) ModelDir() string {
	if s.Fallback.ModelDir != "" {
		return s.Fallback.ModelDir
	}
	return filepath.Join(s.DataDir, "models")
}

// FfmpegPath returns the configured ffmpeg binary, or the bare binary name
// for a PATH lookup when none is configured.
func (s *Settings) FfmpegPath() string {
	if s.Decoder.Ffmpeg != "" {
		return s.Decoder.Ffmpeg
	}
	return GetFfmpegBinaryName()
}

// FfprobePath returns the configured ffprobe binary, or the bare binary name
// for a PATH lookup when none is configured.
func (s *Settings) FfprobePath() string {
	if s.Decoder.Ffprobe != "" {
		return s.Decoder.Ffprobe
	}
	return GetFfprobeBinaryName()
}

// FfmpegAvailable reports whether the resolved ffmpeg binary can be executed.
func (s *Settings) FfmpegAvailable() bool {
	_, err := exec.LookPath(s.FfmpegPath())
	return err == nil
}

// FfprobeAvailable reports whether the resolved ffprobe binary can be executed.
func (s *Settings) FfprobeAvailable() bool {
	_, err := exec.LookPath(s.FfprobePath())
	return err == nil
}

// GetFfmpegBinaryName returns the platform-specific ffmpeg binary name.
func GetFfmpegBinaryName() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// GetFfprobeBinaryName returns the platform-specific ffprobe binary name.
func GetFfprobeBinaryName() string {
	if runtime.GOOS == "windows" {
		return "ffprobe.exe"
	}
	return "ffprobe"
}
