// Package media probes source recordings and renders them into overlapping
// mono 16 kHz PCM chunks through the external ffmpeg/ffprobe binaries.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/errors"
)

// minRenderSec is the floor for a render duration. Rounding at the source
// tail can otherwise ask ffmpeg for a zero-length clip.
const minRenderSec = 0.05

// Planner renders a source recording into overlapping chunks.
type Planner struct {
	FfmpegPath  string
	FfprobePath string
	ChunkSec    float64
	OverlapSec  float64
}

// NewPlanner builds a planner from the loaded settings.
func NewPlanner(settings *conf.Settings) *Planner {
	return &Planner{
		FfmpegPath:  settings.FfmpegPath(),
		FfprobePath: settings.FfprobePath(),
		ChunkSec:    settings.Chunking.DurationSec,
		OverlapSec:  settings.Chunking.OverlapSec,
	}
}

// Window is one planned chunk interval, half-open [StartSec, EndSec).
type Window struct {
	Idx      int
	StartSec float64
	EndSec   float64
}

// ChunkPlan describes one rendered chunk on disk.
type ChunkPlan struct {
	Idx      int
	StartSec float64
	EndSec   float64
	Path     string
	SHA256   string
}

// PlanWindows computes the chunk windows over a recording of the given
// duration. Windows step by max(1, chunkSec-overlapSec) seconds so
// consecutive chunks overlap, and the last window ends exactly at duration.
func PlanWindows(duration, chunkSec, overlapSec float64) []Window {
	if duration <= 0 || chunkSec <= 0 {
		return nil
	}
	step := chunkSec - overlapSec
	if step < 1.0 {
		step = 1.0
	}
	var windows []Window
	for idx, start := 0, 0.0; start < duration; idx, start = idx+1, start+step {
		end := start + chunkSec
		if end > duration {
			end = duration
		}
		windows = append(windows, Window{Idx: idx, StartSec: start, EndSec: end})
	}
	return windows
}

// ChunkFileName returns the canonical file name for a chunk index.
func ChunkFileName(idx int) string {
	return fmt.Sprintf("chunk_%04d.wav", idx)
}

// PlanAndRender probes the source, renders every window into outDir and
// returns the probed duration plus the ordered chunk plans.
func (p *Planner) PlanAndRender(ctx context.Context, source, outDir string) (float64, []ChunkPlan, error) {
	duration, err := p.ProbeDuration(ctx, source)
	if err != nil {
		return 0, nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, nil, errors.New(err).
			Component("media").
			Category(errors.CategoryFileIO).
			Context("operation", "create_chunk_dir").
			Build()
	}

	windows := PlanWindows(duration, p.ChunkSec, p.OverlapSec)
	plans := make([]ChunkPlan, 0, len(windows))
	for _, w := range windows {
		path := filepath.Join(outDir, ChunkFileName(w.Idx))
		if err := p.RenderChunk(ctx, source, path, w.StartSec, w.EndSec-w.StartSec); err != nil {
			return 0, nil, err
		}
		hash, err := HashFile(path)
		if err != nil {
			return 0, nil, err
		}
		plans = append(plans, ChunkPlan{Idx: w.Idx, StartSec: w.StartSec, EndSec: w.EndSec, Path: path, SHA256: hash})
	}
	return duration, plans, nil
}

// RenderChunk renders [startSec, startSec+durationSec) from source into a
// mono 16 kHz signed 16-bit PCM WAV at outPath. Durations below minRenderSec
// are clamped up.
func (p *Planner) RenderChunk(ctx context.Context, source, outPath string, startSec, durationSec float64) error {
	if durationSec < minRenderSec {
		durationSec = minRenderSec
	}

	cmd := exec.CommandContext(ctx, p.FfmpegPath,
		"-y",
		"-i", source,
		"-vn",
		"-ss", formatSeconds(startSec),
		"-t", formatSeconds(durationSec),
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return errors.Newf("ffmpeg fejlede under rendering af %s: %s", filepath.Base(outPath), lastLine(detail)).
			Component("media").
			Category(errors.CategoryAudio).
			Context("operation", "render_chunk").
			Context("start_sec", startSec).
			Build()
	}
	return nil
}

// formatSeconds renders a float for an ffmpeg argument without trailing
// zeros, so 10 stays "10" and 1.5 stays "1.5".
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// lastLine trims ffmpeg's banner noise down to the line that names the
// failure.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
