package media

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Jegerchristiank/transkriptor/internal/errors"
)

// ProbeDuration asks ffprobe for the container duration of source in seconds.
// It fails when ffprobe exits non-zero or reports a non-positive duration.
func (p *Planner) ProbeDuration(ctx context.Context, source string) (float64, error) {
	// -v error: suppress everything except errors
	// -show_entries format=duration: only the duration from the format section
	// -of default=noprint_wrappers=1:nokey=1: bare value output
	cmd := exec.CommandContext(ctx, p.FfprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		source)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return 0, probeError(source, detail)
	}

	durationStr := strings.TrimSpace(out.String())
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil || duration <= 0 {
		return 0, probeError(source, "uventet output "+strconv.Quote(durationStr))
	}
	return duration, nil
}

func probeError(source, detail string) error {
	return errors.Newf("Kunne ikke læse varighed via ffprobe: %s", detail).
		Component("media").
		Category(errors.CategoryAudio).
		Context("operation", "probe_duration").
		Context("source", filepath.Base(source)).
		Build()
}
