// Package engine provides the two transcription engines: the remote OpenAI
// engine and the local fallback engine. Both return segments in chunk-local
// time; the driver shifts them into job-global time.
package engine

import (
	"fmt"
)

// Segment is one engine output entry, chunk-local time.
type Segment struct {
	StartSec   float64
	EndSec     float64
	Speaker    string
	Text       string
	Confidence *float64
}

// Quality is the fallback engine's self-assessment. Coverage is the share of
// segments with a real speaker id, SpeakerCount the number of distinct such
// speakers.
type Quality struct {
	Coverage     float64
	SpeakerCount int
	Passed       bool
}

// Quality gate for fallback output.
const (
	coverageThreshold = 0.85
	minSpeakerCount   = 2
)

// assess computes the quality gate over fallback segments.
func assess(segments []Segment) Quality {
	if len(segments) == 0 {
		return Quality{}
	}
	speakers := make(map[string]struct{})
	covered := 0
	for i := range segments {
		s := segments[i].Speaker
		if s == "" || s == "unknown" || s == "None" {
			continue
		}
		covered++
		speakers[s] = struct{}{}
	}
	q := Quality{
		Coverage:     float64(covered) / float64(len(segments)),
		SpeakerCount: len(speakers),
	}
	q.Passed = q.Coverage >= coverageThreshold && q.SpeakerCount >= minSpeakerCount
	return q
}

// RemoteError reports exhausted retries against the remote engine. The
// driver reacts by trying the fallback engine.
type RemoteError struct {
	Attempts int
	Err      error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("OpenAI transskription fejlede efter %d forsøg: %v", e.Attempts, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// UnavailableError reports missing fallback prerequisites. The driver treats
// it as fatal for the job.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string { return e.Reason }

// EmptyResultError reports a fallback run that produced no usable segments.
// Like a gate rejection, the driver pauses the job on it.
type EmptyResultError struct{}

func (e *EmptyResultError) Error() string { return "Fallback gav ingen segmenter." }

// LowConfidenceError reports fallback output rejected by the quality gate.
// The driver reacts by pausing the job for a later remote retry.
type LowConfidenceError struct {
	Quality Quality
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("Lav diarization-sikkerhed i fallback (coverage=%.2f, speakers=%d).",
		e.Quality.Coverage, e.Quality.SpeakerCount)
}

// meanConfidence averages the non-nil segment confidences, nil when none.
func meanConfidence(segments []Segment) *float64 {
	var sum float64
	var n int
	for i := range segments {
		if segments[i].Confidence != nil {
			sum += *segments[i].Confidence
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
