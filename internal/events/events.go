// Package events emits the worker's machine-readable event stream.
//
// Each event is a single JSON line on the writer, stdout in production. The
// UI process that spawned the worker parses these lines; human-readable
// logging goes to stderr and the file log instead, never here.
package events

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"sync"
)

// Kind identifies the event type on the wire.
type Kind string

const (
	KindProgress Kind = "progress"
	KindPaused   Kind = "paused"
	KindResult   Kind = "result"
	KindError    Kind = "error"
)

// Stage identifies the pipeline phase a progress event belongs to.
type Stage string

const (
	StagePreprocess Stage = "preprocess"
	StageTranscribe Stage = "transcribe"
	StageMerge      Stage = "merge"
)

// Event is the envelope for one line on the stream.
type Event struct {
	Type    Kind `json:"type"`
	Payload any  `json:"payload"`
}

// Progress is the payload for progress and paused events.
type Progress struct {
	JobID       string   `json:"jobId"`
	Status      string   `json:"status"`
	Stage       Stage    `json:"stage"`
	Percent     float64  `json:"percent"`
	ETASeconds  *float64 `json:"etaSeconds"`
	ChunksDone  int      `json:"chunksDone"`
	ChunksTotal int      `json:"chunksTotal"`
	Message     string   `json:"message"`
}

// ErrorPayload is the payload for error events. JobID is empty when the
// failure happens before a job has been resolved.
type ErrorPayload struct {
	JobID   string `json:"jobId,omitempty"`
	Message string `json:"message"`
}

// Emitter writes events as JSON lines. Safe for concurrent use.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEmitter returns an emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{enc: json.NewEncoder(w)}
}

// NewStdout returns an emitter on os.Stdout, the production stream.
func NewStdout() *Emitter {
	return NewEmitter(os.Stdout)
}

func (e *Emitter) emit(kind Kind, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(Event{Type: kind, Payload: payload})
}

// Progress emits a progress event. Percent is clamped to [0,100] and rounded
// to two decimals before it goes on the wire.
func (e *Emitter) Progress(p Progress) error {
	p.Percent = roundPercent(p.Percent)
	return e.emit(KindProgress, p)
}

// Paused emits the paused event that precedes a resumable exit. The payload
// shape matches progress.
func (e *Emitter) Paused(p Progress) error {
	p.Percent = roundPercent(p.Percent)
	return e.emit(KindPaused, p)
}

// Result emits a result event. run-job sends the job result payload the
// driver persists as checkpoints/result.json; the query commands send their
// own result objects, nil for an explicit null.
func (e *Emitter) Result(payload any) error {
	return e.emit(KindResult, payload)
}

// Error emits an error event.
func (e *Emitter) Error(jobID, message string) error {
	return e.emit(KindError, ErrorPayload{JobID: jobID, Message: message})
}

func roundPercent(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return math.Round(v*100) / 100
}
