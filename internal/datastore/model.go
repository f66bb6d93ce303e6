// model.go defines the persisted data model for jobs and chunks.
package datastore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job statuses. A job moves queued -> preprocessing -> transcribing_openai
// (-> transcribing_fallback) -> merging -> ready, with resumable
// paused_retry_openai and terminal failed as side exits.
const (
	JobQueued               = "queued"
	JobPreprocessing        = "preprocessing"
	JobTranscribingOpenAI   = "transcribing_openai"
	JobTranscribingFallback = "transcribing_fallback"
	JobMerging              = "merging"
	JobReady                = "ready"
	JobPausedRetryOpenAI    = "paused_retry_openai"
	JobFailed               = "failed"
)

// Chunk statuses.
const (
	ChunkQueued             = "queued"
	ChunkTranscribingOpenAI = "transcribing_openai"
	ChunkDone               = "done"
	ChunkPausedRetryOpenAI  = "paused_retry_openai"
)

// Engine identifiers recorded on chunks.
const (
	EngineOpenAI   = "openai"
	EngineFallback = "fallback"
)

// incompleteJobStatuses are the statuses a resumable job can be found in.
var incompleteJobStatuses = []string{
	JobQueued,
	JobPreprocessing,
	JobTranscribingOpenAI,
	JobTranscribingFallback,
	JobMerging,
	JobPausedRetryOpenAI,
}

// Job is one transcription job over a single source recording.
// Timestamps are RFC 3339 UTC strings.
type Job struct {
	ID               string  `gorm:"primaryKey;column:id"`
	SourcePath       string  `gorm:"column:source_path"`
	SourceName       string  `gorm:"column:source_name"`
	SourceHash       string  `gorm:"column:source_hash"`
	Status           string  `gorm:"column:status;index:idx_jobs_status_updated"`
	CreatedAt        string  `gorm:"column:created_at"`
	UpdatedAt        string  `gorm:"column:updated_at;index:idx_jobs_status_updated"`
	DurationSec      float64 `gorm:"column:duration_sec;default:0"`
	ChunksTotal      int     `gorm:"column:chunks_total;default:0"`
	ChunksDone       int     `gorm:"column:chunks_done;default:0"`
	TranscriptJSON   string  `gorm:"column:transcript_json"`
	ErrorMessage     string  `gorm:"column:error_message"`
	InterviewerCount int     `gorm:"column:interviewer_count;default:1"`
	ParticipantCount int     `gorm:"column:participant_count;default:1"`

	Chunks []Chunk `gorm:"foreignKey:JobID;references:ID;constraint:OnDelete:CASCADE"`
}

// Chunk is one rendered window of a job's source audio. Its transcript is
// stored in job-global time.
type Chunk struct {
	JobID          string   `gorm:"primaryKey;column:job_id"`
	Idx            int      `gorm:"primaryKey;autoIncrement:false;column:idx"`
	StartSec       float64  `gorm:"column:start_sec"`
	EndSec         float64  `gorm:"column:end_sec"`
	ChunkPath      string   `gorm:"column:chunk_path"`
	ChunkHash      string   `gorm:"column:chunk_hash"`
	Status         string   `gorm:"column:status"`
	Engine         string   `gorm:"column:engine"`
	AttemptCount   int      `gorm:"column:attempt_count;default:0"`
	TranscriptJSON string   `gorm:"column:transcript_json"`
	Confidence     *float64 `gorm:"column:confidence"`
	UpdatedAt      string   `gorm:"column:updated_at"`
}

// Utterance is one transcript entry in job-global time. Speaker holds a raw
// engine id until labeling assigns "I" or "D".
type Utterance struct {
	StartSec   float64  `json:"startSec"`
	EndSec     float64  `json:"endSec"`
	Speaker    string   `json:"speaker"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// JobResult mirrors checkpoints/result.json and the result event payload.
type JobResult struct {
	JobID       string      `json:"jobId"`
	SourcePath  string      `json:"sourcePath"`
	DurationSec float64     `json:"durationSec"`
	Transcript  []Utterance `json:"transcript"`
}

// ChunkCheckpoint mirrors checkpoints/chunk_XXXX.json. Segments are stored in
// job-global time, identical to the chunk row.
type ChunkCheckpoint struct {
	JobID      string      `json:"jobId"`
	ChunkIndex int         `json:"chunkIndex"`
	Engine     string      `json:"engine"`
	Segments   []Utterance `json:"segments"`
}

// Transcript decodes the job's final transcript. A job without one yields nil.
func (j *Job) Transcript() ([]Utterance, error) {
	return unmarshalTranscript(j.TranscriptJSON)
}

// Transcript decodes the chunk's stored transcript.
func (c *Chunk) Transcript() ([]Utterance, error) {
	return unmarshalTranscript(c.TranscriptJSON)
}

// MarshalTranscript encodes utterances for a transcript_json column.
func MarshalTranscript(transcript []Utterance) (string, error) {
	if transcript == nil {
		transcript = []Utterance{}
	}
	data, err := json.Marshal(transcript)
	if err != nil {
		return "", fmt.Errorf("encoding transcript: %w", err)
	}
	return string(data), nil
}

func unmarshalTranscript(raw string) ([]Utterance, error) {
	if raw == "" {
		return nil, nil
	}
	var transcript []Utterance
	if err := json.Unmarshal([]byte(raw), &transcript); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}
	return transcript, nil
}

// nowISO returns the current UTC time in RFC 3339, the row timestamp format.
func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
