// Package worker drives one transcription job end to end: chunk planning,
// per-chunk transcription with engine fallback, checkpointing and the final
// merge into a labeled transcript. Every state change is persisted before
// the corresponding checkpoint file is written, so a crash at any point
// resumes from the first chunk that is not done.
package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/datastore"
	"github.com/Jegerchristiank/transkriptor/internal/engine"
	"github.com/Jegerchristiank/transkriptor/internal/events"
	"github.com/Jegerchristiank/transkriptor/internal/logging"
	"github.com/Jegerchristiank/transkriptor/internal/media"
	"github.com/Jegerchristiank/transkriptor/internal/merge"
)

// Exit codes of a job run. Paused means the job can be resumed once the
// remote engine is reachable again.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitPaused = 2
)

// ExitCodeError carries a non-zero exit code through cobra to main. Commands
// return it after reporting the failure on the event stream themselves.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("worker exited with code %d", e.Code)
}

// RemoteEngine is the remote transcription contract the driver consumes.
type RemoteEngine interface {
	TranscribeChunk(ctx context.Context, wavPath string) (*engine.Result, error)
}

// FallbackEngine is the local transcription contract the driver consumes.
type FallbackEngine interface {
	TranscribeChunk(ctx context.Context, wavPath string) ([]engine.Segment, engine.Quality, error)
}

// Planner is the chunk planning and rendering contract the driver consumes;
// media.Planner is the production implementation.
type Planner interface {
	ProbeDuration(ctx context.Context, source string) (float64, error)
	PlanAndRender(ctx context.Context, source, outDir string) (float64, []media.ChunkPlan, error)
	RenderChunk(ctx context.Context, source, outPath string, startSec, durationSec float64) error
}

// Options selects the job a run operates on. Source is required for a new
// job, JobID for a resume.
type Options struct {
	Source           string
	JobID            string
	Resume           bool
	InterviewerCount int
	ParticipantCount int
}

// Driver owns one job for the duration of a run.
type Driver struct {
	store    datastore.Interface
	planner  Planner
	remote   RemoteEngine
	fallback FallbackEngine
	emitter  *events.Emitter
	settings *conf.Settings
	log      *slog.Logger

	newJobID func() string
}

// NewDriver wires a driver from its collaborators.
func NewDriver(settings *conf.Settings, store datastore.Interface, planner Planner, remote RemoteEngine, fallback FallbackEngine, emitter *events.Emitter) *Driver {
	log := logging.ForService("worker")
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		store:    store,
		planner:  planner,
		remote:   remote,
		fallback: fallback,
		emitter:  emitter,
		settings: settings,
		log:      log,
		newJobID: uuid.NewString,
	}
}

// Run executes or resumes one job and returns the process exit code. Every
// failure path has already been reported on the event stream when Run
// returns.
func (d *Driver) Run(ctx context.Context, opts Options) int {
	job, code := d.resolveJob(opts)
	if code != ExitOK {
		return code
	}

	// The job directory must exist before the first checkpoint write.
	if err := os.MkdirAll(d.checkpointsDir(job.ID), 0o755); err != nil {
		d.fail(job.ID, fmt.Sprintf("Kunne ikke oprette jobmappe: %v", err))
		return ExitFailed
	}

	return d.transcribeJob(ctx, job, opts.Resume)
}

// resolveJob loads the job for a resume or creates a fresh row.
func (d *Driver) resolveJob(opts Options) (*datastore.Job, int) {
	if opts.Resume {
		job, err := d.store.GetJob(opts.JobID)
		if err != nil {
			d.emitter.Error(opts.JobID, "Job findes ikke til resume")
			return nil, ExitFailed
		}
		return job, ExitOK
	}

	source, err := filepath.Abs(opts.Source)
	if err != nil {
		d.emitter.Error(opts.JobID, fmt.Sprintf("Ugyldig kildesti: %v", err))
		return nil, ExitFailed
	}
	if _, err := os.Stat(source); err != nil {
		d.emitter.Error(opts.JobID, fmt.Sprintf("Kildedata findes ikke: %s", source))
		return nil, ExitFailed
	}
	sourceHash, err := media.HashFile(source)
	if err != nil {
		d.emitter.Error(opts.JobID, fmt.Sprintf("Kunne ikke læse kildedata: %v", err))
		return nil, ExitFailed
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = d.newJobID()
	}
	job := &datastore.Job{
		ID:               jobID,
		SourcePath:       source,
		SourceName:       filepath.Base(source),
		SourceHash:       sourceHash,
		Status:           datastore.JobQueued,
		InterviewerCount: max(1, opts.InterviewerCount),
		ParticipantCount: max(1, opts.ParticipantCount),
	}
	if err := d.store.CreateJob(job); err != nil {
		d.emitter.Error(jobID, fmt.Sprintf("Kunne ikke oprette job: %v", err))
		return nil, ExitFailed
	}
	return job, ExitOK
}

func (d *Driver) transcribeJob(ctx context.Context, job *datastore.Job, resume bool) int {
	if _, err := os.Stat(job.SourcePath); err != nil {
		d.emitter.Error(job.ID, fmt.Sprintf("Kildedata findes ikke: %s", job.SourcePath))
		d.updateStatus(job.ID, datastore.JobFailed, datastore.WithErrorMessage("Source fil mangler"))
		return ExitFailed
	}

	// Fresh runs reclaim the disk of finished jobs before rendering new
	// chunks; their database rows stay.
	if !resume {
		if deleted, err := d.store.DeleteReadyJobDirs(d.settings.JobsRoot()); err != nil {
			d.log.Warn("housekeeping failed", "error", err)
		} else if len(deleted) > 0 {
			d.log.Info("removed artifacts of ready jobs", "count", len(deleted))
		}
	}

	d.updateStatus(job.ID, datastore.JobPreprocessing)
	d.emitter.Progress(events.Progress{
		JobID:   job.ID,
		Status:  datastore.JobPreprocessing,
		Stage:   events.StagePreprocess,
		Percent: 3,
		Message: "Forbereder lyd og opretter chunks...",
	})

	duration, chunks, err := d.preprocessOrResume(ctx, job)
	if err != nil {
		d.fail(job.ID, err.Error())
		return ExitFailed
	}

	total := len(chunks)
	done := countDone(chunks)
	d.updateStatus(job.ID, datastore.JobTranscribingOpenAI,
		datastore.WithChunksDone(done), datastore.WithChunksTotal(total))

	runStart := time.Now()
	processed := 0

	for i := range chunks {
		chunk := &chunks[i]
		if chunk.Status == datastore.ChunkDone {
			continue
		}
		// Cancellation is only observed between chunks; the job pauses so
		// a later run resumes from the first chunk that is not done.
		if ctx.Err() != nil {
			d.pause(job.ID, done, total, "Kørslen blev afbrudt. Genoptag når du er klar.")
			return ExitPaused
		}

		elapsed, code := d.processChunk(ctx, job, chunk, done, total)
		if code != ExitOK {
			return code
		}

		done++
		processed++
		d.updateStatus(job.ID, datastore.JobTranscribingOpenAI,
			datastore.WithChunksDone(done), datastore.WithChunksTotal(total))

		eta := math.Floor(time.Since(runStart).Seconds() / float64(processed) * float64(total-done))
		d.emitter.Progress(events.Progress{
			JobID:       job.ID,
			Status:      datastore.JobTranscribingOpenAI,
			Stage:       events.StageTranscribe,
			Percent:     transcribePercent(done, total),
			ETASeconds:  &eta,
			ChunksDone:  done,
			ChunksTotal: total,
			Message:     fmt.Sprintf("Chunk %d/%d færdig via %s (%.1fs)", chunk.Idx+1, total, chunk.Engine, elapsed),
		})
	}

	return d.mergeAndFinish(job, duration, total)
}

// preprocessOrResume reuses persisted chunks when they exist, otherwise it
// renders a fresh chunk plan and persists one queued row per chunk.
func (d *Driver) preprocessOrResume(ctx context.Context, job *datastore.Job) (float64, []datastore.Chunk, error) {
	existing, err := d.store.ListChunks(job.ID)
	if err != nil {
		return 0, nil, err
	}
	if len(existing) > 0 {
		duration := job.DurationSec
		if duration <= 0 {
			duration, err = d.planner.ProbeDuration(ctx, job.SourcePath)
			if err != nil {
				return 0, nil, err
			}
			if err := d.store.UpdateJobMetadata(job.ID, duration, len(existing)); err != nil {
				return 0, nil, err
			}
		}
		return duration, existing, nil
	}

	duration, plans, err := d.planner.PlanAndRender(ctx, job.SourcePath, d.chunksDir(job.ID))
	if err != nil {
		return 0, nil, err
	}
	if err := d.store.UpdateJobMetadata(job.ID, duration, len(plans)); err != nil {
		return 0, nil, err
	}
	for _, plan := range plans {
		chunk := &datastore.Chunk{
			JobID:     job.ID,
			Idx:       plan.Idx,
			StartSec:  plan.StartSec,
			EndSec:    plan.EndSec,
			ChunkPath: plan.Path,
			ChunkHash: plan.SHA256,
			Status:    datastore.ChunkQueued,
		}
		if err := d.store.UpsertChunk(chunk); err != nil {
			return 0, nil, err
		}
	}
	chunks, err := d.store.ListChunks(job.ID)
	return duration, chunks, err
}

// processChunk transcribes one chunk, first remotely, then through the local
// fallback. It returns the wall time spent on the chunk and an exit code;
// any non-OK code has already been persisted and emitted.
func (d *Driver) processChunk(ctx context.Context, job *datastore.Job, chunk *datastore.Chunk, done, total int) (float64, int) {
	start := time.Now()

	// A resumed job may have lost its rendered chunks to housekeeping or a
	// cleared temp dir; re-render from the source window.
	if _, err := os.Stat(chunk.ChunkPath); chunk.ChunkPath == "" || err != nil {
		if chunk.ChunkPath == "" {
			chunk.ChunkPath = filepath.Join(d.chunksDir(job.ID), media.ChunkFileName(chunk.Idx))
		}
		if err := os.MkdirAll(filepath.Dir(chunk.ChunkPath), 0o755); err != nil {
			d.fail(job.ID, fmt.Sprintf("Kunne ikke oprette chunk-mappe: %v", err))
			return 0, ExitFailed
		}
		if err := d.planner.RenderChunk(ctx, job.SourcePath, chunk.ChunkPath, chunk.StartSec, chunk.EndSec-chunk.StartSec); err != nil {
			d.fail(job.ID, err.Error())
			return 0, ExitFailed
		}
		chunk.ChunkHash = ""
	}
	if chunk.ChunkHash == "" {
		hash, err := media.HashFile(chunk.ChunkPath)
		if err != nil {
			d.fail(job.ID, err.Error())
			return 0, ExitFailed
		}
		chunk.ChunkHash = hash
	}

	chunk.AttemptCount++
	chunk.Status = datastore.ChunkTranscribingOpenAI
	if err := d.store.UpsertChunk(chunk); err != nil {
		d.fail(job.ID, err.Error())
		return 0, ExitFailed
	}

	result, remoteErr := d.remote.TranscribeChunk(ctx, chunk.ChunkPath)
	if remoteErr == nil {
		segments := globalize(result.Segments, chunk.StartSec)
		if code := d.storeChunkResult(job, chunk, datastore.EngineOpenAI, segments, result.AvgConfidence); code != ExitOK {
			return 0, code
		}
		return time.Since(start).Seconds(), ExitOK
	}

	d.log.Warn("remote engine failed, trying fallback",
		"job_id", job.ID, "chunk", chunk.Idx, "error", remoteErr)
	d.updateStatus(job.ID, datastore.JobTranscribingFallback,
		datastore.WithChunksDone(done), datastore.WithChunksTotal(total))
	d.emitter.Progress(events.Progress{
		JobID:       job.ID,
		Status:      datastore.JobTranscribingFallback,
		Stage:       events.StageTranscribe,
		Percent:     10 + float64(done)/float64(max(1, total))*70,
		ChunksDone:  done,
		ChunksTotal: total,
		Message:     fmt.Sprintf("OpenAI-fejl på chunk %d, prøver lokal fallback...", chunk.Idx+1),
	})

	fbSegments, quality, fbErr := d.fallback.TranscribeChunk(ctx, chunk.ChunkPath)
	if fbErr == nil {
		segments := globalize(fbSegments, chunk.StartSec)
		// Fallback segments carry no per-segment confidences; the chunk
		// confidence is the diarization coverage of the quality gate.
		coverage := quality.Coverage
		if code := d.storeChunkResult(job, chunk, datastore.EngineFallback, segments, &coverage); code != ExitOK {
			return 0, code
		}
		return time.Since(start).Seconds(), ExitOK
	}

	if isPausable(fbErr) {
		chunk.Status = datastore.ChunkPausedRetryOpenAI
		if err := d.store.UpsertChunk(chunk); err != nil {
			d.fail(job.ID, err.Error())
			return 0, ExitFailed
		}
		d.pause(job.ID, done, total,
			"Lokal fallback kunne ikke skelne talere sikkert nok. Genoptag når OpenAI API er tilgængelig igen.")
		return 0, ExitPaused
	}

	d.fail(job.ID, fmt.Sprintf("Chunk %d fejlede i både OpenAI og fallback. OpenAI: %v; Fallback: %v",
		chunk.Idx+1, remoteErr, fbErr))
	return 0, ExitFailed
}

// storeChunkResult persists the finished chunk row first, then writes the
// checkpoint file. The row is authoritative; a failed checkpoint write only
// logs.
func (d *Driver) storeChunkResult(job *datastore.Job, chunk *datastore.Chunk, engineName string, segments []datastore.Utterance, confidence *float64) int {
	payload, err := datastore.MarshalTranscript(segments)
	if err != nil {
		d.fail(job.ID, err.Error())
		return ExitFailed
	}
	chunk.Engine = engineName
	chunk.Status = datastore.ChunkDone
	chunk.TranscriptJSON = payload
	chunk.Confidence = confidence
	if err := d.store.UpsertChunk(chunk); err != nil {
		d.fail(job.ID, err.Error())
		return ExitFailed
	}

	checkpoint := datastore.ChunkCheckpoint{
		JobID:      job.ID,
		ChunkIndex: chunk.Idx,
		Engine:     engineName,
		Segments:   segments,
	}
	path := datastore.ChunkCheckpointPath(d.jobDir(job.ID), chunk.Idx)
	if err := datastore.WriteJSONAtomic(path, checkpoint); err != nil {
		d.log.Warn("chunk checkpoint write failed", "job_id", job.ID, "chunk", chunk.Idx, "error", err)
	}
	return ExitOK
}

func (d *Driver) mergeAndFinish(job *datastore.Job, duration float64, total int) int {
	d.updateStatus(job.ID, datastore.JobMerging,
		datastore.WithChunksDone(total), datastore.WithChunksTotal(total))
	mergeETA := 5.0
	d.emitter.Progress(events.Progress{
		JobID:       job.ID,
		Status:      datastore.JobMerging,
		Stage:       events.StageMerge,
		Percent:     94,
		ETASeconds:  &mergeETA,
		ChunksDone:  total,
		ChunksTotal: total,
		Message:     "Sammenfletter segmenter og fjerner overlap...",
	})

	chunks, err := d.store.ListChunks(job.ID)
	if err != nil {
		d.fail(job.ID, err.Error())
		return ExitFailed
	}
	var collected []datastore.Utterance
	for i := range chunks {
		transcript, err := chunks[i].Transcript()
		if err != nil {
			d.fail(job.ID, err.Error())
			return ExitFailed
		}
		collected = append(collected, coerceUtterances(transcript)...)
	}

	labeled := merge.MergeAndLabel(collected, job.InterviewerCount, job.ParticipantCount)
	if err := d.store.SetFinalTranscript(job.ID, labeled); err != nil {
		d.fail(job.ID, err.Error())
		return ExitFailed
	}
	d.updateStatus(job.ID, datastore.JobReady,
		datastore.WithChunksDone(total), datastore.WithChunksTotal(total))

	resultPayload := datastore.JobResult{
		JobID:       job.ID,
		SourcePath:  job.SourcePath,
		DurationSec: duration,
		Transcript:  labeled,
	}
	if err := datastore.WriteJSONAtomic(datastore.ResultPath(d.jobDir(job.ID)), resultPayload); err != nil {
		d.log.Warn("result checkpoint write failed", "job_id", job.ID, "error", err)
	}

	result, err := d.store.ReadJobResult(job.ID)
	if err != nil || result == nil {
		d.emitter.Error(job.ID, "Kunne ikke indlæse slutresultat")
		return ExitFailed
	}
	result.DurationSec = duration
	d.emitter.Result(*result)
	return ExitOK
}

// globalize shifts chunk-local engine segments into job-global time.
func globalize(segments []engine.Segment, chunkStart float64) []datastore.Utterance {
	out := make([]datastore.Utterance, 0, len(segments))
	for i := range segments {
		out = append(out, datastore.Utterance{
			StartSec:   round3(chunkStart + segments[i].StartSec),
			EndSec:     round3(chunkStart + segments[i].EndSec),
			Speaker:    segments[i].Speaker,
			Text:       segments[i].Text,
			Confidence: segments[i].Confidence,
		})
	}
	return out
}

// coerceUtterances normalizes stored chunk transcripts before merging:
// blank texts are dropped, ends never precede starts and a missing speaker
// defaults to speaker_0.
func coerceUtterances(transcript []datastore.Utterance) []datastore.Utterance {
	out := make([]datastore.Utterance, 0, len(transcript))
	for _, u := range transcript {
		if u.Text == "" {
			continue
		}
		if u.EndSec < u.StartSec {
			u.EndSec = u.StartSec
		}
		if u.Speaker == "" {
			u.Speaker = "speaker_0"
		}
		out = append(out, u)
	}
	return out
}

// isPausable reports whether a fallback failure should pause the job for a
// later remote retry rather than fail it.
func isPausable(err error) bool {
	var empty *engine.EmptyResultError
	var lowConf *engine.LowConfidenceError
	return stderrors.As(err, &empty) || stderrors.As(err, &lowConf)
}

func countDone(chunks []datastore.Chunk) int {
	n := 0
	for i := range chunks {
		if chunks[i].Status == datastore.ChunkDone {
			n++
		}
	}
	return n
}

func transcribePercent(done, total int) float64 {
	return 10 + float64(done)/float64(max(1, total))*80
}

func (d *Driver) updateStatus(jobID, status string, opts ...datastore.JobUpdate) {
	if err := d.store.UpdateJobStatus(jobID, status, opts...); err != nil {
		d.log.Error("status update failed", "job_id", jobID, "status", status, "error", err)
	}
}

func (d *Driver) fail(jobID, message string) {
	d.updateStatus(jobID, datastore.JobFailed, datastore.WithErrorMessage(message))
	d.emitter.Error(jobID, message)
}

func (d *Driver) pause(jobID string, done, total int, message string) {
	d.updateStatus(jobID, datastore.JobPausedRetryOpenAI,
		datastore.WithChunksDone(done), datastore.WithChunksTotal(total),
		datastore.WithErrorMessage(message))
	d.emitter.Paused(events.Progress{
		JobID:       jobID,
		Status:      datastore.JobPausedRetryOpenAI,
		Stage:       events.StageTranscribe,
		Percent:     transcribePercent(done, total),
		ChunksDone:  done,
		ChunksTotal: total,
		Message:     message,
	})
}

func (d *Driver) jobDir(jobID string) string    { return d.settings.JobDir(jobID) }
func (d *Driver) chunksDir(jobID string) string { return filepath.Join(d.jobDir(jobID), "chunks") }
func (d *Driver) checkpointsDir(jobID string) string {
	return filepath.Join(d.jobDir(jobID), "checkpoints")
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
