package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/datastore"
	"github.com/Jegerchristiank/transkriptor/internal/engine"
	"github.com/Jegerchristiank/transkriptor/internal/events"
	"github.com/Jegerchristiank/transkriptor/internal/media"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}

// fakePlanner renders dummy WAV files so the driver's on-disk checks pass
// without ffmpeg.
type fakePlanner struct {
	duration float64
	windows  []media.Window

	mu          sync.Mutex
	renderCalls int
}

func (p *fakePlanner) ProbeDuration(context.Context, string) (float64, error) {
	return p.duration, nil
}

func (p *fakePlanner) PlanAndRender(_ context.Context, _, outDir string) (float64, []media.ChunkPlan, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, nil, err
	}
	plans := make([]media.ChunkPlan, 0, len(p.windows))
	for _, w := range p.windows {
		path := filepath.Join(outDir, media.ChunkFileName(w.Idx))
		if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
			return 0, nil, err
		}
		plans = append(plans, media.ChunkPlan{
			Idx: w.Idx, StartSec: w.StartSec, EndSec: w.EndSec, Path: path, SHA256: "deadbeef",
		})
	}
	return p.duration, plans, nil
}

func (p *fakePlanner) RenderChunk(_ context.Context, _, outPath string, _, _ float64) error {
	p.mu.Lock()
	p.renderCalls++
	p.mu.Unlock()
	return os.WriteFile(outPath, []byte("RIFF"), 0o644)
}

type fakeRemote struct {
	mu    sync.Mutex
	calls int
	fn    func(wavPath string) (*engine.Result, error)
}

func (r *fakeRemote) TranscribeChunk(_ context.Context, wavPath string) (*engine.Result, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.fn(wavPath)
}

func (r *fakeRemote) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeFallback struct {
	fn func(wavPath string) ([]engine.Segment, engine.Quality, error)
}

func (f *fakeFallback) TranscribeChunk(_ context.Context, wavPath string) ([]engine.Segment, engine.Quality, error) {
	return f.fn(wavPath)
}

type testRig struct {
	driver   *Driver
	store    *datastore.SQLiteStore
	settings *conf.Settings
	out      *bytes.Buffer
	source   string
	remote   *fakeRemote
	fallback *fakeFallback
	planner  *fakePlanner
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	dataDir := t.TempDir()
	settings := &conf.Settings{
		DataDir:  dataDir,
		Chunking: conf.ChunkingSettings{DurationSec: 10, OverlapSec: 1.5},
	}

	store := datastore.NewAt(filepath.Join(dataDir, "jobs.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	source := filepath.Join(t.TempDir(), "interview.m4a")
	require.NoError(t, os.WriteFile(source, []byte("audio"), 0o644))

	planner := &fakePlanner{
		duration: 20,
		windows: []media.Window{
			{Idx: 0, StartSec: 0, EndSec: 10},
			{Idx: 1, StartSec: 8.5, EndSec: 18.5},
		},
	}
	remote := &fakeRemote{fn: func(string) (*engine.Result, error) {
		return &engine.Result{Segments: []engine.Segment{
			{StartSec: 0, EndSec: 2, Speaker: "speaker_0", Text: "Hvordan gik det?"},
			{StartSec: 2, EndSec: 6, Speaker: "speaker_1", Text: "Det gik fint, alt taget i betragtning."},
		}}, nil
	}}
	fallback := &fakeFallback{fn: func(string) ([]engine.Segment, engine.Quality, error) {
		return nil, engine.Quality{}, &engine.UnavailableError{Reason: "ikke konfigureret"}
	}}

	out := &bytes.Buffer{}
	driver := NewDriver(settings, store, planner, remote, fallback, events.NewEmitter(out))
	driver.newJobID = func() string { return "job-test" }

	return &testRig{
		driver: driver, store: store, settings: settings, out: out,
		source: source, remote: remote, fallback: fallback, planner: planner,
	}
}

func (rig *testRig) run(t *testing.T, opts Options) int {
	t.Helper()
	if opts.Source == "" && !opts.Resume {
		opts.Source = rig.source
	}
	return rig.driver.Run(context.Background(), opts)
}

// eventsOfType decodes the emitted stream and returns the payloads of the
// given kind as raw JSON.
func (rig *testRig) eventsOfType(t *testing.T, kind events.Kind) []json.RawMessage {
	t.Helper()
	var payloads []json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(rig.out.Bytes()))
	for dec.More() {
		var ev struct {
			Type    events.Kind     `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, dec.Decode(&ev))
		if ev.Type == kind {
			payloads = append(payloads, ev.Payload)
		}
	}
	return payloads
}

func TestRunCompletesJobWithRemoteEngine(t *testing.T) {
	rig := newTestRig(t)

	code := rig.run(t, Options{InterviewerCount: 1, ParticipantCount: 1})
	require.Equal(t, ExitOK, code)

	job, err := rig.store.GetJob("job-test")
	require.NoError(t, err)
	assert.Equal(t, datastore.JobReady, job.Status)
	assert.Equal(t, 2, job.ChunksDone)
	assert.Equal(t, 2, job.ChunksTotal)
	assert.Empty(t, job.ErrorMessage)

	transcript, err := job.Transcript()
	require.NoError(t, err)
	require.NotEmpty(t, transcript)
	for _, u := range transcript {
		assert.Contains(t, []string{"I", "D"}, u.Speaker)
	}

	chunks, err := rig.store.ListChunks("job-test")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, datastore.ChunkDone, c.Status)
		assert.Equal(t, datastore.EngineOpenAI, c.Engine)
		assert.Equal(t, 1, c.AttemptCount)
	}

	results := rig.eventsOfType(t, events.KindResult)
	require.Len(t, results, 1)
	var result datastore.JobResult
	require.NoError(t, json.Unmarshal(results[0], &result))
	assert.Equal(t, "job-test", result.JobID)
	assert.InDelta(t, 20.0, result.DurationSec, 1e-9)
	assert.NotEmpty(t, result.Transcript)
}

func TestRunWritesCheckpointsAfterDatabaseRows(t *testing.T) {
	rig := newTestRig(t)

	require.Equal(t, ExitOK, rig.run(t, Options{}))

	jobDir := rig.settings.JobDir("job-test")
	for idx := 0; idx < 2; idx++ {
		data, err := os.ReadFile(datastore.ChunkCheckpointPath(jobDir, idx))
		require.NoError(t, err)
		var checkpoint datastore.ChunkCheckpoint
		require.NoError(t, json.Unmarshal(data, &checkpoint))
		assert.Equal(t, "job-test", checkpoint.JobID)
		assert.Equal(t, idx, checkpoint.ChunkIndex)
		assert.Equal(t, datastore.EngineOpenAI, checkpoint.Engine)
		assert.NotEmpty(t, checkpoint.Segments)
	}

	result, err := datastore.ReadJobResult(datastore.ResultPath(jobDir))
	require.NoError(t, err)
	assert.Equal(t, "job-test", result.JobID)
}

func TestRunGlobalizesChunkLocalSegments(t *testing.T) {
	rig := newTestRig(t)

	require.Equal(t, ExitOK, rig.run(t, Options{}))

	chunks, err := rig.store.ListChunks("job-test")
	require.NoError(t, err)
	transcript, err := chunks[1].Transcript()
	require.NoError(t, err)
	require.NotEmpty(t, transcript)
	// chunk 1 starts at 8.5, so its first local segment [0,2) lands at 8.5
	assert.InDelta(t, 8.5, transcript[0].StartSec, 1e-9)
	assert.InDelta(t, 10.5, transcript[0].EndSec, 1e-9)
}

func TestRunFallsBackWhenRemoteFails(t *testing.T) {
	rig := newTestRig(t)
	rig.remote.fn = func(string) (*engine.Result, error) {
		return nil, &engine.RemoteError{Attempts: 5, Err: fmt.Errorf("request timed out")}
	}
	rig.fallback.fn = func(string) ([]engine.Segment, engine.Quality, error) {
		return []engine.Segment{
			{StartSec: 0, EndSec: 2, Speaker: "speaker_0", Text: "Hvad skete der så?"},
			{StartSec: 2, EndSec: 5, Speaker: "speaker_1", Text: "Vi måtte starte forfra."},
		}, engine.Quality{Coverage: 0.93, SpeakerCount: 2, Passed: true}, nil
	}

	require.Equal(t, ExitOK, rig.run(t, Options{}))

	chunks, err := rig.store.ListChunks("job-test")
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, datastore.EngineFallback, c.Engine)
		// fallback segments carry no confidences; the stored chunk
		// confidence is the diarization coverage
		require.NotNil(t, c.Confidence)
		assert.InDelta(t, 0.93, *c.Confidence, 1e-9)
	}

	progress := rig.eventsOfType(t, events.KindProgress)
	var sawFallbackNotice bool
	for _, raw := range progress {
		var p events.Progress
		require.NoError(t, json.Unmarshal(raw, &p))
		if p.Status == datastore.JobTranscribingFallback {
			sawFallbackNotice = true
			assert.Contains(t, p.Message, "prøver lokal fallback")
		}
	}
	assert.True(t, sawFallbackNotice)
}

func TestRunStoresCoverageAsFallbackConfidence(t *testing.T) {
	rig := newTestRig(t)
	rig.remote.fn = func(string) (*engine.Result, error) {
		return nil, &engine.RemoteError{Attempts: 5, Err: fmt.Errorf("request timed out")}
	}
	conf90 := 0.9
	rig.fallback.fn = func(string) ([]engine.Segment, engine.Quality, error) {
		return []engine.Segment{
			{StartSec: 0, EndSec: 3, Speaker: "speaker_0", Text: "Hvor længe har du arbejdet her?", Confidence: &conf90},
		}, engine.Quality{Coverage: 0.87, SpeakerCount: 2, Passed: true}, nil
	}

	require.Equal(t, ExitOK, rig.run(t, Options{}))

	chunks, err := rig.store.ListChunks("job-test")
	require.NoError(t, err)
	for _, c := range chunks {
		require.NotNil(t, c.Confidence)
		assert.InDelta(t, 0.87, *c.Confidence, 1e-9)
	}
}

func TestRunPausesWhenFallbackCannotSeparateSpeakers(t *testing.T) {
	rig := newTestRig(t)
	rig.remote.fn = func(string) (*engine.Result, error) {
		return nil, &engine.RemoteError{Attempts: 5, Err: fmt.Errorf("service unavailable")}
	}
	rig.fallback.fn = func(string) ([]engine.Segment, engine.Quality, error) {
		quality := engine.Quality{Coverage: 0.4, SpeakerCount: 1}
		return nil, quality, &engine.LowConfidenceError{Quality: quality}
	}

	code := rig.run(t, Options{})
	require.Equal(t, ExitPaused, code)

	job, err := rig.store.GetJob("job-test")
	require.NoError(t, err)
	assert.Equal(t, datastore.JobPausedRetryOpenAI, job.Status)

	chunks, err := rig.store.ListChunks("job-test")
	require.NoError(t, err)
	assert.Equal(t, datastore.ChunkPausedRetryOpenAI, chunks[0].Status)

	paused := rig.eventsOfType(t, events.KindPaused)
	require.Len(t, paused, 1)
	var p events.Progress
	require.NoError(t, json.Unmarshal(paused[0], &p))
	assert.Contains(t, p.Message, "Genoptag når OpenAI API er tilgængelig igen")
}

func TestRunPausesWhenFallbackReturnsNoSegments(t *testing.T) {
	rig := newTestRig(t)
	rig.remote.fn = func(string) (*engine.Result, error) {
		return nil, &engine.RemoteError{Attempts: 5, Err: fmt.Errorf("service unavailable")}
	}
	rig.fallback.fn = func(string) ([]engine.Segment, engine.Quality, error) {
		return nil, engine.Quality{}, &engine.EmptyResultError{}
	}

	require.Equal(t, ExitPaused, rig.run(t, Options{}))

	job, err := rig.store.GetJob("job-test")
	require.NoError(t, err)
	assert.Equal(t, datastore.JobPausedRetryOpenAI, job.Status)
}

func TestRunFailsWhenBothEnginesFail(t *testing.T) {
	rig := newTestRig(t)
	rig.remote.fn = func(string) (*engine.Result, error) {
		return nil, &engine.RemoteError{Attempts: 5, Err: fmt.Errorf("boom")}
	}

	code := rig.run(t, Options{})
	require.Equal(t, ExitFailed, code)

	job, err := rig.store.GetJob("job-test")
	require.NoError(t, err)
	assert.Equal(t, datastore.JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "fejlede i både OpenAI og fallback")

	errs := rig.eventsOfType(t, events.KindError)
	require.Len(t, errs, 1)
}

func TestRunResumeSkipsFinishedChunks(t *testing.T) {
	rig := newTestRig(t)
	rig.remote.fn = func(string) (*engine.Result, error) {
		return nil, &engine.RemoteError{Attempts: 5, Err: fmt.Errorf("unavailable")}
	}
	rig.fallback.fn = func(string) ([]engine.Segment, engine.Quality, error) {
		quality := engine.Quality{Coverage: 0.4, SpeakerCount: 1}
		return nil, quality, &engine.LowConfidenceError{Quality: quality}
	}
	require.Equal(t, ExitPaused, rig.run(t, Options{}))

	// The remote engine recovers; resume must retry only the unfinished
	// chunks.
	rig.remote.mu.Lock()
	rig.remote.calls = 0
	rig.remote.mu.Unlock()
	rig.remote.fn = func(string) (*engine.Result, error) {
		return &engine.Result{Segments: []engine.Segment{
			{StartSec: 0, EndSec: 2, Speaker: "speaker_0", Text: "Hvor var vi nået til?"},
			{StartSec: 2, EndSec: 4, Speaker: "speaker_1", Text: "Vi var ved projektets start."},
		}}, nil
	}

	code := rig.run(t, Options{JobID: "job-test", Resume: true})
	require.Equal(t, ExitOK, code)
	assert.Equal(t, 2, rig.remote.callCount())

	job, err := rig.store.GetJob("job-test")
	require.NoError(t, err)
	assert.Equal(t, datastore.JobReady, job.Status)
	assert.Empty(t, job.ErrorMessage)
}

func TestRunResumeRerendersMissingChunkFiles(t *testing.T) {
	rig := newTestRig(t)
	rig.remote.fn = func(string) (*engine.Result, error) {
		return nil, &engine.RemoteError{Attempts: 5, Err: fmt.Errorf("unavailable")}
	}
	rig.fallback.fn = func(string) ([]engine.Segment, engine.Quality, error) {
		return nil, engine.Quality{}, &engine.EmptyResultError{}
	}
	require.Equal(t, ExitPaused, rig.run(t, Options{}))

	require.NoError(t, os.RemoveAll(filepath.Join(rig.settings.JobDir("job-test"), "chunks")))

	rig.remote.fn = func(string) (*engine.Result, error) {
		return &engine.Result{Segments: []engine.Segment{
			{StartSec: 0, EndSec: 2, Speaker: "speaker_0", Text: "Skal vi fortsætte?"},
			{StartSec: 2, EndSec: 4, Speaker: "speaker_1", Text: "Ja, lad os det."},
		}}, nil
	}

	require.Equal(t, ExitOK, rig.run(t, Options{JobID: "job-test", Resume: true}))
	assert.Positive(t, rig.planner.renderCalls)
}

func TestRunResumeUnknownJobFails(t *testing.T) {
	rig := newTestRig(t)

	code := rig.run(t, Options{JobID: "no-such-job", Resume: true})
	require.Equal(t, ExitFailed, code)

	errs := rig.eventsOfType(t, events.KindError)
	require.Len(t, errs, 1)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0], &payload))
	assert.Equal(t, "Job findes ikke til resume", payload.Message)
}

func TestRunMissingSourceFails(t *testing.T) {
	rig := newTestRig(t)

	code := rig.run(t, Options{Source: filepath.Join(t.TempDir(), "missing.m4a")})
	require.Equal(t, ExitFailed, code)

	errs := rig.eventsOfType(t, events.KindError)
	require.Len(t, errs, 1)
	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(errs[0], &payload))
	assert.Contains(t, payload.Message, "Kildedata findes ikke")
}

func TestRunResumeMissingSourceMarksJobFailed(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, rig.store.CreateJob(&datastore.Job{
		ID:         "job-gone",
		SourcePath: filepath.Join(t.TempDir(), "gone.m4a"),
		Status:     datastore.JobPausedRetryOpenAI,
	}))

	code := rig.run(t, Options{JobID: "job-gone", Resume: true})
	require.Equal(t, ExitFailed, code)

	job, err := rig.store.GetJob("job-gone")
	require.NoError(t, err)
	assert.Equal(t, datastore.JobFailed, job.Status)
	assert.Equal(t, "Source fil mangler", job.ErrorMessage)
}

func TestRunCancelledContextPausesJob(t *testing.T) {
	rig := newTestRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := rig.driver.Run(ctx, Options{Source: rig.source})
	require.Equal(t, ExitPaused, code)

	job, err := rig.store.GetJob("job-test")
	require.NoError(t, err)
	assert.Equal(t, datastore.JobPausedRetryOpenAI, job.Status)
	assert.Zero(t, rig.remote.callCount())
}

func TestRunProgressPercentsFollowPipelineStages(t *testing.T) {
	rig := newTestRig(t)

	require.Equal(t, ExitOK, rig.run(t, Options{}))

	var percents []float64
	var messages []string
	for _, raw := range rig.eventsOfType(t, events.KindProgress) {
		var p events.Progress
		require.NoError(t, json.Unmarshal(raw, &p))
		percents = append(percents, p.Percent)
		messages = append(messages, p.Message)
	}
	require.NotEmpty(t, percents)
	assert.InDelta(t, 3, percents[0], 1e-9)
	assert.Contains(t, messages[0], "Forbereder lyd")
	// chunk completions: 10 + done/total*80 with total=2
	assert.InDelta(t, 50, percents[1], 1e-9)
	assert.InDelta(t, 90, percents[2], 1e-9)
	assert.InDelta(t, 94, percents[3], 1e-9)
	assert.Contains(t, messages[3], "Sammenfletter segmenter")
}
