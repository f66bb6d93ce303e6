package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
)

const (
	defaultBaseURL       = "https://api.openai.com/v1"
	formatDiarizedJSON   = "diarized_json"
	formatJSON           = "json"
	chunkingStrategyAuto = "auto"
	defaultSpeaker       = "speaker_0"
)

// Result is one chunk's remote transcription outcome. AvgConfidence is the
// mean of the non-nil segment confidences, nil when no segment carries one.
type Result struct {
	Segments      []Segment
	AvgConfidence *float64
}

// RemoteEngine transcribes chunks through the OpenAI audio API. Each chunk
// takes two calls: a diarization call for speaker turns and a verbose ASR
// call for word-timed text. The diarization response format is negotiated
// down from diarized_json to json for providers that reject it.
//
// The diarization call is built by hand because the client library cannot
// express chunking_strategy or the diarized response format. The verbose
// call goes through the client library.
type RemoteEngine struct {
	client       *openai.Client
	httpClient   *http.Client
	apiKey       string
	baseURL      string
	diarizeModel string
	verboseModel string
	language     string
	maxRetries   int

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(ctx context.Context, seconds float64) error
}

// NewRemoteEngine builds a remote engine from settings. A nil httpClient
// gets a default one with the configured request timeout.
func NewRemoteEngine(settings *conf.Settings, httpClient *http.Client) *RemoteEngine {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: time.Duration(settings.OpenAI.RequestTimeoutSec) * time.Second,
		}
	}
	baseURL := strings.TrimRight(settings.OpenAI.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	clientConfig := openai.DefaultConfig(settings.OpenAI.APIKey)
	clientConfig.BaseURL = baseURL
	clientConfig.HTTPClient = httpClient

	return &RemoteEngine{
		client:       openai.NewClientWithConfig(clientConfig),
		httpClient:   httpClient,
		apiKey:       settings.OpenAI.APIKey,
		baseURL:      baseURL,
		diarizeModel: settings.OpenAI.DiarizeModel,
		verboseModel: settings.OpenAI.TranscribeModel,
		language:     settings.OpenAI.Language,
		maxRetries:   settings.OpenAI.MaxRetries,
		sleep:        sleepBackoff,
	}
}

// Available reports whether the engine has credentials to run at all.
func (e *RemoteEngine) Available() bool { return e.apiKey != "" }

// TranscribeChunk transcribes one rendered chunk, retrying transient
// failures with jittered exponential backoff. After maxRetries failed
// attempts it returns a RemoteError wrapping the last failure.
func (e *RemoteEngine) TranscribeChunk(ctx context.Context, wavPath string) (*Result, error) {
	backoff := initialBackoffSec
	var lastErr error

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		result, err := e.transcribeOnce(ctx, wavPath)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, &RemoteError{Attempts: attempt, Err: lastErr}
		}
		if attempt < e.maxRetries {
			if err := e.sleep(ctx, backoff); err != nil {
				return nil, &RemoteError{Attempts: attempt, Err: lastErr}
			}
			backoff = nextBackoff(backoff)
		}
	}
	return nil, &RemoteError{Attempts: e.maxRetries, Err: lastErr}
}

// transcribeOnce runs both remote calls and merges their output. Any error
// from either call fails the whole attempt so the retry loop replays both.
func (e *RemoteEngine) transcribeOnce(ctx context.Context, wavPath string) (*Result, error) {
	diarized, err := e.diarize(ctx, wavPath)
	if err != nil {
		return nil, err
	}
	verbose, err := e.verboseTranscribe(ctx, wavPath)
	if err != nil {
		return nil, err
	}

	text := nonEmptyText(verbose)
	if len(text) == 0 {
		text = nonEmptyText(diarized)
	}
	merged := mergeSpeakers(text, diarized)
	return &Result{Segments: merged, AvgConfidence: meanConfidence(merged)}, nil
}

// diarize calls the diarization endpoint, negotiating the response format.
// Every attempt tries diarized_json first, so a transient format rejection
// never degrades later attempts. When both formats are rejected the attempt
// skips diarization and returns nil segments without error.
func (e *RemoteEngine) diarize(ctx context.Context, wavPath string) ([]Segment, error) {
	for _, format := range []string{formatDiarizedJSON, formatJSON} {
		body, err := e.diarizeCall(ctx, wavPath, format)
		if err == nil {
			return ParseDiarizedPayload(body), nil
		}
		if !isFormatRejection(err) {
			return nil, err
		}
	}
	return nil, nil
}

func (e *RemoteEngine) diarizeCall(ctx context.Context, wavPath, format string) ([]byte, error) {
	audio, err := os.Open(wavPath)
	if err != nil {
		return nil, fmt.Errorf("open chunk: %w", err)
	}
	defer audio.Close()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, err
	}
	if err := form.WriteField("model", e.diarizeModel); err != nil {
		return nil, err
	}
	if err := form.WriteField("response_format", format); err != nil {
		return nil, err
	}
	if err := form.WriteField("chunking_strategy", chunkingStrategyAuto); err != nil {
		return nil, err
	}
	if e.language != "" {
		if err := form.WriteField("language", e.language); err != nil {
			return nil, err
		}
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: status %d: %s", resp.StatusCode, apiErrorMessage(body))
	}
	return body, nil
}

func isFormatRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "response_format") || strings.Contains(msg, "unsupported_value")
}

// verboseTranscribe fetches word-timed text. Confidence per segment is
// exp(avg_logprob) clamped to [0,1].
func (e *RemoteEngine) verboseTranscribe(ctx context.Context, wavPath string) ([]Segment, error) {
	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.verboseModel,
		FilePath: wavPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: e.language,
	})
	if err != nil {
		return nil, err
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for i := range resp.Segments {
		seg := resp.Segments[i]
		confidence := clamp01(math.Exp(seg.AvgLogprob))
		segments = append(segments, Segment{
			StartSec:   seg.Start,
			EndSec:     seg.End,
			Speaker:    defaultSpeaker,
			Text:       strings.TrimSpace(seg.Text),
			Confidence: &confidence,
		})
	}
	return segments, nil
}

func nonEmptyText(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for i := range segments {
		if segments[i].Text != "" {
			out = append(out, segments[i])
		}
	}
	return out
}

// mergeSpeakers assigns each text segment the speaker of the diarized turn
// it overlaps the most. Without any overlap the nearest turn by midpoint
// wins; without any diarization the speaker stays as-is.
func mergeSpeakers(text, diarized []Segment) []Segment {
	if len(text) == 0 {
		return []Segment{}
	}
	out := make([]Segment, len(text))
	copy(out, text)
	if len(diarized) == 0 {
		return out
	}
	for i := range out {
		out[i].Speaker = speakerFor(out[i], diarized)
	}
	return out
}

func speakerFor(seg Segment, diarized []Segment) string {
	best := ""
	bestOverlap := 0.0
	for i := range diarized {
		if o := overlap(seg.StartSec, seg.EndSec, diarized[i].StartSec, diarized[i].EndSec); o > bestOverlap {
			bestOverlap = o
			best = diarized[i].Speaker
		}
	}
	if best != "" {
		return best
	}

	mid := (seg.StartSec + seg.EndSec) / 2
	bestDist := math.MaxFloat64
	for i := range diarized {
		turnMid := (diarized[i].StartSec + diarized[i].EndSec) / 2
		if d := math.Abs(mid - turnMid); d < bestDist {
			bestDist = d
			best = diarized[i].Speaker
		}
	}
	if best == "" {
		return defaultSpeaker
	}
	return best
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := math.Max(aStart, bStart)
	end := math.Min(aEnd, bEnd)
	if end <= start {
		return 0
	}
	return end - start
}
