package engine

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
)

const testBaseURL = "https://openai.test/v1"

func newTestEngine(t *testing.T, maxRetries int) *RemoteEngine {
	t.Helper()

	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	settings := &conf.Settings{
		OpenAI: conf.OpenAISettings{
			APIKey:            "test-key",
			BaseURL:           testBaseURL,
			DiarizeModel:      "diarize-model",
			TranscribeModel:   "verbose-model",
			Language:          "da",
			RequestTimeoutSec: 5,
			MaxRetries:        maxRetries,
		},
	}
	e := NewRemoteEngine(settings, httpClient)
	e.sleep = func(context.Context, float64) error { return nil }
	return e
}

func writeTestWav(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunk_0000.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF fake audio"), 0o644))
	return path
}

// recordedCall captures the form fields each responder saw, so tests can
// assert on the negotiation sequence.
type recordedCall struct {
	model          string
	responseFormat string
}

// transcriptionResponder dispatches on the multipart "model" field: both
// the hand-built diarization call and the client library's verbose call hit
// the same endpoint.
func transcriptionResponder(t *testing.T, calls *[]recordedCall, mu *sync.Mutex,
	diarize, verbose func(call int) (*http.Response, error)) httpmock.Responder {
	t.Helper()
	diarizeCalls := 0
	verboseCalls := 0
	return func(req *http.Request) (*http.Response, error) {
		require.NoError(t, req.ParseMultipartForm(1<<20))
		call := recordedCall{
			model:          req.FormValue("model"),
			responseFormat: req.FormValue("response_format"),
		}
		mu.Lock()
		*calls = append(*calls, call)
		mu.Unlock()
		if call.model == "diarize-model" {
			diarizeCalls++
			return diarize(diarizeCalls)
		}
		verboseCalls++
		return verbose(verboseCalls)
	}
}

func jsonResponse(status int, body string) (*http.Response, error) {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

const diarizedBody = `{"segments":[
	{"start":0.0,"end":2.5,"speaker":"speaker_0","text":"Hvordan begyndte du i faget?"},
	{"start":2.5,"end":6.0,"speaker":"speaker_1","text":"Jeg startede som vikar i 2019."}
]}`

const verboseBody = `{"task":"transcribe","language":"da","duration":6.0,
	"text":"Hvordan begyndte du i faget? Jeg startede som vikar i 2019.",
	"segments":[
		{"id":0,"start":0.0,"end":2.5,"text":" Hvordan begyndte du i faget?","avg_logprob":-0.105},
		{"id":1,"start":2.5,"end":6.0,"text":" Jeg startede som vikar i 2019.","avg_logprob":-0.223}
	]}`

const formatRejectionBody = `{"error":{"message":"Invalid value for response_format",` +
	`"type":"invalid_request_error","code":"unsupported_value","param":"response_format"}}`

func TestTranscribeChunkMergesDiarizationWithVerboseText(t *testing.T) {
	e := newTestEngine(t, 1)
	var calls []recordedCall
	var mu sync.Mutex
	httpmock.RegisterResponder("POST", testBaseURL+"/audio/transcriptions",
		transcriptionResponder(t, &calls, &mu,
			func(int) (*http.Response, error) { return jsonResponse(200, diarizedBody) },
			func(int) (*http.Response, error) { return jsonResponse(200, verboseBody) },
		))

	result, err := e.TranscribeChunk(context.Background(), writeTestWav(t))
	require.NoError(t, err)
	require.Len(t, result.Segments, 2)

	// verbose text carries the timing, diarization the speakers
	assert.Equal(t, "speaker_0", result.Segments[0].Speaker)
	assert.Equal(t, "Hvordan begyndte du i faget?", result.Segments[0].Text)
	assert.Equal(t, "speaker_1", result.Segments[1].Speaker)

	require.NotNil(t, result.Segments[0].Confidence)
	assert.InDelta(t, math.Exp(-0.105), *result.Segments[0].Confidence, 1e-9)
	require.NotNil(t, result.AvgConfidence)
	assert.InDelta(t, (math.Exp(-0.105)+math.Exp(-0.223))/2, *result.AvgConfidence, 1e-9)

	require.Len(t, calls, 2)
	assert.Equal(t, "diarized_json", calls[0].responseFormat)
	assert.Equal(t, "diarize-model", calls[0].model)
	assert.Equal(t, "verbose-model", calls[1].model)
}

func TestTranscribeChunkDowngradesDiarizedFormatOnRejection(t *testing.T) {
	e := newTestEngine(t, 1)
	var calls []recordedCall
	var mu sync.Mutex
	httpmock.RegisterResponder("POST", testBaseURL+"/audio/transcriptions",
		transcriptionResponder(t, &calls, &mu,
			func(call int) (*http.Response, error) {
				if call == 1 {
					return jsonResponse(400, formatRejectionBody)
				}
				return jsonResponse(200, diarizedBody)
			},
			func(int) (*http.Response, error) { return jsonResponse(200, verboseBody) },
		))

	result, err := e.TranscribeChunk(context.Background(), writeTestWav(t))
	require.NoError(t, err)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "speaker_1", result.Segments[1].Speaker)

	require.Len(t, calls, 3)
	assert.Equal(t, "diarized_json", calls[0].responseFormat)
	assert.Equal(t, "json", calls[1].responseFormat)
}

func TestTranscribeChunkRetriesPreferredFormatOnNextAttempt(t *testing.T) {
	e := newTestEngine(t, 2)
	var calls []recordedCall
	var mu sync.Mutex
	httpmock.RegisterResponder("POST", testBaseURL+"/audio/transcriptions",
		transcriptionResponder(t, &calls, &mu,
			func(call int) (*http.Response, error) {
				switch call {
				case 1:
					// attempt one: diarized_json rejected...
					return jsonResponse(400, formatRejectionBody)
				case 2:
					// ...and the downgraded json call fails transiently
					return jsonResponse(500, `{"error":{"message":"bad gateway"}}`)
				default:
					return jsonResponse(200, diarizedBody)
				}
			},
			func(int) (*http.Response, error) { return jsonResponse(200, verboseBody) },
		))

	result, err := e.TranscribeChunk(context.Background(), writeTestWav(t))
	require.NoError(t, err)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "speaker_1", result.Segments[1].Speaker)

	// attempt two must start over with diarized_json
	require.Len(t, calls, 4)
	assert.Equal(t, "diarized_json", calls[0].responseFormat)
	assert.Equal(t, "json", calls[1].responseFormat)
	assert.Equal(t, "diarized_json", calls[2].responseFormat)
	assert.Equal(t, "verbose-model", calls[3].model)
}

func TestTranscribeChunkSkipsDiarizationWhenBothFormatsRejected(t *testing.T) {
	e := newTestEngine(t, 1)
	var calls []recordedCall
	var mu sync.Mutex
	httpmock.RegisterResponder("POST", testBaseURL+"/audio/transcriptions",
		transcriptionResponder(t, &calls, &mu,
			func(int) (*http.Response, error) { return jsonResponse(400, formatRejectionBody) },
			func(int) (*http.Response, error) { return jsonResponse(200, verboseBody) },
		))

	result, err := e.TranscribeChunk(context.Background(), writeTestWav(t))
	require.NoError(t, err)
	require.Len(t, result.Segments, 2)
	// without diarization the verbose default speaker stands
	assert.Equal(t, defaultSpeaker, result.Segments[0].Speaker)
	assert.Equal(t, defaultSpeaker, result.Segments[1].Speaker)
}

func TestTranscribeChunkRetriesTransientFailures(t *testing.T) {
	e := newTestEngine(t, 2)
	var calls []recordedCall
	var mu sync.Mutex
	httpmock.RegisterResponder("POST", testBaseURL+"/audio/transcriptions",
		transcriptionResponder(t, &calls, &mu,
			func(call int) (*http.Response, error) {
				if call == 1 {
					return jsonResponse(500, `{"error":{"message":"internal error"}}`)
				}
				return jsonResponse(200, diarizedBody)
			},
			func(int) (*http.Response, error) { return jsonResponse(200, verboseBody) },
		))

	result, err := e.TranscribeChunk(context.Background(), writeTestWav(t))
	require.NoError(t, err)
	assert.Len(t, result.Segments, 2)
	// failed diarize on attempt one, then diarize + verbose on attempt two
	assert.Len(t, calls, 3)
}

func TestTranscribeChunkExhaustsRetries(t *testing.T) {
	e := newTestEngine(t, 2)
	var calls []recordedCall
	var mu sync.Mutex
	httpmock.RegisterResponder("POST", testBaseURL+"/audio/transcriptions",
		transcriptionResponder(t, &calls, &mu,
			func(int) (*http.Response, error) {
				return jsonResponse(500, `{"error":{"message":"Request timed out"}}`)
			},
			func(int) (*http.Response, error) { return jsonResponse(200, verboseBody) },
		))

	result, err := e.TranscribeChunk(context.Background(), writeTestWav(t))
	require.Nil(t, result)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, 2, remoteErr.Attempts)
	assert.Contains(t, err.Error(), "efter 2 forsøg")
	assert.Contains(t, err.Error(), "timed out")
	assert.Len(t, calls, 2)
}

func TestTranscribeChunkStopsOnCancelledContext(t *testing.T) {
	e := newTestEngine(t, 5)
	calls := 0
	httpmock.RegisterResponder("POST", testBaseURL+"/audio/transcriptions",
		func(*http.Request) (*http.Response, error) {
			calls++
			return jsonResponse(500, `{"error":{"message":"internal error"}}`)
		})

	ctx, cancel := context.WithCancel(context.Background())
	e.sleep = func(ctx context.Context, _ float64) error {
		cancel()
		return ctx.Err()
	}

	_, err := e.TranscribeChunk(ctx, writeTestWav(t))
	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, 1, remoteErr.Attempts)
	assert.Equal(t, 1, calls)
}

func TestTranscribeChunkFallsBackToDiarizedTextWhenVerboseIsEmpty(t *testing.T) {
	e := newTestEngine(t, 1)
	var calls []recordedCall
	var mu sync.Mutex
	httpmock.RegisterResponder("POST", testBaseURL+"/audio/transcriptions",
		transcriptionResponder(t, &calls, &mu,
			func(int) (*http.Response, error) { return jsonResponse(200, diarizedBody) },
			func(int) (*http.Response, error) {
				return jsonResponse(200, `{"task":"transcribe","language":"da","duration":6.0,"text":"","segments":[]}`)
			},
		))

	result, err := e.TranscribeChunk(context.Background(), writeTestWav(t))
	require.NoError(t, err)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "Hvordan begyndte du i faget?", result.Segments[0].Text)
	assert.Equal(t, "speaker_0", result.Segments[0].Speaker)
}

func TestAvailable(t *testing.T) {
	e := newTestEngine(t, 1)
	assert.True(t, e.Available())
	e.apiKey = ""
	assert.False(t, e.Available())
}

func TestMergeSpeakersNearestTurnWinsWithoutOverlap(t *testing.T) {
	text := []Segment{{StartSec: 10, EndSec: 11, Text: "Ja."}}
	diarized := []Segment{
		{StartSec: 0, EndSec: 2, Speaker: "speaker_0"},
		{StartSec: 8, EndSec: 9.5, Speaker: "speaker_1"},
	}
	merged := mergeSpeakers(text, diarized)
	require.Len(t, merged, 1)
	assert.Equal(t, "speaker_1", merged[0].Speaker)
}

func TestRemoteErrorMessage(t *testing.T) {
	err := &RemoteError{Attempts: 5, Err: fmt.Errorf("connection refused")}
	assert.Equal(t, "OpenAI transskription fejlede efter 5 forsøg: connection refused", err.Error())
}
