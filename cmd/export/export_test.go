package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/datastore"
	"github.com/Jegerchristiank/transkriptor/internal/events"
	"github.com/Jegerchristiank/transkriptor/internal/export"
	"github.com/Jegerchristiank/transkriptor/internal/worker"
)

func seedReadyJob(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{DataDir: t.TempDir()}
	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.CreateJob(&datastore.Job{
		ID: "job-1", SourcePath: "/tmp/interview.m4a", SourceName: "interview.m4a",
		DurationSec: 120,
	}))
	require.NoError(t, store.SetFinalTranscript("job-1", []datastore.Utterance{
		{StartSec: 0, EndSec: 2, Speaker: "I", Text: "Hvordan endte du i branchen?"},
		{StartSec: 2, EndSec: 6, Speaker: "D", Text: "Gennem et studiejob."},
	}))
	return settings
}

func decodeEvent(t *testing.T, buf *bytes.Buffer) (string, json.RawMessage) {
	t.Helper()
	var line struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	return line.Type, line.Payload
}

func TestExportTxtEmitsFilePathResult(t *testing.T) {
	settings := seedReadyJob(t)
	output := filepath.Join(t.TempDir(), "interview.txt")

	var buf bytes.Buffer
	require.NoError(t, runExport(settings, events.NewEmitter(&buf), export.ExportTXT, "job-1", output))

	kind, payload := decodeEvent(t, &buf)
	require.Equal(t, "result", kind)

	var result map[string]string
	require.NoError(t, json.Unmarshal(payload, &result))
	assert.Equal(t, output, result["filePath"])

	written, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(written), "Gennem et studiejob.")
}

func TestExportUnknownJobEmitsErrorEvent(t *testing.T) {
	settings := seedReadyJob(t)

	var buf bytes.Buffer
	err := runExport(settings, events.NewEmitter(&buf), export.ExportTXT, "no-such-job",
		filepath.Join(t.TempDir(), "out.txt"))

	var exitErr *worker.ExitCodeError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, worker.ExitFailed, exitErr.Code)

	kind, payload := decodeEvent(t, &buf)
	assert.Equal(t, "error", kind)
	assert.Contains(t, string(payload), "Job findes ikke")
}
