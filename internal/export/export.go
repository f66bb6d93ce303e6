// Package export renders a ready job's transcript into the delivery formats
// the editor UI offers: plain text and a Word document.
package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Jegerchristiank/transkriptor/internal/datastore"
	"github.com/Jegerchristiank/transkriptor/internal/errors"
)

// lineEntry is one numbered transcript row. Blank utterances are skipped so
// numbering stays dense.
type lineEntry struct {
	Number  int
	Speaker string
	Text    string
}

func lineEntries(transcript []datastore.Utterance) []lineEntry {
	var entries []lineEntry
	number := 1
	for _, u := range transcript {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		speaker := u.Speaker
		if speaker == "" {
			speaker = "D"
		}
		entries = append(entries, lineEntry{Number: number, Speaker: speaker, Text: text})
		number++
	}
	return entries
}

// headerLines builds the document header shared by both formats.
func headerLines(job *datastore.Job) []string {
	durationMin := int(math.Round(job.DurationSec / 60))
	if durationMin < 1 {
		durationMin = 1
	}
	return []string{
		fmt.Sprintf("Navn på fil: \"%s\"", sourceLabel(job)),
		fmt.Sprintf("Dato: %s", headerDate(job)),
		fmt.Sprintf("Varighed: %d minutter", durationMin),
		"",
		"Deltagere:",
		"Interviewer (I)",
		"Deltager (D)",
		"",
	}
}

// headerDate formats the job's creation date as dd.mm.yyyy in local time,
// falling back to today when the stored timestamp does not parse.
func headerDate(job *datastore.Job) string {
	createdAt := strings.TrimSpace(job.CreatedAt)
	if createdAt != "" {
		if parsed, err := time.Parse(time.RFC3339, createdAt); err == nil {
			return parsed.Local().Format("02.01.2006")
		}
	}
	return time.Now().Format("02.01.2006")
}

// sourceLabel is the source file name without its extension.
func sourceLabel(job *datastore.Job) string {
	name := strings.TrimSpace(job.SourceName)
	if name == "" {
		name = filepath.Base(job.SourcePath)
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ExportTXT writes the transcript as UTF-8 text with the document header and
// one numbered, tab-indented row per utterance. It returns the absolute path
// of the written file.
func ExportTXT(job *datastore.Job, transcript []datastore.Utterance, outputPath string) (string, error) {
	lines := headerLines(job)
	for _, entry := range lineEntries(transcript) {
		lines = append(lines, fmt.Sprintf("%d\t%s: %s", entry.Number, entry.Speaker, entry.Text))
	}

	content := strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
	absPath, err := writeOut(outputPath, []byte(content))
	if err != nil {
		return "", errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			Context("format", "txt").
			Build()
	}
	return absPath, nil
}

func writeOut(outputPath string, data []byte) (string, error) {
	absPath, err := filepath.Abs(outputPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return "", err
	}
	return absPath, nil
}
