// Package editor parses a user-edited plain-text transcript back into
// utterances. The editor shows one utterance per line as "I: ..." or
// "D: ..."; parsing is strict so a broken edit is reported with the exact
// line instead of silently producing a shifted transcript.
package editor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Jegerchristiank/transkriptor/internal/datastore"
)

var speakerPrefix = regexp.MustCompile(`^\s*([IiDd])\s*:\s*(.*)$`)

// Edited lines carry no timing, so utterances get synthetic non-overlapping
// windows: line i starts at 3i seconds and lasts one second.
const (
	segmentStartStep = 3.0
	segmentDuration  = 1.0
)

// ParseEditorText converts the edited text into a transcript. Confidences
// are carried over positionally from fallback, the transcript the edit was
// based on. Error messages are user-facing and name the offending line.
func ParseEditorText(text string, fallback []datastore.Utterance) ([]datastore.Utterance, error) {
	type parsedLine struct {
		speaker string
		body    string
	}
	var lines []parsedLine

	var rawLines []string
	if text != "" {
		rawLines = strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	}
	for index, rawLine := range rawLines {
		lineNumber := index + 1
		line := strings.ReplaceAll(rawLine, "\r", "")
		if strings.TrimSpace(line) == "" {
			return nil, fmt.Errorf(
				"Linje %d er tom. Tomme linjer er ikke tilladt; brug formatet 'I: ...' eller 'D: ...' på hver linje.",
				lineNumber)
		}

		match := speakerPrefix.FindStringSubmatch(line)
		if match == nil {
			return nil, fmt.Errorf(
				"Linje %d mangler taler-prefix. Hver ikke-tom linje skal starte med 'I:' eller 'D:'.",
				lineNumber)
		}

		body := strings.TrimSpace(match[2])
		if body == "" {
			return nil, fmt.Errorf(
				"Linje %d er tom efter taler-prefix. Brug formatet 'I: ...' eller 'D: ...'.",
				lineNumber)
		}
		lines = append(lines, parsedLine{speaker: strings.ToUpper(match[1]), body: body})
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("Ingen gyldige ytringer fundet. Brug formatet 'I: ...' eller 'D: ...'.")
	}

	utterances := make([]datastore.Utterance, 0, len(lines))
	for idx, line := range lines {
		startSec := float64(idx) * segmentStartStep
		u := datastore.Utterance{
			StartSec: startSec,
			EndSec:   startSec + segmentDuration,
			Speaker:  line.speaker,
			Text:     line.body,
		}
		if idx < len(fallback) && fallback[idx].Confidence != nil {
			c := *fallback[idx].Confidence
			u.Confidence = &c
		}
		utterances = append(utterances, u)
	}
	return utterances, nil
}
