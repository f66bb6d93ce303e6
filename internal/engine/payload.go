package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"
)

// ParseDiarizedPayload reads a transcription response body into segments.
// The diarized endpoint has shipped several shapes, so the reader is
// deliberately tolerant: entries live under "segments" or "utterances",
// times under "start"/"start_sec" and "end"/"end_sec", the speaker under
// "speaker", "speaker_id" or "speaker_label". A body that is a bare string,
// or an object carrying only "text", becomes a single zero-length segment.
// Unusable bodies yield nil.
func ParseDiarizedPayload(body []byte) []Segment {
	root, err := jason.NewValueFromBytes(body)
	if err != nil {
		return nil
	}
	if text, err := root.String(); err == nil {
		return textOnlySegments(text)
	}
	obj, err := root.Object()
	if err != nil {
		return nil
	}
	entries, err := obj.GetObjectArray("segments")
	if err != nil {
		entries, err = obj.GetObjectArray("utterances")
	}
	if err != nil {
		text, terr := obj.GetString("text")
		if terr != nil {
			return nil
		}
		return textOnlySegments(text)
	}

	segments := make([]Segment, 0, len(entries))
	for _, entry := range entries {
		start := numberField(entry, 0, "start", "start_sec")
		end := numberField(entry, start, "end", "end_sec")
		if end < start {
			end = start
		}
		text, _ := entry.GetString("text")
		segments = append(segments, Segment{
			StartSec:   start,
			EndSec:     end,
			Speaker:    speakerField(entry),
			Text:       strings.TrimSpace(text),
			Confidence: confidenceField(entry),
		})
	}
	return segments
}

func textOnlySegments(text string) []Segment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return []Segment{{Speaker: defaultSpeaker, Text: text}}
}

// numberField returns the first key that parses as a number, accepting
// numeric strings as well. Missing or unparsable keys yield the fallback.
func numberField(obj *jason.Object, fallback float64, keys ...string) float64 {
	for _, key := range keys {
		v, err := obj.GetValue(key)
		if err != nil {
			continue
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		if s, err := v.String(); err == nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
	}
	return fallback
}

func speakerField(obj *jason.Object) string {
	for _, key := range []string{"speaker", "speaker_id", "speaker_label"} {
		v, err := obj.GetValue(key)
		if err != nil {
			continue
		}
		if s, err := v.String(); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		if n, err := v.Int64(); err == nil {
			return fmt.Sprintf("speaker_%d", n)
		}
	}
	return defaultSpeaker
}

// confidenceField prefers the mean word confidence, then the segment's own
// "confidence" or "probability". Nil when the entry carries none of them.
func confidenceField(obj *jason.Object) *float64 {
	if words, err := obj.GetObjectArray("words"); err == nil && len(words) > 0 {
		var sum float64
		var n int
		for _, w := range words {
			if f, err := w.GetFloat64("confidence"); err == nil {
				sum += f
				n++
			}
		}
		if n > 0 {
			mean := clamp01(sum / float64(n))
			return &mean
		}
	}
	for _, key := range []string{"confidence", "probability"} {
		if f, err := obj.GetFloat64(key); err == nil {
			c := clamp01(f)
			return &c
		}
	}
	return nil
}

// apiErrorMessage extracts the message from an OpenAI error body, falling
// back to a trimmed raw snippet.
func apiErrorMessage(body []byte) string {
	if obj, err := jason.NewObjectFromBytes(body); err == nil {
		if msg, err := obj.GetString("error", "message"); err == nil && msg != "" {
			return msg
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
