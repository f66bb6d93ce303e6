// Package merge post-processes the concatenated per-chunk transcripts into
// the final interview transcript: overlap dedupe, style-noise filtering,
// interruption removal, same-speaker run merging and Interviewer/Participant
// labeling.
package merge

import (
	"math"
	"sort"
	"strings"

	"github.com/Jegerchristiank/transkriptor/internal/datastore"
)

// overlapToleranceSec widens the overlap test in dedupe. Chunk seams shift
// segment boundaries by a few hundred milliseconds, so retransmissions of
// the same words rarely touch exactly.
const overlapToleranceSec = 0.25

// MergeAndLabel runs the full pipeline over utterances with raw speaker ids
// and returns the labeled transcript, every speaker "I" or "D".
func MergeAndLabel(utterances []datastore.Utterance, interviewerCount, participantCount int) []datastore.Utterance {
	deduped := DedupeSegments(utterances)
	filtered := FilterStyleNoise(deduped)
	return labelSpeakers(filtered, interviewerCount, participantCount)
}

// DedupeSegments removes the duplicated words the chunk overlap introduces.
// Segments repeating the previous text while overlapping it in time are
// folded into it; an overlapping same-speaker segment whose text extends the
// previous one replaces it as the longer retransmission.
func DedupeSegments(utterances []datastore.Utterance) []datastore.Utterance {
	ordered := sortByTime(utterances)
	var merged []datastore.Utterance

	for _, segment := range ordered {
		if strings.TrimSpace(segment.Text) == "" {
			continue
		}
		if len(merged) == 0 {
			merged = append(merged, segment)
			continue
		}

		previous := &merged[len(merged)-1]
		prevNorm := normalize(previous.Text)
		currNorm := normalize(segment.Text)
		overlapping := segment.StartSec <= previous.EndSec+overlapToleranceSec

		if overlapping && prevNorm == currNorm {
			previous.EndSec = math.Max(previous.EndSec, segment.EndSec)
			previous.Confidence = maxConfidence(previous.Confidence, segment.Confidence)
			continue
		}

		if overlapping && segment.Speaker == previous.Speaker && prevNorm != "" && currNorm != "" {
			if strings.HasPrefix(currNorm, prevNorm) {
				previous.Text = segment.Text
				previous.EndSec = math.Max(previous.EndSec, segment.EndSec)
				// a zero confidence counts as absent, like a missing one
				if segment.Confidence != nil && *segment.Confidence != 0 {
					previous.Confidence = segment.Confidence
				}
				continue
			}
			if strings.HasPrefix(prevNorm, currNorm) {
				continue
			}
		}

		merged = append(merged, segment)
	}
	return merged
}

// FilterStyleNoise strips filler tokens, drops backchannels and technical
// meta-chatter, removes interruption backchannels wedged between two
// utterances of the same other speaker, and merges consecutive same-speaker
// runs.
func FilterStyleNoise(utterances []datastore.Utterance) []datastore.Utterance {
	var filtered []datastore.Utterance
	for _, segment := range sortByTime(utterances) {
		cleaned := stripFillers(strings.TrimSpace(segment.Text))
		if cleaned == "" {
			continue
		}
		if isBackchannel(cleaned) || isTechnicalMeta(cleaned) {
			continue
		}
		segment.Text = cleaned
		filtered = append(filtered, segment)
	}

	filtered = removeInterruptions(filtered)
	return mergeSpeakerRuns(filtered)
}

// removeInterruptions drops short backchannels a listener drops into another
// speaker's flow, so the bookend utterances can merge into one run.
func removeInterruptions(segments []datastore.Utterance) []datastore.Utterance {
	if len(segments) < 3 {
		return segments
	}
	compacted := make([]datastore.Utterance, len(segments))
	copy(compacted, segments)

	for i := 1; i < len(compacted)-1; {
		previous := compacted[i-1]
		current := compacted[i]
		following := compacted[i+1]

		if wordCount(normalize(current.Text)) <= interruptionMaxWords &&
			isBackchannel(current.Text) &&
			previous.Speaker == following.Speaker &&
			previous.Speaker != current.Speaker &&
			current.StartSec-previous.EndSec <= interruptionMaxGapSec &&
			following.StartSec-current.EndSec <= interruptionMaxGapSec {
			compacted = append(compacted[:i], compacted[i+1:]...)
			continue
		}
		i++
	}
	return compacted
}

func mergeSpeakerRuns(segments []datastore.Utterance) []datastore.Utterance {
	var merged []datastore.Utterance
	for _, segment := range segments {
		if len(merged) == 0 {
			merged = append(merged, segment)
			continue
		}
		previous := &merged[len(merged)-1]
		if previous.Speaker == segment.Speaker && segment.StartSec-previous.EndSec <= speakerRunMergeMaxGapSec {
			previous.Text = strings.TrimSpace(previous.Text + " " + segment.Text)
			previous.EndSec = math.Max(previous.EndSec, segment.EndSec)
			previous.Confidence = maxConfidence(previous.Confidence, segment.Confidence)
			continue
		}
		merged = append(merged, segment)
	}
	return merged
}

func sortByTime(utterances []datastore.Utterance) []datastore.Utterance {
	ordered := make([]datastore.Utterance, len(utterances))
	copy(ordered, utterances)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].StartSec != ordered[j].StartSec {
			return ordered[i].StartSec < ordered[j].StartSec
		}
		return ordered[i].EndSec < ordered[j].EndSec
	})
	return ordered
}

// maxConfidence keeps the larger confidence. A nil incoming leaves the
// previous value alone; a nil previous counts as zero.
func maxConfidence(previous, incoming *float64) *float64 {
	if incoming == nil {
		return previous
	}
	base := 0.0
	if previous != nil {
		base = *previous
	}
	v := math.Max(base, *incoming)
	return &v
}
