package merge

import (
	"math"
	"sort"
	"strings"

	"github.com/Jegerchristiank/transkriptor/internal/datastore"
)

// speakerStats accumulates the per-speaker signals interviewer inference
// scores on.
type speakerStats struct {
	firstStart     float64
	utteranceCount int
	questionCount  int
	totalWords     int
}

// interviewerSlots converts the expected interviewer/participant headcount
// into a number of raw speaker ids to label "I". At least one speaker is an
// interviewer and at least one is left as participant.
func interviewerSlots(uniqueSpeakers, interviewerCount, participantCount int) int {
	if uniqueSpeakers <= 1 {
		return 1
	}
	if interviewerCount < 1 {
		interviewerCount = 1
	}
	if participantCount < 1 {
		participantCount = 1
	}
	scaled := int(math.Round(float64(uniqueSpeakers*interviewerCount) / float64(interviewerCount+participantCount)))
	if scaled < 1 {
		scaled = 1
	}
	if maxSlots := uniqueSpeakers - 1; scaled > maxSlots {
		scaled = maxSlots
	}
	return scaled
}

// inferInterviewers picks the raw speaker ids acting as interviewers.
// Interviewers ask questions, speak early and keep their turns short, so the
// score weighs question density highest, then an early-start bonus and a
// brevity bonus. Ties break on earliest first utterance.
func inferInterviewers(ordered []datastore.Utterance, interviewerCount, participantCount int) map[string]struct{} {
	if len(ordered) == 0 {
		return map[string]struct{}{"speaker_0": {}}
	}

	stats := make(map[string]*speakerStats)
	var speakerOrder []string
	for _, segment := range ordered {
		id := segment.Speaker
		if id == "" {
			id = "speaker_0"
		}
		s, seen := stats[id]
		if !seen {
			s = &speakerStats{firstStart: segment.StartSec}
			stats[id] = s
			speakerOrder = append(speakerOrder, id)
		}
		s.utteranceCount++
		s.totalWords += wordCount(normalize(segment.Text))
		if strings.Contains(segment.Text, "?") {
			s.questionCount++
		}
	}

	if len(stats) <= 1 {
		return map[string]struct{}{speakerOrder[0]: {}}
	}

	slots := interviewerSlots(len(stats), interviewerCount, participantCount)

	type scoredSpeaker struct {
		id         string
		score      float64
		firstStart float64
	}
	scored := make([]scoredSpeaker, 0, len(speakerOrder))
	for _, id := range speakerOrder {
		s := stats[id]
		utterances := float64(s.utteranceCount)
		if utterances < 1 {
			utterances = 1
		}
		avgWords := float64(s.totalWords) / utterances
		questionDensity := float64(s.questionCount) / utterances
		startBonus := math.Max(0, 1-math.Min(s.firstStart, 120)/120)
		brevityBonus := 1 / math.Max(1, avgWords)
		scored = append(scored, scoredSpeaker{
			id:         id,
			score:      questionDensity*3 + startBonus + brevityBonus*2,
			firstStart: s.firstStart,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].firstStart < scored[j].firstStart
	})

	picked := make(map[string]struct{}, slots)
	for _, s := range scored[:slots] {
		picked[s.id] = struct{}{}
	}
	return picked
}

// labelSpeakers maps raw speaker ids to "I"/"D" and normalizes the output
// values: times to 3 decimals, confidence to 4, text trimmed.
func labelSpeakers(utterances []datastore.Utterance, interviewerCount, participantCount int) []datastore.Utterance {
	ordered := sortByTime(utterances)
	interviewers := inferInterviewers(ordered, interviewerCount, participantCount)

	labeled := make([]datastore.Utterance, 0, len(ordered))
	for _, segment := range ordered {
		raw := segment.Speaker
		if raw == "" {
			raw = "speaker_0"
		}
		speaker := "D"
		if _, ok := interviewers[raw]; ok {
			speaker = "I"
		}
		out := datastore.Utterance{
			StartSec: round3(segment.StartSec),
			EndSec:   round3(segment.EndSec),
			Speaker:  speaker,
			Text:     strings.TrimSpace(segment.Text),
		}
		if segment.Confidence != nil {
			c := round4(*segment.Confidence)
			out.Confidence = &c
		}
		labeled = append(labeled, out)
	}
	return labeled
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
