package merge

// The token sets below come from reviewing real Danish interview
// transcripts; they are matched on normalized text only.

// backchannels are short confirming utterances that carry no content.
var backchannels = map[string]struct{}{
	"ja":               {},
	"jo":               {},
	"nej":              {},
	"ok":               {},
	"okay":             {},
	"nå":               {},
	"nåh":              {},
	"mhm":              {},
	"mm":               {},
	"mmm":              {},
	"klart":            {},
	"fedt":             {},
	"præcis":           {},
	"super":            {},
	"tak":              {},
	"det gør jeg":      {},
	"det vil jeg gøre": {},
	"ja okay":          {},
	"ja ja":            {},
	"nej nej":          {},
}

// fillerTokens are stripped word-by-word before any other filtering.
var fillerTokens = map[string]struct{}{
	"øh":  {},
	"øhm": {},
	"øhh": {},
	"eh":  {},
	"hmm": {},
}

// technicalMetaKeywords mark call-logistics chatter (microphones, screen
// sharing, connection trouble). Matched as substrings on short utterances.
var technicalMetaKeywords = []string{
	"kan du høre",
	"hører mig",
	"høre mig",
	"lyden",
	"mikrofon",
	"kamera",
	"dele skærm",
	"del skærm",
	"skærm",
	"link",
	"chat",
	"chatten",
	"nettet",
	"internet",
	"forbindelse",
	"hakker",
	"langsom",
	"opkald",
	"teams",
	"zoom",
	"kan ikke åbne",
	"kan ikke se",
	"driller",
}

// technicalMetaStrongKeywords are unambiguous enough to drop even from
// longer utterances.
var technicalMetaStrongKeywords = []string{
	"kan du prøve at gentage",
	"kan du gentage",
	"kan du se min skærm",
	"kan du se den nu",
	"er det mig igen",
	"løber tør for strøm",
	"deler skærm",
}

const (
	shortBackchannelMaxWords    = 2
	technicalMetaMaxWords       = 10
	technicalMetaStrongMaxWords = 20
	interruptionMaxWords        = 3
	interruptionMaxGapSec       = 8.0
	speakerRunMergeMaxGapSec    = 10.0
)
