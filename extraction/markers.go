package extraction

import (
	"regexp"

	"github.com/nimlabs/memoria/core"
)

// Fixed marker set for the rule-based post-correction pass. Patterns
// are case-insensitive and checked as substring/regex matches against
// a fragment's content. This set is the scoring contract: changing it
// changes which fragments survive the differentiated threshold filter.
var (
	identityMarkers = regexp.MustCompile(`(?i)(我叫|我是一名|我是一个|我今年|我的工作是|i'?m a |i am a |my name is|i work as|i'?m \d+ years old)`)

	commitmentMarkers = regexp.MustCompile(`(?i)(我会一直|我保证|我承诺|i will always|i promise|i commit to)`)

	adviceMarkers = regexp.MustCompile(`(?i)(你应该|建议你|you should|i recommend|try to )`)

	supportMarkers = regexp.MustCompile(`(?i)(我理解你|别担心|i understand how you feel|i'?m here for you|it'?s okay to feel)`)

	quotationMarkers = regexp.MustCompile(`(?i)(你之前说|你说过|you said earlier|you mentioned)`)
)

// applyCorrections runs the ordered rule-based lifts against one
// fragment, mutating its ImportanceScore in place. Each rule only raises
// the score to its floor, never lowers it, so when several rules match
// the same fragment the highest matching floor wins.
func applyCorrections(f *core.MemoryFragment) {
	if f.Speaker == core.SpeakerUser && identityMarkers.MatchString(f.Content) {
		f.ImportanceScore = maxInt(f.ImportanceScore, 5)
	}
	if f.Speaker == core.SpeakerAssistant && commitmentMarkers.MatchString(f.Content) {
		f.ImportanceScore = maxInt(f.ImportanceScore, 7)
	}
	if f.Speaker == core.SpeakerAssistant && adviceMarkers.MatchString(f.Content) {
		f.ImportanceScore = maxInt(f.ImportanceScore, 5)
	}
	if f.Speaker == core.SpeakerAssistant && supportMarkers.MatchString(f.Content) {
		f.ImportanceScore = maxInt(f.ImportanceScore, 6)
	}
	if f.Speaker == core.SpeakerUser && quotationMarkers.MatchString(f.Content) {
		f.ImportanceScore = maxInt(f.ImportanceScore, 7)
	}
	f.ImportanceScore = core.ClampScore(f.ImportanceScore)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// passesThreshold applies the differentiated threshold filter: user
// fragments below 5 are dropped, assistant fragments below 3 are
// dropped.
func passesThreshold(f *core.MemoryFragment) bool {
	if f.Speaker == core.SpeakerUser {
		return f.ImportanceScore >= 5
	}
	return f.ImportanceScore >= 3
}
