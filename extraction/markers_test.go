package extraction

import (
	"testing"

	"github.com/nimlabs/memoria/core"
)

func TestApplyCorrectionsIdentityLift(t *testing.T) {
	f := &core.MemoryFragment{
		Speaker:         core.SpeakerUser,
		Content:         "我叫张三，是一名软件工程师",
		ImportanceScore: 2,
	}
	applyCorrections(f)
	if f.ImportanceScore < 5 {
		t.Errorf("ImportanceScore = %d, want >= 5 after identity lift", f.ImportanceScore)
	}
}

func TestApplyCorrectionsCommitmentLift(t *testing.T) {
	f := &core.MemoryFragment{
		Speaker:         core.SpeakerAssistant,
		Content:         "我会一直陪着你",
		ImportanceScore: 2,
	}
	applyCorrections(f)
	if f.ImportanceScore < 7 {
		t.Errorf("ImportanceScore = %d, want >= 7 after commitment lift", f.ImportanceScore)
	}
}

func TestApplyCorrectionsDoesNotLowerScore(t *testing.T) {
	f := &core.MemoryFragment{
		Speaker:         core.SpeakerAssistant,
		Content:         "I promise to help",
		ImportanceScore: 9,
	}
	applyCorrections(f)
	if f.ImportanceScore != 9 {
		t.Errorf("ImportanceScore = %d, want unchanged 9 (lift never lowers)", f.ImportanceScore)
	}
}

func TestApplyCorrectionsWrongSpeakerNoLift(t *testing.T) {
	f := &core.MemoryFragment{
		Speaker:         core.SpeakerAssistant,
		Content:         "I'm a software engineer",
		ImportanceScore: 2,
	}
	applyCorrections(f)
	if f.ImportanceScore != 2 {
		t.Errorf("identity markers should only lift user fragments, got %d", f.ImportanceScore)
	}
}

func TestPassesThresholdDifferentiated(t *testing.T) {
	cases := []struct {
		speaker core.Speaker
		score   int
		want    bool
	}{
		{core.SpeakerUser, 4, false},
		{core.SpeakerUser, 5, true},
		{core.SpeakerAssistant, 2, false},
		{core.SpeakerAssistant, 3, true},
	}
	for _, c := range cases {
		f := &core.MemoryFragment{Speaker: c.speaker, ImportanceScore: c.score}
		if got := passesThreshold(f); got != c.want {
			t.Errorf("passesThreshold(speaker=%s, score=%d) = %v, want %v", c.speaker, c.score, got, c.want)
		}
	}
}
