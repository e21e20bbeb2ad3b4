package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nimlabs/memoria/core"
	"github.com/nimlabs/memoria/errs"
)

func TestSessionStatePushEvictsOldestPastCap(t *testing.T) {
	st := &sessionState{}
	for i := 0; i < bufferCap+10; i++ {
		st.push(core.Message{Content: "msg"})
	}
	if len(st.buffer) != bufferCap {
		t.Errorf("len(buffer) = %d, want %d", len(st.buffer), bufferCap)
	}
}

func TestSessionStateWindowReturnsTail(t *testing.T) {
	st := &sessionState{}
	for i := 0; i < 5; i++ {
		st.push(core.Message{Content: string(rune('a' + i))})
	}
	w := st.window(2)
	if len(w) != 2 {
		t.Fatalf("len(window) = %d, want 2", len(w))
	}
	if w[0].Content != "d" || w[1].Content != "e" {
		t.Errorf("window = %+v, want tail [d e]", w)
	}
}

func TestSessionStateWindowClampsToBufferLength(t *testing.T) {
	st := &sessionState{}
	st.push(core.Message{Content: "only"})
	w := st.window(10)
	if len(w) != 1 {
		t.Errorf("len(window) = %d, want 1 when requested width exceeds buffer", len(w))
	}
}

func TestAssemblePromptIncludesRoleAndMemoriesAndHistory(t *testing.T) {
	r := core.Role{SystemPrompt: "Be helpful."}
	fragments := []*core.MemoryFragment{
		{Speaker: core.SpeakerUser, Content: "likes tea"},
	}
	history := []core.Message{
		{Speaker: core.SpeakerUser, Content: "hi"},
		{Speaker: core.SpeakerAssistant, Content: "hello"},
	}
	prompt := assemblePrompt(r, fragments, history, "what do I like?")

	for _, want := range []string{"Be helpful.", "likes tea", "hi", "hello", "what do I like?"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestAssemblePromptOmitsMemoriesBlockWhenEmpty(t *testing.T) {
	r := core.Role{SystemPrompt: "Be helpful."}
	prompt := assemblePrompt(r, nil, nil, "hello")
	if strings.Contains(prompt, "Relevant memories:") {
		t.Error("should not render memories header when there are no fragments")
	}
}

func TestAssemblePromptTruncatesHistoryToTail(t *testing.T) {
	r := core.Role{SystemPrompt: "Be helpful."}
	var history []core.Message
	for i := 0; i < 20; i++ {
		history = append(history, core.Message{Speaker: core.SpeakerUser, Content: "old message"})
	}
	history = append(history, core.Message{Speaker: core.SpeakerUser, Content: "recent unique marker"})
	prompt := assemblePrompt(r, nil, history, "current question")
	if !strings.Contains(prompt, "recent unique marker") {
		t.Error("expected most recent history entry to survive truncation")
	}
}

func TestReplyErrorMapsDeadlineExceededToTimeout(t *testing.T) {
	err := replyError(context.DeadlineExceeded)
	if !errs.Is(err, errs.KindLLMTimeout) {
		t.Errorf("expected KindLLMTimeout, got %v", err)
	}
}

func TestReplyErrorMapsOtherErrorsToUnavailable(t *testing.T) {
	err := replyError(errors.New("connection refused"))
	if !errs.Is(err, errs.KindLLMUnavailable) {
		t.Errorf("expected KindLLMUnavailable, got %v", err)
	}
}

func TestSortFragmentsByScoreDescending(t *testing.T) {
	fragments := []*core.MemoryFragment{
		{FragmentID: "low", ImportanceScore: 2},
		{FragmentID: "high", ImportanceScore: 9},
		{FragmentID: "mid", ImportanceScore: 5},
	}
	SortFragmentsByScore(fragments)
	want := []string{"high", "mid", "low"}
	for i, w := range want {
		if fragments[i].FragmentID != w {
			t.Errorf("fragments[%d] = %q, want %q", i, fragments[i].FragmentID, w)
		}
	}
}

func TestSweepIdleSessionsRemovesOnlyStaleEntries(t *testing.T) {
	o := &Orchestrator{sessions: make(map[string]*sessionState)}
	o.sessions["fresh"] = &sessionState{lastTouched: time.Now()}
	o.sessions["stale"] = &sessionState{lastTouched: time.Now().Add(-time.Hour)}

	o.sweepIdleSessions()

	if _, ok := o.sessions["fresh"]; !ok {
		t.Error("fresh session should not be evicted")
	}
	if _, ok := o.sessions["stale"]; ok {
		t.Error("stale session should have been evicted")
	}
}

func TestGetOrCreateSessionStateReusesExisting(t *testing.T) {
	o := &Orchestrator{sessions: make(map[string]*sessionState)}
	a := o.getOrCreateSessionState("s1")
	b := o.getOrCreateSessionState("s1")
	if a != b {
		t.Error("expected the same sessionState pointer on repeated calls for the same id")
	}
}
