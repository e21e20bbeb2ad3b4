package core

import "testing"

func TestClampScore(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{-5, 1},
		{0, 1},
		{1, 1},
		{7, 7},
		{10, 10},
		{11, 10},
		{100, 10},
	}
	for _, c := range cases {
		if got := ClampScore(c.in); got != c.want {
			t.Errorf("ClampScore(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestMemoryFragmentValidate(t *testing.T) {
	valid := &MemoryFragment{
		Content:         "likes coffee",
		Speaker:         SpeakerUser,
		Type:            FragmentPreference,
		Sentiment:       SentimentPositive,
		ImportanceScore: 6,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid fragment, got %v", err)
	}

	cases := []struct {
		name string
		frag MemoryFragment
	}{
		{"empty content", MemoryFragment{Content: "", Speaker: SpeakerUser, Type: FragmentFact, Sentiment: SentimentNeutral, ImportanceScore: 5}},
		{"score too low", MemoryFragment{Content: "x", Speaker: SpeakerUser, Type: FragmentFact, Sentiment: SentimentNeutral, ImportanceScore: 0}},
		{"score too high", MemoryFragment{Content: "x", Speaker: SpeakerUser, Type: FragmentFact, Sentiment: SentimentNeutral, ImportanceScore: 11}},
		{"bad type", MemoryFragment{Content: "x", Speaker: SpeakerUser, Type: "bogus", Sentiment: SentimentNeutral, ImportanceScore: 5}},
		{"bad sentiment", MemoryFragment{Content: "x", Speaker: SpeakerUser, Type: FragmentFact, Sentiment: "bogus", ImportanceScore: 5}},
		{"bad speaker", MemoryFragment{Content: "x", Speaker: "bogus", Type: FragmentFact, Sentiment: SentimentNeutral, ImportanceScore: 5}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.frag.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFragmentTypeValid(t *testing.T) {
	for _, ft := range []FragmentType{FragmentEvent, FragmentPreference, FragmentFact, FragmentRelationship} {
		if !ft.Valid() {
			t.Errorf("%q should be valid", ft)
		}
	}
	if FragmentType("nonsense").Valid() {
		t.Error("nonsense should not be valid")
	}
}
