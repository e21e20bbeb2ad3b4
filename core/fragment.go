package core

import "time"

// FragmentType classifies what kind of recollection a MemoryFragment
// represents.
type FragmentType string

const (
	FragmentEvent        FragmentType = "event"
	FragmentPreference   FragmentType = "preference"
	FragmentFact         FragmentType = "fact"
	FragmentRelationship FragmentType = "relationship"
)

func (t FragmentType) Valid() bool {
	switch t {
	case FragmentEvent, FragmentPreference, FragmentFact, FragmentRelationship:
		return true
	}
	return false
}

// Sentiment classifies the emotional valence of a fragment's content.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// MemoryFragment is a single atomic recollection extracted from
// conversation. Once inserted it is immutable: there is no update
// path, only insert, query, list, and scope-level delete.
type MemoryFragment struct {
	FragmentID      string
	Scope           Scope
	Content         string
	Speaker         Speaker
	Type            FragmentType
	Sentiment       Sentiment
	Entities        []string
	Topics          []string
	ImportanceScore int // integer, 1..10 inclusive
	Confidence      float64
	Timestamp       time.Time
	Metadata        map[string]string
	Embedding       []float32
}

// Validate checks the invariants a fragment must hold independent of
// storage: non-empty content, integral score in range, and legal enum
// variants. It does not check embedding dimensionality; that is a
// store-level concern checked against the bound adapter.
func (f *MemoryFragment) Validate() error {
	if f.Content == "" {
		return errEmptyContent
	}
	if f.ImportanceScore < 1 || f.ImportanceScore > 10 {
		return errScoreRange
	}
	if !f.Type.Valid() {
		return errInvalidType
	}
	if !f.Sentiment.Valid() {
		return errInvalidSentiment
	}
	if !f.Speaker.Valid() {
		return errInvalidSpeaker
	}
	return nil
}

// ClampScore coerces the score into the inclusive [1,10] range required
// by the extraction contract.
func ClampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

type fragmentError string

func (e fragmentError) Error() string { return string(e) }

const (
	errEmptyContent     fragmentError = "fragment content must not be empty"
	errScoreRange       fragmentError = "importance_score must be an integer in [1,10]"
	errInvalidType      fragmentError = "fragment type is not one of the enumerated variants"
	errInvalidSentiment fragmentError = "fragment sentiment is not one of the enumerated variants"
	errInvalidSpeaker   fragmentError = "fragment speaker is not one of the enumerated variants"
)
