// Package extraction implements the Extraction Engine: turning a
// conversation window into validated, scored MemoryFragments via a
// single structured-output call to the scoring LLM.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/nimlabs/memoria/core"
)

const scoringTemperature = 0.1

// Engine calls the scoring LLM on a conversation window and returns
// validated, corrected, threshold-filtered fragments.
type Engine struct {
	client  *anthropic.Client
	model   string
	timeout time.Duration
}

// New constructs an extraction Engine bound to client for model,
// bounding every scoring call at timeout.
func New(client *anthropic.Client, model string, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{client: client, model: model, timeout: timeout}
}

// rawFragment is the shape the scoring LLM emits per fragment, before
// coercion into core.MemoryFragment.
type rawFragment struct {
	Content         string   `json:"content"`
	Speaker         string   `json:"speaker"`
	Type            string   `json:"type"`
	Sentiment       string   `json:"sentiment"`
	Entities        []string `json:"entities"`
	Topics          []string `json:"topics"`
	ImportanceScore float64  `json:"importance_score"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
}

type rawExtraction struct {
	Fragments []rawFragment `json:"fragments"`
}

// Extract assembles a transcript from window, scores it via a single
// forced tool-use call, validates and corrects the result, and returns
// surviving fragments sorted by ImportanceScore descending. On any LLM
// or parse failure it returns (nil, nil): extraction failure never
// propagates as an error to the caller, it is only logged.
func (e *Engine) Extract(ctx context.Context, scope core.Scope, window []core.Message) ([]*core.MemoryFragment, error) {
	if len(window) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	transcript := assembleTranscript(window)

	raw, err := e.callScoringLLM(ctx, transcript)
	if err != nil {
		log.Printf("[EXTRACTION] scoring call failed for scope=%s: %v", scope.Key(), err)
		return nil, nil
	}

	fragments := make([]*core.MemoryFragment, 0, len(raw.Fragments))
	for i, rf := range raw.Fragments {
		f, ok := validateAndCoerce(scope, rf)
		if !ok {
			log.Printf("[EXTRACTION] dropping fragment #%d for scope=%s: schema violation", i, scope.Key())
			continue
		}
		applyCorrections(f)
		if !passesThreshold(f) {
			continue
		}
		fragments = append(fragments, f)
	}

	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].ImportanceScore > fragments[j].ImportanceScore
	})

	return fragments, nil
}

// assembleTranscript concatenates the window into a labeled transcript,
// one speaker-tagged line per message.
func assembleTranscript(window []core.Message) string {
	var b strings.Builder
	for _, m := range window {
		fmt.Fprintf(&b, "%s: %s\n", m.Speaker, m.Content)
	}
	return b.String()
}

func (e *Engine) callScoringLLM(ctx context.Context, transcript string) (*rawExtraction, error) {
	tool := anthropic.ToolUnionParamOfTool(toAnthropicSchema(extractionResultSchema), extractionToolName)
	tool.OfTool.Description = anthropic.String("Record the memory fragments extracted from the transcript.")

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(e.model),
		MaxTokens:   2048,
		Temperature: anthropic.Float(scoringTemperature),
		System: []anthropic.TextBlockParam{
			{Text: extractionSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(transcript)),
		},
		Tools: []anthropic.ToolUnionParam{tool},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: extractionToolName},
		},
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("scoring LLM call: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		data, err := json.Marshal(block.Input)
		if err != nil {
			return nil, fmt.Errorf("marshal tool input: %w", err)
		}
		var result rawExtraction
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("malformed extraction payload: %w", err)
		}
		return &result, nil
	}

	return nil, fmt.Errorf("scoring LLM response contained no tool_use block")
}

// toAnthropicSchema converts a generic JSON-schema map into the SDK's
// typed ToolInputSchemaParam wrapper.
func toAnthropicSchema(schema map[string]interface{}) anthropic.ToolInputSchemaParam {
	props, _ := schema["properties"].(map[string]interface{})
	return anthropic.ToolInputSchemaParam{
		Properties: props,
	}
}

// validateAndCoerce converts a rawFragment into a core.MemoryFragment,
// rejecting it on any schema violation: unknown enum values or empty
// content reject the whole fragment, not the whole response (a
// malformed *response* — unparsable JSON — is handled earlier in
// Extract by callScoringLLM's error path).
func validateAndCoerce(scope core.Scope, rf rawFragment) (*core.MemoryFragment, bool) {
	if strings.TrimSpace(rf.Content) == "" {
		return nil, false
	}
	speaker := core.Speaker(rf.Speaker)
	if !speaker.Valid() {
		return nil, false
	}
	fragType := core.FragmentType(rf.Type)
	if !fragType.Valid() {
		return nil, false
	}
	sentiment := core.Sentiment(rf.Sentiment)
	if !sentiment.Valid() {
		return nil, false
	}

	confidence := rf.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &core.MemoryFragment{
		Scope:           scope,
		Content:         rf.Content,
		Speaker:         speaker,
		Type:            fragType,
		Sentiment:       sentiment,
		Entities:        rf.Entities,
		Topics:          rf.Topics,
		ImportanceScore: core.ClampScore(int(rf.ImportanceScore)),
		Confidence:      confidence,
		Timestamp:       time.Now(),
		Metadata: map[string]string{
			"reasoning": rf.Reasoning,
			"source":    "extraction",
		},
	}, true
}
