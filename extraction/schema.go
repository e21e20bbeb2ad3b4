package extraction

// JSON Schema builders for the scoring LLM's structured-output
// contract. Small and composable, in the same style as a tool
// registry's input-schema builders.

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func stringEnumProperty(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

func integerProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
	}
}

func numberProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "number",
		"description": description,
	}
}

func arrayProperty(description string, itemType map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items":       itemType,
	}
}

// fragmentSchema is the object shape the scoring LLM must emit for one
// extracted fragment.
var fragmentSchema = objectSchema(map[string]interface{}{
	"content":   stringProperty("Short natural-language statement of what was recalled, under 200 characters."),
	"speaker":   stringEnumProperty("Who said or did the thing being recalled.", "user", "assistant"),
	"type":      stringEnumProperty("Category of recollection.", "event", "preference", "fact", "relationship"),
	"sentiment": stringEnumProperty("Emotional valence of the content.", "positive", "neutral", "negative"),
	"entities":  arrayProperty("Names, places, or organizations mentioned.", stringProperty("")),
	"topics":    arrayProperty("Topic tags for the fragment.", stringProperty("")),
	"importance_score": integerProperty(
		"Integer 1-10 rating how worth remembering this is: identity facts and commitments score high, small talk scores low.",
	),
	"confidence": numberProperty("Confidence in this extraction, 0.0-1.0."),
	"reasoning":  stringProperty("One sentence explaining the assigned importance_score."),
}, "content", "speaker", "type", "sentiment", "importance_score", "confidence", "reasoning")

// extractionResultSchema wraps fragmentSchema into the top-level tool
// input schema: a "fragments" array, possibly empty.
var extractionResultSchema = objectSchema(map[string]interface{}{
	"fragments": arrayProperty("Zero or more memory fragments extracted from the transcript.", fragmentSchema),
}, "fragments")

const extractionToolName = "record_memory_fragments"

const extractionSystemPrompt = `You are a memory extraction and scoring subsystem for a conversational assistant. You will be given a transcript excerpt tagged by speaker (user or assistant).

Extract zero or more discrete memory fragments: atomic facts, preferences, events, or relationships worth recalling in later conversations. Do not extract generic chit-chat, pleasantries, or anything with no lasting informational value.

For each fragment, assign:
- type: event, preference, fact, or relationship
- sentiment: positive, neutral, or negative
- importance_score: integer 1-10. Identity disclosures (name, occupation, age), explicit commitments made by the assistant, concrete advice, and emotional support should generally score higher than ordinary statements. Small talk should score low.
- confidence: how sure you are this is a genuine, extractable fragment.
- reasoning: one sentence justifying importance_score.

Call the record_memory_fragments tool exactly once with your result. If nothing is worth remembering, call it with an empty fragments array.`
