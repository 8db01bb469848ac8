package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON extracts the first JSON object from model output, tolerating
// code fences and chatter around it, and decodes it into v.
func DecodeJSON(text string, v any) error {
	raw := ExtractJSONObject(StripCodeFence(text))
	if raw == "" {
		return fmt.Errorf("llm: no json object in completion")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("llm: decode json completion: %w", err)
	}
	return nil
}

func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// ExtractJSONObject returns the outermost {...} span, or "" when absent.
func ExtractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return ""
}
