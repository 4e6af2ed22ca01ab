package analyze

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/mguichard/adwatch/internal/database"
)

// ParseInsights parses an LLM response expected to hold a JSON array of
// per-ad verdicts, tolerating markdown fences and prose around the array.
func ParseInsights(text string) []database.AdInsight {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines) - 1
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.Join(lines[1:endIdx], "\n")
	}

	// Models sometimes wrap the array in commentary; keep the outermost array.
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		log.Printf("No JSON array in analysis response")
		return nil
	}
	text = text[start : end+1]

	var raw []map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		log.Printf("Failed to parse analysis response as JSON: %v", err)
		return nil
	}

	insights := make([]database.AdInsight, 0, len(raw))
	for _, item := range raw {
		id := getString(item, "id", "")
		if id == "" {
			continue
		}
		score := getFloat(item, "score", 0)
		if score < 1 {
			score = 1
		}
		if score > 10 {
			score = 10
		}
		insights = append(insights, database.AdInsight{
			ID:      id,
			Summary: getString(item, "resume", getString(item, "summary", "")),
			Score:   score,
			Tips:    getString(item, "conseil", getString(item, "tips", "")),
		})
	}
	return insights
}

func getString(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func getFloat(m map[string]any, key string, fallback float64) float64 {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case string:
			var parsed float64
			if err := json.Unmarshal([]byte(n), &parsed); err == nil {
				return parsed
			}
		}
	}
	return fallback
}
