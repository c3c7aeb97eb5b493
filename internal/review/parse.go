package review

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	// Matches ```json\n{...}\n```, ```{...}```, ``` json{...}``` and so on
	codeFenceRegex     = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	objectRegex        = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// parseJSON decodes a model reply, tolerating the usual formatting noise:
// code fences, trailing commas and prose around the object.
func parseJSON[T any](text string) (T, error) {
	var result T

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return result, fmt.Errorf("empty response")
	}

	candidates := []string{trimmed}
	if unfenced := removeCodeFences(trimmed); unfenced != trimmed {
		candidates = append(candidates, unfenced)
	}
	for _, c := range append([]string(nil), candidates...) {
		candidates = append(candidates, trailingCommaRegex.ReplaceAllString(c, "$1"))
	}
	if obj := objectRegex.FindString(trimmed); obj != "" {
		candidates = append(candidates, obj, trailingCommaRegex.ReplaceAllString(obj, "$1"))
	}

	var lastErr error
	for _, c := range candidates {
		var attempt T
		err := json.Unmarshal([]byte(c), &attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
	}
	return result, fmt.Errorf("failed to parse response as JSON: %w (response: %s)", lastErr, truncate(trimmed, 200))
}

func removeCodeFences(text string) string {
	cleaned := codeFenceRegex.ReplaceAllString(text, "$1")
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "`"), "`")
	}
	return strings.TrimSpace(cleaned)
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
