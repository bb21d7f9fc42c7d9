package channel

import "strings"

// splitMessage cuts msg into chunks of at most maxLen runes, preferring a
// newline in the back half of each chunk as the cut point.
func splitMessage(msg string, maxLen int) []string {
	runes := []rune(msg)
	if maxLen <= 0 || len(runes) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}

		cut := maxLen
		window := string(runes[:maxLen])
		if idx := strings.LastIndex(window, "\n"); idx >= 0 {
			if r := len([]rune(window[:idx])); r > maxLen/2 {
				cut = r + 1
			}
		}

		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}
