package telegram

import "strings"

const messageLimit = 4096

// SplitMessage breaks the text into chunks that respect Telegram's message
// size limit. Splits happen on newline boundaries whenever one exists in
// the chunk, and exactly the separating newline is consumed, so joining the
// chunks back with "\n" reproduces the original text.
func SplitMessage(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= messageLimit {
		return []string{text}
	}

	var parts []string
	start := 0
	for start < len(runes) {
		remaining := len(runes) - start
		if remaining <= messageLimit {
			parts = append(parts, string(runes[start:]))
			break
		}

		end := start + messageLimit
		cut := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				cut = i - 1
				break
			}
		}
		if cut <= start {
			// One unbroken line longer than the limit: hard split.
			parts = append(parts, string(runes[start:end]))
			start = end
			continue
		}
		parts = append(parts, string(runes[start:cut]))
		start = cut + 1
	}
	return parts
}
