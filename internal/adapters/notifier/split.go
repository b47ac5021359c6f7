package notifier

import (
	"strings"
	"unicode/utf8"
)

// telegramLimit — максимальная длина одного сообщения Bot API в символах.
const telegramLimit = 4096

// splitMessage режет текст на части не длиннее limit символов. Резы делаются по переводам строк,
// строка длиннее лимита режется посимвольно.
func splitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		parts   []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if chunk := strings.Trim(current.String(), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		current.Reset()
		size = 0
	}

	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for len(runes) > limit {
			flush()
			parts = append(parts, string(runes[:limit]))
			runes = runes[limit:]
		}
		need := len(runes)
		if size > 0 {
			need++
		}
		if size+need > limit {
			flush()
			need = len(runes)
		}
		if size > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(string(runes))
		size += need
	}
	flush()
	return parts
}
