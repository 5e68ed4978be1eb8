package telegram

import "strings"

// messageLimit — максимальная длина одного сообщения Bot API в рунах.
const messageLimit = 4096

// SplitMessage режет текст на части не длиннее лимита Telegram. Резка идёт
// по границам строк, чтобы блоки разметки MarkdownV2 не рвались посередине.
// Одиночная строка длиннее лимита режется жёстко по рунам.
func SplitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	var parts []string
	var current []rune
	flush := func() {
		chunk := strings.Trim(string(current), "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(trimmed, "\n") {
		runes := []rune(line)
		for len(runes) > messageLimit {
			flush()
			parts = append(parts, string(runes[:messageLimit]))
			runes = runes[messageLimit:]
		}
		if len(current)+len(runes)+1 > messageLimit {
			flush()
		}
		if len(current) > 0 {
			current = append(current, '\n')
		}
		current = append(current, runes...)
	}
	flush()
	return parts
}
