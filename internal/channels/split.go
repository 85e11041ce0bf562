package channels

import (
	"unicode/utf16"
	"unicode/utf8"
)

// SplitMessage cuts content into pieces of at most maxLen characters,
// preferring to break after a newline in the second half of a piece.
// Pieces always end on a rune boundary.
func SplitMessage(content string, maxLen int) []string {
	return split(content, maxLen, func(rune) int { return 1 })
}

// SplitMessageUTF16 is SplitMessage measured in UTF-16 code units, the
// unit Telegram uses for its text limits.
func SplitMessageUTF16(content string, maxLen int) []string {
	return split(content, maxLen, utf16Width)
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16Width(r)
	}
	return n
}

func utf16Width(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	// Invalid runes are sent as U+FFFD.
	return 1
}

func split(content string, maxLen int, width func(rune) int) []string {
	if content == "" {
		return nil
	}
	if maxLen <= 0 {
		return []string{content}
	}

	var chunks []string
	for content != "" {
		used, cutAt, newlineAt := 0, len(content), 0
		for i, r := range content {
			w := width(r)
			if used+w > maxLen {
				cutAt = i
				break
			}
			used += w
			if r == '\n' && used > maxLen/2 {
				newlineAt = i + 1
			}
		}
		if cutAt < len(content) && newlineAt > 0 {
			cutAt = newlineAt
		}
		if cutAt == 0 {
			// A single rune wider than maxLen still has to go somewhere.
			_, cutAt = utf8.DecodeRuneInString(content)
		}
		chunks = append(chunks, content[:cutAt])
		content = content[cutAt:]
	}
	return chunks
}
