package review

import "unicode/utf8"

// SplitFixed splits text into consecutive chunks of size characters. The
// last chunk holds the remainder. Characters are counted as runes, so a
// multi-byte sequence is never split. Empty text yields no chunks.
func SplitFixed(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}

	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, n := 0, 0
	for i := range text {
		if n == size {
			chunks = append(chunks, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(chunks, text[start:])
}
