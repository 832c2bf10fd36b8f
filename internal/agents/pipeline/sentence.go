package pipeline

import (
	"strings"
	"unicode"
)

// sentenceSplitter accumulates streamed tokens and extracts completed
// sentences as soon as a terminal '.', '!' or '?' is followed by
// whitespace. Terminators followed by non-space (decimals, abbreviations
// glued to the next word, ellipses mid-token) stay buffered until more
// text arrives or the stream ends.
type sentenceSplitter struct {
	buf string
}

func isTerminal(r rune) bool { return r == '.' || r == '!' || r == '?' }

// Push appends a token and returns any sentences completed by it, in order.
func (s *sentenceSplitter) Push(token string) []string {
	if token == "" {
		return nil
	}
	s.buf += token
	var out []string
	for {
		runes := []rune(s.buf)
		cut := -1
		for i := 0; i < len(runes)-1; i++ {
			if isTerminal(runes[i]) && unicode.IsSpace(runes[i+1]) {
				cut = i
				break
			}
		}
		if cut < 0 {
			return out
		}
		sentence := strings.TrimSpace(string(runes[:cut+1]))
		s.buf = string(runes[cut+1:])
		if sentence != "" {
			out = append(out, sentence)
		}
	}
}

// Flush returns any remaining non-terminated text as a final sentence.
func (s *sentenceSplitter) Flush() string {
	tail := strings.TrimSpace(s.buf)
	s.buf = ""
	return tail
}
