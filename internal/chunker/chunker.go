// Package chunker fragments a text body into byte-budgeted, UTF-8-safe
// pieces for transmission over the radio.
package chunker

import "strings"

// Chunk splits text into chunks of at most maxBytes bytes each, never
// splitting a multi-byte UTF-8 codepoint across two chunks (a single
// codepoint wider than maxBytes becomes its own oversize chunk). Text that
// fits is returned as one chunk. Longer text is split on newlines and
// consecutive lines are packed into a chunk joined by "\n"; a line longer
// than maxBytes is cut at rune boundaries. The newline at which text is
// split between two chunks belongs to neither chunk, and an empty line that
// would start a chunk is dropped; so when every line fits in maxBytes and no
// chunk would start with an empty line, joining the chunks with "\n"
// reproduces text. Returns nil when maxBytes <= 0.
func Chunk(text string, maxBytes int) []string {
	if maxBytes <= 0 {
		return nil
	}
	if len(text) <= maxBytes {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for i, line := range strings.Split(text, "\n") {
		_ = i
		if current.Len() > 0 && current.Len()+1+len(line) > maxBytes {
			flush()
		}

		if len(line) > maxBytes {
			flush()
			pieces := splitByMaxBytes(line, maxBytes)
			if len(pieces) > 0 {
				for _, p := range pieces[:len(pieces)-1] {
					chunks = append(chunks, p)
				}
				current.WriteString(pieces[len(pieces)-1])
			}
			continue
		}

		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}

	flush()
	return chunks
}

// splitByMaxBytes splits s into pieces of at most maxBytes bytes, cutting
// only at rune boundaries. A single rune whose encoding exceeds maxBytes is
// still emitted as its own (oversize) piece, guaranteeing progress.
func splitByMaxBytes(s string, maxBytes int) []string {
	var out []string
	for len(s) > 0 {
		if len(s) <= maxBytes {
			out = append(out, s)
			break
		}

		cut := 0
		for idx, r := range s {
			next := idx + runeLen(r)
			if next > maxBytes {
				break
			}
			cut = next
		}
		if cut == 0 {
			// First rune alone exceeds maxBytes: take it anyway, to guarantee progress.
			_, size := decodeRuneSize(s)
			cut = size
		}

		out = append(out, s[:cut])
		s = s[cut:]
	}
	return out
}

func runeLen(r rune) int {
	switch {
	case r < 0x80:
		return 1
	case r < 0x800:
		return 2
	case r < 0x10000:
		return 3
	default:
		return 4
	}
}

func decodeRuneSize(s string) (rune, int) {
	for _, r := range s {
		return r, runeLen(r)
	}
	return 0, 0
}
