package retrieval

import "strings"

// DefaultChunkSize is the paragraph chunk budget in characters.
const DefaultChunkSize = 800

// Chunk splits text into paragraph-aligned pieces of fewer than size
// characters. Paragraphs are separated by a blank line and packed greedily;
// a paragraph longer than size flushes the pending chunk and is hard-split,
// with its tail starting the next chunk. Chunks are trimmed and empty ones
// dropped.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []string
	var cur []rune

	flush := func() {
		if s := strings.TrimSpace(string(cur)); s != "" {
			chunks = append(chunks, s)
		}
		cur = cur[:0]
	}

	for _, para := range strings.Split(text, "\n\n") {
		p := []rune(para)

		if len(p) > size {
			flush()
			for len(p) > size {
				if s := strings.TrimSpace(string(p[:size])); s != "" {
					chunks = append(chunks, s)
				}
				p = p[size:]
			}
			cur = append(cur, p...)
			cur = append(cur, '\n', '\n')
			continue
		}

		if len(cur)+len(p) < size {
			cur = append(cur, p...)
			cur = append(cur, '\n', '\n')
			continue
		}

		flush()
		cur = append(cur, p...)
		cur = append(cur, '\n', '\n')
	}
	flush()

	return chunks
}
