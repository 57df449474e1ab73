// Package chunker splits oversized documents into bounded, boundary-aware
// segments and recombines the per-segment answers into one result.
package chunker

import "strings"

const (
	// DefaultSize is the maximum chunk length in characters.
	DefaultSize = 4000

	// DefaultOverlap is how many characters each chunk repeats from the
	// tail of the previous one.
	DefaultOverlap = 200
)

// paragraphBreak is preferred over any sentence boundary.
const paragraphBreak = "\n\n"

// sentenceBreaks end a sentence. The match includes the trailing space or
// newline so the chunk boundary lands after it.
var sentenceBreaks = []string{". ", ".\n", "! ", "?\n", "? "}

// Split cuts text into chunks of at most size characters. Text that already
// fits is returned as a single untrimmed chunk. Otherwise each window's end
// is pulled back to the last paragraph break, else the last sentence end,
// found within the final tenth of the window; the next chunk starts overlap
// characters before that end. Chunks are whitespace-trimmed and empty ones
// dropped. Lengths are counted in runes.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	n := len(runes)
	if n <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < n {
		end := min(start+size, n)

		if end < n {
			searchStart := max(start, end-size/10)
			if pb := lastIndex(runes, searchStart, end, paragraphBreak); pb > searchStart {
				end = pb + 2
			} else {
				sb := -1
				for _, sep := range sentenceBreaks {
					sb = max(sb, lastIndex(runes, searchStart, end, sep))
				}
				if sb > searchStart {
					end = sb + 2
				}
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= n {
			break
		}
		start = max(start+1, end-overlap)
	}
	return chunks
}

// lastIndex returns the rune offset of the last occurrence of sep that lies
// entirely within runes[lo:hi], or -1.
func lastIndex(runes []rune, lo, hi int, sep string) int {
	pat := []rune(sep)
	for i := hi - len(pat); i >= lo; i-- {
		match := true
		for j, r := range pat {
			if runes[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
