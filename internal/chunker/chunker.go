// Package chunker splits raw document text into overlapping segments
// sized for embedding.
package chunker

import (
	"errors"
	"strings"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 800

	// DefaultOverlap is how many characters consecutive chunks share.
	DefaultOverlap = 100
)

// ErrEmptyInput is returned when there is no text to chunk.
var ErrEmptyInput = errors.New("empty input text")

// Splitter produces fixed-size overlapping chunks from plain text,
// preferring sentence and word boundaries over mid-word cuts.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter creates a splitter with the given chunk size and overlap,
// both in characters. Overlap must be smaller than the chunk size.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	if overlap < 0 || overlap >= size {
		return nil, errors.New("overlap must be non-negative and smaller than chunk size")
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the configured chunk size in characters.
func (s *Splitter) Size() int { return s.size }

// Chunk splits text into ordered segments of at most Size characters.
// A segment ends at the last sentence boundary inside its window when one
// exists past the minimum floor, otherwise at the last space, otherwise at
// the hard size limit. The trailing remainder is kept as a final chunk.
func (s *Splitter) Chunk(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	runes := []rune(text)
	// Floor below which a sentence boundary is ignored, so a leading "Dr."
	// or similar does not collapse the chunk. Scales with chunk size; at the
	// default 800 this is 100 characters.
	floor := s.size / 8

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + s.size
		if end < len(runes) {
			if b := lastIndexRune(runes, '.', start, end); b >= start+floor {
				end = b + 1
			} else if b := lastIndexRune(runes, ' ', start, end); b > start {
				end = b
			}
		} else {
			end = len(runes)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}
		start = max(start+1, end-s.overlap)
	}

	return chunks, nil
}

// lastIndexRune finds the last occurrence of r in runes[start:end),
// returning -1 if absent.
func lastIndexRune(runes []rune, r rune, start, end int) int {
	for i := end - 1; i >= start; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
