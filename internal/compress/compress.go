// Package compress shrinks retrieved chunks so they fit a token budget.
package compress

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/cloo-solutions/tenderwise/internal/chunking"
	"github.com/cloo-solutions/tenderwise/internal/tokens"
)

const (
	// DefaultMaxSentences is the first-pass compression granularity.
	DefaultMaxSentences = 3
	// MaxChunkChars caps every compressed chunk.
	MaxChunkChars = 500

	chunkSeparator = "\n\n"
)

var significantTerms = []string{
	"mandatory", "must", "shall", "required", "minimum", "maximum",
	"deadline", "penalty", "compliance", "eligib", "experience", "turnover",
	"emd", "earnest", "warranty", "payment", "certif", "submission",
	"₹", "$", "€", "£", "rs.", "inr", "%",
}

func scoreSentence(s string) int {
	lower := strings.ToLower(s)
	score := 0
	for _, term := range significantTerms {
		if strings.Contains(lower, term) {
			score++
		}
	}
	if strings.IndexFunc(s, unicode.IsDigit) >= 0 {
		score++
	}
	return score
}

// Chunk keeps the first sentence plus the maxSentences-1 highest scoring
// other sentences, in original order, capped at MaxChunkChars.
func Chunk(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	sentences := chunking.SplitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	keep := []int{0}
	if len(sentences) > 1 && maxSentences > 1 {
		rest := make([]int, 0, len(sentences)-1)
		for i := 1; i < len(sentences); i++ {
			rest = append(rest, i)
		}
		sort.SliceStable(rest, func(a, b int) bool {
			return scoreSentence(sentences[rest[a]]) > scoreSentence(sentences[rest[b]])
		})
		n := maxSentences - 1
		if n > len(rest) {
			n = len(rest)
		}
		keep = append(keep, rest[:n]...)
		sort.Ints(keep)
	}

	parts := make([]string, 0, len(keep))
	for _, i := range keep {
		parts = append(parts, sentences[i])
	}
	return capChars(strings.Join(parts, " "), MaxChunkChars)
}

func capChars(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// Join concatenates chunks the way they are counted against a budget.
func Join(chunks []string) string {
	return strings.Join(chunks, chunkSeparator)
}

// ToFit compresses chunks until their joined estimate fits maxTokens:
// three sentences per chunk, then two, then dropping chunks from the end.
// Accepted chunks are never cut further. The input order is retrieval rank.
func ToFit(chunks []string, maxTokens int) []string {
	if maxTokens <= 0 || len(chunks) == 0 {
		return []string{}
	}

	// Each pass starts from the original text so a chunk capped in the
	// three-sentence pass is not re-split from its truncated form.
	var compressed []string
	for _, n := range []int{DefaultMaxSentences, 2} {
		compressed = make([]string, 0, len(chunks))
		for _, c := range chunks {
			if cc := Chunk(c, n); cc != "" {
				compressed = append(compressed, cc)
			}
		}
		if tokens.Estimate(Join(compressed)) <= maxTokens {
			return compressed
		}
	}

	for len(compressed) > 0 && tokens.Estimate(Join(compressed)) > maxTokens {
		compressed = compressed[:len(compressed)-1]
	}
	if len(compressed) == 0 {
		return []string{}
	}
	return compressed
}

// Format renders chunks as "[LABEL-n] content" blocks separated by blank
// lines, ready to be placed in a prompt.
func Format(chunks []string, label string) string {
	blocks := make([]string, 0, len(chunks))
	for i, c := range chunks {
		blocks = append(blocks, fmt.Sprintf("[%s-%d] %s", label, i+1, c))
	}
	return strings.Join(blocks, chunkSeparator)
}
