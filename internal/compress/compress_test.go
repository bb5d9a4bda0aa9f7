package compress

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cloo-solutions/tenderwise/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenderParagraph = "The authority invites bids for road maintenance. " +
	"The weather in the region is generally mild. " +
	"Bidders must deposit an EMD of INR 2,00,000 before the deadline. " +
	"Local offices are open on weekdays. " +
	"A penalty of 0.5% per week applies for delayed completion. " +
	"Further details are available on the portal."

func TestChunk_KeepsFirstAndMostSignificant(t *testing.T) {
	out := Chunk(tenderParagraph, 3)

	assert.Equal(t,
		"The authority invites bids for road maintenance. "+
			"Bidders must deposit an EMD of INR 2,00,000 before the deadline. "+
			"A penalty of 0.5% per week applies for delayed completion.",
		out)
}

func TestChunk_TwoSentences(t *testing.T) {
	out := Chunk(tenderParagraph, 2)

	assert.True(t, strings.HasPrefix(out, "The authority invites bids for road maintenance."))
	assert.Contains(t, out, "EMD")
	assert.NotContains(t, out, "penalty")
}

func TestChunk_CapAndFirstSentence(t *testing.T) {
	inputs := []string{
		tenderParagraph,
		"Only one sentence here",
		strings.Repeat("Bidder must comply with clause 4. ", 80),
		"",
	}
	for _, in := range inputs {
		out := Chunk(in, 3)
		assert.LessOrEqual(t, len([]rune(out)), MaxChunkChars)
		if in != "" {
			first := strings.SplitN(in, ".", 2)[0]
			assert.Contains(t, out, strings.TrimSpace(first))
		}
	}
}

func TestChunk_HardCap(t *testing.T) {
	long := strings.Repeat("minimum turnover ", 60) + "."
	out := Chunk(long, 3)

	assert.Len(t, []rune(out), MaxChunkChars)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func makeChunks(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Clause %d requires compliance with the mandatory specification. "+
			"Some filler text that is not very important at all. "+
			"The deadline for clause %d is 30 days. "+
			"Additional remarks follow here for context.", i, i)
	}
	return out
}

func TestToFit_NeverExceedsBudget(t *testing.T) {
	chunks := makeChunks(12)
	for _, budget := range []int{1, 20, 50, 120, 300, 800, 5000} {
		out := ToFit(chunks, budget)
		assert.LessOrEqual(t, tokens.Estimate(Join(out)), budget, "budget=%d", budget)
	}
}

func TestToFit_LargeBudgetKeepsAll(t *testing.T) {
	chunks := makeChunks(4)
	out := ToFit(chunks, 10000)

	require.Len(t, out, 4)
	for i, c := range out {
		assert.Equal(t, Chunk(chunks[i], 3), c)
	}
}

func TestToFit_DropsFromEnd(t *testing.T) {
	chunks := makeChunks(10)
	out := ToFit(chunks, 100)

	require.NotEmpty(t, out)
	require.Less(t, len(out), 10)
	assert.True(t, strings.HasPrefix(out[0], "Clause 0 requires"))
	for i, c := range out {
		assert.Equal(t, Chunk(chunks[i], 2), c)
	}
}

func TestToFit_TwoSentencePassUsesOriginalText(t *testing.T) {
	// The three-sentence form exceeds MaxChunkChars and is cut inside the
	// last sentence, which loses the terms that make it significant.
	chunk := "Section seven covers site handover. " +
		"Bidders must keep " + strings.Repeat("the work area free of debris and ", 5) + "at all times. " +
		"The contractor " + strings.Repeat("will coordinate closely with the engineer in charge ", 6) +
		"and must meet the mandatory minimum turnover and EMD payment deadline."
	require.True(t, strings.HasSuffix(Chunk(chunk, 3), "..."))

	want := Chunk(chunk, 2)
	require.Contains(t, want, "EMD payment deadline")

	out := ToFit([]string{chunk}, tokens.Estimate(want))

	require.Len(t, out, 1)
	assert.Equal(t, want, out[0])
	assert.NotContains(t, out[0], "debris")
}

func TestToFit_ZeroBudget(t *testing.T) {
	out := ToFit(makeChunks(3), 0)

	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestFormat(t *testing.T) {
	out := Format([]string{"alpha", "beta"}, "DOC")
	assert.Equal(t, "[DOC-1] alpha\n\n[DOC-2] beta", out)
	assert.Equal(t, "", Format(nil, "REF"))
}
