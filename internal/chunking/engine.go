package chunking

import (
	"strings"
	"unicode"

	"github.com/cloo-solutions/tenderwise/internal/domain"
)

// Input is one document to chunk.
type Input struct {
	SourceID string
	Title    string
	Body     string
	Sections []domain.Section
}

// Engine produces chunks according to its Config.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine; zero fields in cfg take defaults.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.normalized()}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// span is a run of words taken from a source text.
type span struct {
	words   []string
	start   int
	overlap int
}

// Chunk splits the body and every section into tagged chunks. Positions
// are numbered across the whole document. Empty text yields no chunks.
func (e *Engine) Chunk(in Input) []domain.Chunk {
	var chunks []domain.Chunk
	docCategory := InferCategory(in.Title)

	add := func(spans []span, sectionID, sectionTitle string, category domain.Category, mandatory bool) {
		for _, s := range spans {
			content := strings.Join(s.words, " ")
			terms := DetectKeyTerms(content)
			chunks = append(chunks, domain.Chunk{
				SourceID:  in.SourceID,
				SectionID: sectionID,
				Content:   content,
				Metadata: domain.ChunkMetadata{
					Category:     category,
					Importance:   Importance(content, mandatory, terms),
					KeyTerms:     terms,
					Position:     len(chunks),
					StartWord:    s.start,
					EndWord:      s.start + len(s.words),
					OverlapWords: s.overlap,
					WordCount:    len(s.words),
					SectionTitle: sectionTitle,
					Mandatory:    mandatory,
				},
			})
		}
	}

	add(e.split(in.Body), "", "", docCategory, false)
	for _, sec := range in.Sections {
		category := InferCategory(sec.Title, in.Title)
		add(e.split(sec.Content), sec.ID, sec.Title, category, sec.Mandatory)
	}
	return chunks
}

// ChunkText splits free text without metadata, returning chunk contents.
func (e *Engine) ChunkText(text string) []string {
	spans := e.split(text)
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, strings.Join(s.words, " "))
	}
	return out
}

func (e *Engine) split(text string) []span {
	if e.cfg.Mode == ModeSentence {
		return splitSentences(text, e.cfg)
	}
	return splitWindows(strings.Fields(text), e.cfg)
}

func splitWindows(words []string, cfg Config) []span {
	if len(words) == 0 {
		return nil
	}
	step := cfg.ChunkWords - cfg.OverlapWords
	if step <= 0 {
		step = cfg.ChunkWords
	}

	var spans []span
	for start := 0; start < len(words); start += step {
		end := start + cfg.ChunkWords
		if end > len(words) {
			end = len(words)
		}
		overlap := 0
		if start > 0 {
			overlap = cfg.OverlapWords
		}
		spans = append(spans, span{words: words[start:end], start: start, overlap: overlap})
		if end == len(words) {
			break
		}
	}
	return spans
}

// SplitSentences splits text after runs of sentence terminators that are
// followed by whitespace or the end of text, so decimals such as "0.5" stay
// intact. Pieces are trimmed and empty ones dropped.
func SplitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	flush := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" && strings.Trim(s, ".!? ") != "" {
			out = append(out, s)
		}
		start = end
	}
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i
		for j+1 < len(runes) && isTerminator(runes[j+1]) {
			j++
		}
		if j+1 == len(runes) || unicode.IsSpace(runes[j+1]) {
			flush(j + 1)
		}
		i = j
	}
	if start < len(runes) {
		flush(len(runes))
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func splitSentences(text string, cfg Config) []span {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	type sentence struct {
		words []string
		start int
	}
	all := make([]sentence, 0, len(sentences))
	offset := 0
	for _, s := range sentences {
		w := strings.Fields(s)
		all = append(all, sentence{words: w, start: offset})
		offset += len(w)
	}

	var spans []span
	var current []sentence
	fresh := 0 // sentences in current that are not overlap carry
	count := func(ss []sentence) int {
		n := 0
		for _, s := range ss {
			n += len(s.words)
		}
		return n
	}
	flush := func(carried int) {
		var words []string
		for _, s := range current {
			words = append(words, s.words...)
		}
		overlap := 0
		for _, s := range current[:carried] {
			overlap += len(s.words)
		}
		spans = append(spans, span{words: words, start: current[0].start, overlap: overlap})
	}

	carried := 0
	for _, s := range all {
		current = append(current, s)
		fresh++
		if count(current) < cfg.ChunkWords {
			continue
		}
		flush(carried)

		// carry trailing whole sentences up to the overlap budget
		var carry []sentence
		budget := cfg.OverlapWords
		for i := len(current) - 1; i > 0; i-- {
			if len(current[i].words) > budget {
				break
			}
			budget -= len(current[i].words)
			carry = append([]sentence{current[i]}, carry...)
		}
		current = carry
		carried = len(carry)
		fresh = 0
	}

	if fresh > 0 {
		tail := current[carried:]
		if len(spans) > 0 && count(tail) < cfg.MinChunkWords {
			last := &spans[len(spans)-1]
			for _, s := range tail {
				last.words = append(last.words, s.words...)
			}
		} else {
			flush(carried)
		}
	}
	return spans
}
