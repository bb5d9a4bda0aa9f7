package embedding

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// HashEmbedder is a deterministic, offline embedder. Each word is hashed
// into one of Dimensions buckets with a sign, so texts sharing vocabulary
// land close together under cosine distance.
type HashEmbedder struct{}

func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

func (h *HashEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, Dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		sum := blake3.Sum256([]byte(w))
		idx := binary.LittleEndian.Uint32(sum[:4]) % Dimensions
		if sum[4]&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	if len(words) == 0 {
		fillFromDigest(vec, text)
	}
	normalize(vec)
	return vec, nil
}

// fillFromDigest spreads the extendable blake3 output over vec for texts
// made only of symbols.
func fillFromDigest(vec []float32, text string) {
	hasher := blake3.New()
	_, _ = hasher.Write([]byte(text))
	buf := make([]byte, 4*len(vec))
	_, _ = hasher.Digest().Read(buf)
	for i := range vec {
		u := binary.LittleEndian.Uint32(buf[i*4:])
		vec[i] = float32(u)/float32(math.MaxUint32)*2 - 1
	}
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
