// Package chunking splits tender documents into overlapping,
// metadata-tagged chunks used as retrieval units.
package chunking

// Mode selects the splitting strategy.
type Mode string

const (
	// ModeWindow cuts fixed word windows with overlap.
	ModeWindow Mode = "window"
	// ModeSentence keeps sentences whole at the cost of variable chunk size.
	ModeSentence Mode = "sentence"
)

// Config controls chunk sizes.
type Config struct {
	ChunkWords    int
	OverlapWords  int
	MinChunkWords int
	Mode          Mode
}

// DefaultConfig provides sane defaults for chunking.
func DefaultConfig() Config {
	return Config{
		ChunkWords:    450,
		OverlapWords:  50,
		MinChunkWords: 200,
		Mode:          ModeWindow,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.ChunkWords <= 0 {
		c.ChunkWords = d.ChunkWords
	}
	if c.OverlapWords < 0 {
		c.OverlapWords = 0
	}
	if c.OverlapWords >= c.ChunkWords {
		c.OverlapWords = c.ChunkWords / 5
	}
	if c.MinChunkWords < 0 {
		c.MinChunkWords = 0
	}
	if c.Mode == "" {
		c.Mode = ModeWindow
	}
	return c
}
