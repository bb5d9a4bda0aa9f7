package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 1, Estimate("a"))
	assert.Equal(t, 1, Estimate("abcd"))
	assert.Equal(t, 2, Estimate("abcde"))
	assert.Equal(t, 1, Estimate("₹₹₹₹"), "counts characters, not bytes")
}

func TestEstimate_Monotonic(t *testing.T) {
	prev := 0
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("x")
		got := Estimate(b.String())
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestEstimate_Additive(t *testing.T) {
	pairs := [][2]string{
		{"tender", "document"},
		{strings.Repeat("a", 13), strings.Repeat("b", 7)},
		{"", "payment terms"},
	}
	for _, p := range pairs {
		sum := Estimate(p[0]) + Estimate(p[1])
		joined := Estimate(p[0] + p[1])
		assert.LessOrEqual(t, joined, sum)
		assert.GreaterOrEqual(t, joined, sum-1)
	}
}

func TestManager_MaxContext(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, 8000, m.MaxContext("llama-3.3-70b-versatile"))
	assert.Equal(t, FallbackMaxContext, m.MaxContext("some-new-model"))

	m = NewManager(map[string]int{"some-new-model": 20000})
	assert.Equal(t, 20000, m.MaxContext("some-new-model"))
}

func TestManager_IsSafe_Overflow(t *testing.T) {
	m := NewManager(nil)
	prompt := strings.Repeat("x", 30000)

	s := m.IsSafe(prompt, "llama-3.3-70b-versatile")

	assert.False(t, s.Safe)
	assert.Equal(t, 7500, s.Tokens)
	assert.Equal(t, 6000, s.Limit)
	assert.Equal(t, 1500, s.Overflow)
}

func TestManager_IsSafe_NeverSafeAboveLimit(t *testing.T) {
	m := NewManager(nil)
	for _, n := range []int{23996, 24000, 24001, 24004, 24005, 40000} {
		s := m.IsSafe(strings.Repeat("y", n), "llama-3.3-70b-versatile")
		if s.Tokens > 6000 {
			assert.False(t, s.Safe, "chars=%d", n)
			assert.Greater(t, s.Overflow, 0)
		} else {
			assert.True(t, s.Safe, "chars=%d", n)
			assert.Equal(t, 0, s.Overflow)
		}
	}
}

func TestManager_Budget(t *testing.T) {
	m := NewManager(nil)
	b := m.Budget("llama-3.3-70b-versatile", 2000)

	assert.Equal(t, 8000, b.Total)
	assert.Equal(t, 2000, b.ResponseReserve)
	assert.Equal(t, 6000, b.PromptAllowance)
	assert.Equal(t, 600, b.SystemShare)
	assert.Equal(t, 3600, b.ContextShare)
	assert.Equal(t, 1800, b.TaskShare)
}

func TestManager_Budget_DefaultsAndCaps(t *testing.T) {
	m := NewManager(nil)

	b := m.Budget("unknown", 0)
	assert.Equal(t, DefaultResponseTokens, b.ResponseReserve)
	assert.Equal(t, FallbackMaxContext-DefaultResponseTokens, b.PromptAllowance)

	b = m.Budget("unknown", 100000)
	assert.Equal(t, FallbackMaxContext/2, b.ResponseReserve)
}

func TestTruncate(t *testing.T) {
	short := "fits easily"
	assert.Equal(t, short, Truncate(short, 100))

	long := strings.Repeat("z", 1000)
	out := Truncate(long, 10)
	require.True(t, strings.HasSuffix(out, TruncationMarker))
	assert.Equal(t, strings.Repeat("z", 40), strings.TrimSuffix(out, TruncationMarker))

	assert.Equal(t, TruncationMarker, Truncate(long, 0))
}
