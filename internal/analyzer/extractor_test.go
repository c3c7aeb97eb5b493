package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dupescan/internal/similarity"
)

const baseText = `Duplicate files waste disk space and confuse readers who cannot tell
which copy is current. A scanner that groups similar documents lets an operator
keep one canonical version and archive the rest after a careful review of the
differences between them.`

func TestShingleExtractor_Similarity(t *testing.T) {
	e := NewShingleExtractor()

	base, err := e.Extract([]byte(baseText))
	require.NoError(t, err)
	require.Len(t, base, e.Dimensions())

	tests := []struct {
		name    string
		content string
		min     float64
		max     float64
	}{
		{"identical", baseText, 0.999, 1.0},
		{"case and punctuation only", strings.ToUpper(strings.ReplaceAll(baseText, ".", "!")), 0.999, 1.0},
		{"one word changed", strings.Replace(baseText, "careful", "quick", 1), 0.7, 0.999},
		{"unrelated", `Quarterly revenue grew in every region while shipping
costs fell. The board approved a new warehouse lease and a dividend.`, 0.0, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vec, err := e.Extract([]byte(tt.content))
			require.NoError(t, err)
			sim := similarity.Cosine(base, vec)
			assert.GreaterOrEqual(t, sim, tt.min)
			assert.LessOrEqual(t, sim, tt.max)
		})
	}
}

func TestShingleExtractor_Normalized(t *testing.T) {
	vec, err := NewShingleExtractor().Extract([]byte(baseText))
	require.NoError(t, err)

	var sum float64
	for _, x := range vec {
		sum += x * x
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestShingleExtractor_ShortAndEmpty(t *testing.T) {
	e := NewShingleExtractor()

	empty, err := e.Extract([]byte("  \n\t ..."))
	require.NoError(t, err)
	assert.Len(t, empty, DefaultBuckets)
	assert.Equal(t, 0.0, similarity.Cosine(empty, empty))

	short, err := e.Extract([]byte("two words"))
	require.NoError(t, err)
	again, err := e.Extract([]byte("Two   Words"))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, similarity.Cosine(short, again), 1e-9)
}

func TestIsBinary(t *testing.T) {
	assert.False(t, isBinary([]byte("plain text")))
	assert.True(t, isBinary([]byte("a\x00b")))

	late := append([]byte(strings.Repeat("x", binarySniffLen)), 0)
	assert.False(t, isBinary(late), "NUL past the sniff window is ignored")
}
