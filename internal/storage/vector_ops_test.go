package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeVector(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, float32(math.Pi)}
	blob := serializeVector(vec)
	require.Len(t, blob, 16)
	assert.Equal(t, vec, deserializeVector(blob))

	encoded, err := encodeVector(vec)
	require.NoError(t, err)
	assert.Equal(t, blob, encoded, "both builds store little-endian float32")
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSortCandidates_TieBreaksByID(t *testing.T) {
	c := []Match{
		{Record: VectorRecord{ID: "b"}, Score: 0.5},
		{Record: VectorRecord{ID: "a"}, Score: 0.5},
		{Record: VectorRecord{ID: "c"}, Score: 0.9},
	}
	sortCandidates(c)
	assert.Equal(t, "c", c[0].Record.ID)
	assert.Equal(t, "a", c[1].Record.ID)
	assert.Equal(t, "b", c[2].Record.ID)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?,?,?", placeholders(3))
}
