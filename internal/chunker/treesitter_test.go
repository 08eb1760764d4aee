//go:build cgo

package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deltaindex/pkg/types"
)

func TestTreeSitter_Python(t *testing.T) {
	src := New()
	content := []byte(`import os

class Store:
    def get(self, key):
        return os.environ.get(key)

def main():
    print(Store().get("HOME"))
`)
	chunks, err := src.Chunk("app.py", content, "")
	require.NoError(t, err)
	require.Len(t, chunks, 2, "nested methods are folded into their class")

	assert.Equal(t, "Store", chunks[0].Name)
	assert.Equal(t, types.ChunkClass, chunks[0].Type)
	assert.Equal(t, 3, chunks[0].StartLine)
	assert.Equal(t, 5, chunks[0].EndLine)

	assert.Equal(t, "main", chunks[1].Name)
	assert.Equal(t, types.ChunkFunction, chunks[1].Type)
	assert.Equal(t, "python", chunks[1].Language)
}

func TestTreeSitter_TypeScript(t *testing.T) {
	src := New()
	content := []byte(`export interface Item { id: string }

export function load(id: string): Item {
  return { id }
}

const double = (n: number) => n * 2
`)
	chunks, err := src.Chunk("items.ts", content, "")
	require.NoError(t, err)

	names := make([]string, 0, len(chunks))
	for _, c := range chunks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Item", "load", "double"}, names)
}

func TestOutermost(t *testing.T) {
	caps := []capture{
		{name: "inner", startByte: 10, endByte: 20},
		{name: "outer", startByte: 0, endByte: 50},
		{name: "next", startByte: 60, endByte: 70},
	}
	got := outermost(caps)
	require.Len(t, got, 2)
	assert.Equal(t, "outer", got[0].name)
	assert.Equal(t, "next", got[1].name)
}
