package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deltaindex/pkg/types"
)

const goSource = `package sample

import "fmt"

// Greeter says hello
type Greeter struct {
	Name string
}

// Greet prints a greeting
func (g *Greeter) Greet() {
	fmt.Println("hello", g.Name)
}

const (
	One = 1
	Two = 2
)

func helper() {}
`

func TestSource_GoDeclarations(t *testing.T) {
	src := New()
	chunks, err := src.Chunk("sample.go", []byte(goSource), "")
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	assert.Equal(t, "Greeter", chunks[0].Name)
	assert.Equal(t, types.ChunkTypeDecl, chunks[0].Type)
	assert.Equal(t, 5, chunks[0].StartLine)
	assert.Equal(t, 8, chunks[0].EndLine)

	assert.Equal(t, "Greet", chunks[1].Name)
	assert.Equal(t, types.ChunkMethod, chunks[1].Type)
	assert.Contains(t, chunks[1].Content, "// Greet prints a greeting")

	assert.Equal(t, types.ChunkConstGroup, chunks[2].Type)
	assert.Equal(t, types.ChunkFunction, chunks[3].Type)

	for _, c := range chunks {
		assert.Equal(t, "go", c.Language)
		assert.Equal(t, types.ComputeDigest([]byte(c.Content)), c.Digest)
		require.NoError(t, c.Validate())
	}
}

func TestSource_DigestStableAcrossUnrelatedEdits(t *testing.T) {
	src := New()
	before, err := src.Chunk("sample.go", []byte(goSource), "")
	require.NoError(t, err)

	edited := strings.Replace(goSource, "func helper() {}", "func helper() { _ = 1 }", 1)
	after, err := src.Chunk("sample.go", []byte(edited), "")
	require.NoError(t, err)
	require.Len(t, after, len(before))

	assert.Equal(t, before[0].Digest, after[0].Digest)
	assert.Equal(t, before[1].Digest, after[1].Digest)
	assert.NotEqual(t, before[3].Digest, after[3].Digest)
}

func TestSource_GoPackageOnlyFile(t *testing.T) {
	src := New()
	chunks, err := src.Chunk("doc.go", []byte("// Package x does things.\npackage x\n"), "")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, types.ChunkPackage, chunks[0].Type)
	assert.Equal(t, "x", chunks[0].Name)
}

func TestSource_UnknownExtensionFallsBackToWindows(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 100; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}

	src := New()
	chunks, err := src.Chunk("notes.txt", []byte(b.String()), "")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 40, chunks[0].EndLine)
	assert.Equal(t, 31, chunks[1].StartLine, "windows overlap by 10 lines")
	assert.Equal(t, 70, chunks[1].EndLine)
	assert.Equal(t, 61, chunks[2].StartLine)
	assert.Equal(t, 100, chunks[2].EndLine)
	for _, c := range chunks {
		assert.Equal(t, types.ChunkWindow, c.Type)
		assert.Equal(t, LanguageText, c.Language)
	}
}

func TestSource_LanguageHintOverridesDetection(t *testing.T) {
	src := New()
	chunks, err := src.Chunk("Makefile", []byte("all:\n\tgo build ./...\n"), "make")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "make", chunks[0].Language)
}

func TestSource_BinaryAndInvalidUTF8(t *testing.T) {
	src := New()

	_, err := src.Chunk("image.bin", []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}, "")
	assert.ErrorIs(t, err, types.ErrParse)

	_, err = src.Chunk("latin1.txt", []byte{'c', 'a', 'f', 0xe9}, "")
	assert.ErrorIs(t, err, types.ErrParse)

	chunks, err := src.Chunk("empty.go", nil, "")
	assert.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSource_StrategyFailureUsesFallback(t *testing.T) {
	reg := NewRegistry()
	reg.Register("broken", []string{"brk"}, StrategyFunc(func(string, []byte) ([]types.Chunk, error) {
		return nil, fmt.Errorf("grammar exploded")
	}))
	reg.Register("silent", []string{"sil"}, StrategyFunc(func(string, []byte) ([]types.Chunk, error) {
		return nil, nil
	}))
	src := NewSource(reg, nil)

	chunks, err := src.Chunk("x.brk", []byte("some content\n"), "")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "broken", chunks[0].Language)

	chunks, err = src.Chunk("x.sil", []byte("other content\n"), "")
	require.NoError(t, err)
	require.Len(t, chunks, 1, "zero semantic chunks must not yield zero chunks")
}

func TestSource_OversizedDeclarationIsSplit(t *testing.T) {
	var b strings.Builder
	b.WriteString("package big\n\nfunc Huge() {\n")
	for i := 0; i < 600; i++ {
		fmt.Fprintf(&b, "\tprintln(\"statement number %d in a very long function body\")\n", i)
	}
	b.WriteString("}\n")

	src := New()
	chunks, err := src.Chunk("big.go", []byte(b.String()), "")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, "Huge", c.Name)
		assert.LessOrEqual(t, c.EndLine-c.StartLine+1, DefaultWindowLines)
	}
	assert.Equal(t, 3, chunks[0].StartLine)
}

func TestRegistry_Lookup(t *testing.T) {
	reg := New().Registry()

	c := reg.Lookup("main.go", nil)
	assert.Equal(t, "go", c.Language)
	assert.True(t, c.Semantic)

	c = reg.Lookup("README.MD", nil)
	assert.Equal(t, "markdown", c.Language)
	assert.False(t, c.Semantic)

	c = reg.Lookup("scripts/deploy", []byte("#!/usr/bin/env bash\nset -e\n"))
	assert.Equal(t, "shell", c.Language)

	c = reg.Lookup("tool", []byte("#!/usr/bin/env python3\nprint(1)\n"))
	assert.Equal(t, "python", c.Language)
	assert.Equal(t, TreeSitterAvailable, c.Semantic)

	c = reg.Lookup("data.bin", []byte("abc\x00def"))
	assert.True(t, c.Binary)

	assert.True(t, reg.Known("x.ts"))
	assert.False(t, reg.Known("x.unknown"))
	assert.True(t, reg.Extensions()["py"])
}

func TestInterpreter(t *testing.T) {
	tests := map[string]string{
		"#!/bin/sh\n":                 "sh",
		"#!/usr/bin/env python3.11\n": "python",
		"#!/usr/local/bin/node":       "node",
		"#!\n":                        "",
		"no shebang":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, interpreter([]byte(in)), in)
	}
}

func TestWindowSplitter_SmallFile(t *testing.T) {
	w := NewWindowSplitter(DefaultWindowLines, DefaultWindowOverlap)
	chunks, err := w.Chunk("a.txt", []byte("one\ntwo\n"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "one\ntwo", chunks[0].Content)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)
}

func TestWindowSplitter_WhitespaceOnly(t *testing.T) {
	w := NewWindowSplitter(DefaultWindowLines, DefaultWindowOverlap)
	chunks, err := w.Chunk("blank.txt", []byte("   \n\t\n"))
	require.NoError(t, err)
	assert.Len(t, chunks, 1, "non-empty content always yields a chunk")
}
