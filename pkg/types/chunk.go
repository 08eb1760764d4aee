package types

import (
	"errors"
)

// ChunkType represents the kind of source section a chunk covers
type ChunkType string

const (
	ChunkFunction   ChunkType = "function"
	ChunkTypeDecl   ChunkType = "type"
	ChunkMethod     ChunkType = "method"
	ChunkPackage    ChunkType = "package"
	ChunkConstGroup ChunkType = "const_group"
	ChunkVarGroup   ChunkType = "var_group"
	ChunkClass      ChunkType = "class"
	ChunkWindow     ChunkType = "window"
)

// TokensPerChar is the heuristic for estimating tokens (chars/4)
const TokensPerChar = 4

// Chunk is one unit produced by a chunk source, in file order
type Chunk struct {
	Name      string
	Type      ChunkType
	Language  string
	Content   string
	Digest    Digest
	StartLine int
	EndLine   int
}

// NewChunk builds a chunk and computes its digest
func NewChunk(name string, typ ChunkType, lang, content string, start, end int) Chunk {
	c := Chunk{
		Name:      name,
		Type:      typ,
		Language:  lang,
		Content:   content,
		StartLine: start,
		EndLine:   end,
	}
	c.Digest = ComputeDigest([]byte(content))
	return c
}

// TokenCount estimates the number of tokens in the chunk
func (c *Chunk) TokenCount() int {
	return EstimateTokens(c.Content)
}

// EstimateTokens is the chars/4 heuristic used for quota accounting
func EstimateTokens(s string) int {
	n := len(s) / TokensPerChar
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// Validate checks that the chunk is usable by the pipeline
func (c *Chunk) Validate() error {
	if c.Content == "" {
		return ErrEmptyContent
	}
	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	if c.Digest == "" {
		return errors.New("content digest must be computed")
	}
	return nil
}
