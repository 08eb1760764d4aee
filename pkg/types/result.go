package types

// SearchResult is a chunk returned by a query, with blended relevance
type SearchResult struct {
	ChunkID string
	Rank    int // Position in result set (1-based)

	// RelevanceScore blends content and summary similarity when dual embedding is on
	RelevanceScore float64
	ContentScore   float64
	SummaryScore   float64

	FilePath  string
	StartLine int
	EndLine   int
	Name      string
	Summary   string
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ChunkID == "" {
		return ErrInvalidChunkID
	}
	if sr.Rank < 1 {
		return ErrInvalidRank
	}
	if sr.RelevanceScore < 0 || sr.RelevanceScore > 1 {
		return ErrInvalidRelevanceScore
	}
	return nil
}
