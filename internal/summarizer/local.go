package summarizer

import (
	"context"
	"fmt"
	"strings"
)

// LocalSummarizer derives an extractive summary from the chunk itself:
// its leading comment, or its first line. It needs no backend.
type LocalSummarizer struct{}

// NewLocal creates the offline summarizer
func NewLocal() *LocalSummarizer {
	return &LocalSummarizer{}
}

func (l *LocalSummarizer) Summarize(ctx context.Context, items []Request) ([]string, error) {
	if err := validate(items); err != nil {
		return nil, err
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = extract(it)
	}
	return out, nil
}

func extract(r Request) string {
	lines := strings.Split(r.Text, "\n")
	var comment []string
	first := ""
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" {
			if len(comment) > 0 {
				break
			}
			continue
		}
		if c, ok := stripComment(t); ok {
			if c != "" {
				comment = append(comment, c)
			}
			continue
		}
		first = t
		break
	}

	subject := r.Name
	if subject == "" {
		subject = first
	}
	n := len(lines)
	if len(comment) > 0 {
		return cleanSummary(fmt.Sprintf("%s (%s, %d lines): %s", subject, r.Path, n, strings.Join(comment, " ")))
	}
	return cleanSummary(fmt.Sprintf("%s (%s, %d lines)", subject, r.Path, n))
}

func stripComment(line string) (string, bool) {
	for _, prefix := range []string{"//", "#", "--", "/*", "*/", "*", `"""`} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, prefix), "*/")), true
		}
	}
	return "", false
}

func (l *LocalSummarizer) Provider() string                 { return ProviderLocal }
func (l *LocalSummarizer) Model() string                    { return "extractive" }
func (l *LocalSummarizer) Health(ctx context.Context) error { return nil }
func (l *LocalSummarizer) Close() error                     { return nil }
