package walker

import (
	"path"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	gitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

type ignoreMatcher struct {
	matcher gitignore.Matcher
	extra   []string
}

// loadIgnoreMatcher reads every .gitignore under root
func loadIgnoreMatcher(root string, scanAll bool, exclude []string) (*ignoreMatcher, error) {
	m := &ignoreMatcher{extra: exclude}
	if scanAll {
		return m, nil
	}

	fs := osfs.New(root)
	patterns, err := gitignore.ReadPatterns(fs, nil)
	if err != nil {
		return nil, err
	}
	m.matcher = gitignore.NewMatcher(patterns)
	return m, nil
}

func (m *ignoreMatcher) isIgnored(relPath string, isDir bool) bool {
	if m == nil {
		return false
	}
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return false
	}
	if !isDir && matchesAny(m.extra, relPath) {
		return true
	}
	if m.matcher == nil {
		return false
	}
	return m.matcher.Match(strings.Split(relPath, "/"), isDir)
}

// matchesAny treats patterns without a slash as basename globs
func matchesAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		target := rel
		if !strings.Contains(pat, "/") {
			target = path.Base(rel)
		}
		if ok, _ := path.Match(pat, target); ok {
			return true
		}
	}
	return false
}
