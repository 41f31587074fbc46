package agent

import (
	"sort"
	"strings"
)

// EditedFileExtractor pulls the set of files the agent reported touching
// out of captured output.
type EditedFileExtractor interface {
	Extract(output string) []string
}

// DefaultEditTokens are the tool-call prefixes the agent prints when it
// modifies a file.
var DefaultEditTokens = []string{"Update(", "Edit(", "Write(", "Created "}

// TokenExtractor takes, for every token on a line, the text between the
// token and the next ")". Lines with a token but no closing ")" yield
// nothing, so "Created main.go" is not extracted.
type TokenExtractor struct {
	tokens []string
}

func NewTokenExtractor(tokens ...string) *TokenExtractor {
	if len(tokens) == 0 {
		tokens = DefaultEditTokens
	}
	return &TokenExtractor{tokens: tokens}
}

// Extract returns the distinct file names in sorted order.
func (e *TokenExtractor) Extract(output string) []string {
	seen := make(map[string]struct{})
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, token := range e.tokens {
			idx := strings.Index(line, token)
			if idx < 0 {
				continue
			}
			rest := line[idx+len(token):]
			end := strings.Index(rest, ")")
			if end < 0 {
				continue
			}
			if name := strings.TrimSpace(rest[:end]); name != "" {
				seen[name] = struct{}{}
			}
		}
	}

	files := make([]string, 0, len(seen))
	for name := range seen {
		files = append(files, name)
	}
	sort.Strings(files)
	return files
}

// mergeFiles returns the sorted union of existing and found. The second
// result reports whether anything was added.
func mergeFiles(existing, found []string) ([]string, bool) {
	if len(found) == 0 {
		return existing, false
	}
	set := make(map[string]struct{}, len(existing)+len(found))
	for _, f := range existing {
		set[f] = struct{}{}
	}
	added := false
	for _, f := range found {
		if _, ok := set[f]; !ok {
			set[f] = struct{}{}
			added = true
		}
	}
	if !added {
		return existing, false
	}
	merged := make([]string, 0, len(set))
	for f := range set {
		merged = append(merged, f)
	}
	sort.Strings(merged)
	return merged, true
}
