package bridge

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter selects topics by glob pattern
type GlobFilter struct {
	globs []glob.Glob
}

// NewGlobFilter compiles the patterns. No patterns match every topic.
func NewGlobFilter(patterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{globs: make([]glob.Glob, 0, len(patterns))}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid topic pattern %q: %w", pattern, err)
		}
		filter.globs = append(filter.globs, g)
	}
	return filter, nil
}

// Match returns true if the topic matches any pattern
func (f *GlobFilter) Match(topic string) bool {
	if len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(topic) {
			return true
		}
	}
	return false
}
