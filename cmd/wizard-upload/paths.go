package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
)

// selection is one path the user asked to upload. Missing selections still go through the state
// machine so the user sees them.
type selection struct {
	Pattern string
	Path    string
	Missing bool
}

type pathExpander struct {
	logger       log.Logger
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
}

func newPathExpander(logger log.Logger) pathExpander {
	return pathExpander{
		logger:       logger,
		pathModifier: pathutil.NewPathModifier(),
		pathChecker:  pathutil.NewPathChecker(),
	}
}

// expand resolves literal paths and ** patterns. Duplicates are dropped, patterns without a match
// become a single missing selection.
func (e pathExpander) expand(patterns []string) []selection {
	var selections []selection
	seen := map[string]bool{}
	add := func(s selection) {
		if s.Path != "" && seen[s.Path] {
			return
		}
		seen[s.Path] = true
		selections = append(selections, s)
	}

	for _, pattern := range patterns {
		if !isPattern(pattern) {
			add(e.literal(pattern))
			continue
		}

		base, glob := doublestar.SplitPattern(pattern)
		absBase, err := e.pathModifier.AbsPath(base)
		if err != nil {
			e.logger.Warnf("Failed to resolve %s: %s", base, err)
			selections = append(selections, selection{Pattern: pattern, Missing: true})
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), glob)
		if err != nil {
			e.logger.Warnf("Error in path pattern '%s': %s", pattern, err)
		}
		if len(matches) == 0 {
			e.logger.Warnf("No match for path pattern: %s", pattern)
			selections = append(selections, selection{Pattern: pattern, Missing: true})
			continue
		}

		sort.Strings(matches)
		for _, match := range matches {
			add(selection{Pattern: pattern, Path: filepath.Join(absBase, match)})
		}
	}

	return selections
}

func (e pathExpander) literal(path string) selection {
	absPath, err := e.pathModifier.AbsPath(path)
	if err != nil {
		e.logger.Warnf("Failed to parse path %s, error: %s", path, err)
		return selection{Pattern: path, Missing: true}
	}
	exists, err := e.pathChecker.IsPathExists(absPath)
	if err != nil || !exists {
		return selection{Pattern: path, Path: absPath, Missing: true}
	}
	return selection{Pattern: path, Path: absPath}
}

func isPattern(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}
