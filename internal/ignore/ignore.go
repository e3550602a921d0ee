// Package ignore provides pattern matching for excluding files and
// directories from monitoring. It supports .gitignore-style patterns,
// including "**" glob segments, directory-only matches, and negation, and
// can load patterns from .fimignore, .gitignore, and custom ignore files.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/lucho00cuba/fimwatch/internal/logger"
)

// Matcher determines if a path should be excluded from monitoring.
type Matcher interface {
	// Match returns true if the path should be excluded. The path can be
	// relative to the root being walked or absolute.
	Match(path string, isDir bool) bool
}

// PatternMatcher matches paths against exclusion patterns.
type PatternMatcher struct {
	patterns []pattern
}

type pattern struct {
	raw        string
	isDirOnly  bool
	isNegation bool
	glob       string // doublestar-compatible pattern, slash-separated
}

// NewPatternMatcher compiles patterns into a PatternMatcher. Patterns
// support .gitignore-style syntax:
//   - Exact or glob matches: "*.log", "**/build"
//   - Directory-only: "node_modules/"
//   - Negation: "!important.log"
//
// Empty lines and lines starting with "#" are ignored.
func NewPatternMatcher(patterns []string) *PatternMatcher {
	pm := &PatternMatcher{patterns: make([]pattern, 0, len(patterns))}

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}

		pat := pattern{raw: p}

		if strings.HasPrefix(p, "!") {
			pat.isNegation = true
			p = strings.TrimPrefix(p, "!")
		}

		if strings.HasSuffix(p, "/") {
			pat.isDirOnly = true
			p = strings.TrimSuffix(p, "/")
		}

		p = filepath.ToSlash(p)

		// A pattern with no slash and no leading ** matches the basename
		// anywhere in the tree, exactly like a .gitignore entry such as
		// "node_modules" or ".git". Anchoring it with a "**/" prefix lets
		// doublestar.Match do that without us hand-rolling segment search.
		if !strings.Contains(p, "/") && !strings.HasPrefix(p, "**") {
			p = "**/" + p
		}

		pat.glob = p
		pm.patterns = append(pm.patterns, pat)
	}

	return pm
}

// Match returns true if the path should be excluded.
func (pm *PatternMatcher) Match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)
	path = strings.TrimPrefix(path, "/")

	matched := false
	matchedNegation := false

	for _, pat := range pm.patterns {
		if pat.match(path, isDir) {
			if pat.isNegation {
				matchedNegation = true
			} else {
				matched = true
			}
		}
	}

	if matchedNegation {
		return false
	}
	return matched
}

func (p *pattern) match(path string, isDir bool) bool {
	if p.isDirOnly && !isDir {
		return false
	}

	ok, err := doublestar.Match(p.glob, path)
	if err != nil {
		return false
	}
	if ok {
		return true
	}

	// Also try matching against every ancestor prefix of path, so a
	// pattern like "**/build" excludes everything beneath build/, not
	// just the build directory entry itself.
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		prefix := strings.Join(segments[:i], "/")
		if ok, err := doublestar.Match(p.glob, prefix); err == nil && ok {
			return true
		}
	}
	return false
}

// withinRoot reports whether candidate resolves to root itself or to a
// path beneath it.
func withinRoot(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "")
}

func readPatternLines(file *os.File) ([]string, error) {
	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// LoadIgnoreFile loads patterns from an ignore file (.fimignore or
// .gitignore) inside rootPath. Returns nil, nil if the file doesn't exist.
func LoadIgnoreFile(rootPath string, filename string) ([]string, error) {
	if cleaned := filepath.Clean(filename); cleaned != filename || strings.ContainsRune(filename, filepath.Separator) {
		return nil, fmt.Errorf("invalid filename: %s", filename)
	}

	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	ignorePath, err := filepath.Abs(filepath.Join(absRoot, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if !withinRoot(absRoot, ignorePath) {
		return nil, fmt.Errorf("ignore file path outside root directory: %s", filename)
	}

	//nolint:gosec // path validated to be within root directory above
	file, err := os.Open(ignorePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			logger.Warn("failed to close ignore file", "error", cerr)
		}
	}()

	patterns, err := readPatternLines(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	logger.Info("loaded ignore file", "file", ignorePath, "patterns", len(patterns), "filename", filename)
	return patterns, nil
}

// ignoreFileNames are read in this order at every directory level
// FindIgnoreFiles visits.
var ignoreFileNames = []string{".fimignore", ".gitignore"}

// FindIgnoreFiles searches for .fimignore and .gitignore files from the
// working directory up to the filesystem root, returning patterns from all
// found files: directories closer to the filesystem root first, and within
// one directory .fimignore before .gitignore. The order does not change
// what PatternMatcher.Match reports, since any matching negation pattern
// wins over every exclusion pattern wherever it appears.
func FindIgnoreFiles() ([]string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	start, err := filepath.Abs(wd)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	var levels [][]string
	for dir, visited := start, map[string]struct{}{}; ; dir = filepath.Dir(dir) {
		if _, ok := visited[dir]; ok {
			break
		}
		visited[dir] = struct{}{}

		var found []string
		for _, name := range ignoreFileNames {
			patterns, err := LoadIgnoreFile(dir, name)
			if err != nil {
				return nil, err
			}
			found = append(found, patterns...)
		}
		levels = append(levels, found)

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
	}

	// levels[0] is the working directory; reverse so patterns from
	// directories closer to the filesystem root come first.
	var allPatterns []string
	for i := len(levels) - 1; i >= 0; i-- {
		allPatterns = append(allPatterns, levels[i]...)
	}
	return allPatterns, nil
}

// LoadCustomIgnoreFile loads patterns from a user-specified ignore file.
// Unlike LoadIgnoreFile, a missing file is an error here.
func LoadCustomIgnoreFile(filePath string) ([]string, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("ignore file does not exist: %s", filePath)
		}
		return nil, fmt.Errorf("failed to open ignore file %s: %w", filePath, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			logger.Warn("failed to close ignore file", "error", cerr)
		}
	}()

	patterns, err := readPatternLines(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore file %s: %w", filePath, err)
	}
	return patterns, nil
}

// NewMatcher builds a Matcher combining explicit patterns, the patterns of
// a custom ignore file, and (if loadIgnoreFile) .fimignore and .gitignore
// files discovered from the working directory upwards. All sources are
// merged into one PatternMatcher with equal weight: none overrides another.
func NewMatcher(patterns []string, rootPath string, loadIgnoreFile bool, customIgnoreFile string) (Matcher, error) {
	allPatterns := make([]string, len(patterns))
	copy(allPatterns, patterns)

	if customIgnoreFile != "" {
		customPatterns, err := LoadCustomIgnoreFile(customIgnoreFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load custom ignore file: %w", err)
		}
		allPatterns = append(allPatterns, customPatterns...)
		logger.Info("loaded custom ignore file", "file", customIgnoreFile, "patterns", len(customPatterns))
	}

	if loadIgnoreFile {
		ignorePatterns, err := FindIgnoreFiles()
		if err != nil {
			return nil, fmt.Errorf("failed to load ignore files: %w", err)
		}
		allPatterns = append(allPatterns, ignorePatterns...)
		if len(ignorePatterns) > 0 {
			logger.Info("loaded automatic ignore files", "patterns", len(ignorePatterns))
		}
	}

	if len(allPatterns) == 0 {
		return &noOpMatcher{}, nil
	}

	return NewPatternMatcher(allPatterns), nil
}

// noOpMatcher never excludes anything; used when no patterns are configured.
type noOpMatcher struct{}

func (n *noOpMatcher) Match(path string, isDir bool) bool { return false }
