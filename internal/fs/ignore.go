package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-root file holding extra ignore patterns.
const IgnoreFileName = ".dircheckignore"

// ignoreRule is one compiled pattern.
//
//	*.tmp      basename glob, matches at any depth
//	build/*.o  contains '/', matched against the whole relative path
//	/cache     leading '/' anchors a single-segment pattern to the root
//	logs/      trailing '/' restricts the rule to directories
type ignoreRule struct {
	glob     string
	wholeRel bool
	dirOnly  bool
}

func (r ignoreRule) match(rel string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	subject := path.Base(rel)
	if r.wholeRel {
		subject = rel
	}
	ok, err := path.Match(r.glob, subject)
	// Malformed globs never match.
	return err == nil && ok
}

// IgnoreMatcher decides which relative paths the walker leaves out.
// Ignored directories are not descended into.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher compiles raw pattern lines. Blank lines and lines
// starting with '#' are skipped. The ignore file itself is always ignored.
func NewIgnoreMatcher(lines []string) *IgnoreMatcher {
	m := &IgnoreMatcher{
		rules: []ignoreRule{{glob: IgnoreFileName, wholeRel: true}},
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var rule ignoreRule
		if strings.HasSuffix(line, "/") {
			rule.dirOnly = true
			line = strings.TrimRight(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			rule.wholeRel = true
			line = strings.TrimLeft(line, "/")
		}
		if line == "" {
			continue
		}
		if strings.Contains(line, "/") {
			rule.wholeRel = true
		}
		rule.glob = line
		m.rules = append(m.rules, rule)
	}
	return m
}

// Match reports whether rel, a slash-separated path relative to the root,
// is ignored.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	if rel == "" {
		return false
	}
	for _, r := range m.rules {
		if r.match(rel, isDir) {
			return true
		}
	}
	return false
}

// LoadIgnoreFile reads the ignore file at the top of root. A missing file
// yields no lines and no error.
func LoadIgnoreFile(root string) ([]string, error) {
	f, err := os.Open(filepath.Join(root, IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
