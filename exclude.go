package main

import (
	"path/filepath"
	"strings"
)

// Directory and file names skipped at every depth (build artifacts, VCS data, OS litter)
var defaultExcludedNames = []string{
	"node_modules",
	".git",
	".DS_Store",
	"dist",
	".next",
	".cache",
}

// markdownExtensions are matched case-insensitively against the file name suffix
var markdownExtensions = []string{".md", ".markdown"}

// ExcludePolicy is the single exclusion list shared by the tree builder and the watcher.
// The tree skips exact names only; the watcher additionally skips hidden entries.
type ExcludePolicy struct {
	names map[string]bool
}

// DefaultExcludePolicy returns the policy used by the server
func DefaultExcludePolicy() ExcludePolicy {
	return NewExcludePolicy(defaultExcludedNames...)
}

// NewExcludePolicy builds a policy from exact (case-sensitive) names
func NewExcludePolicy(names ...string) ExcludePolicy {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return ExcludePolicy{names: m}
}

// ExcludesName reports whether a directory entry name is on the exclusion list
func (p ExcludePolicy) ExcludesName(name string) bool {
	return p.names[name]
}

// ExcludesWatchName is the watcher's check: listed names plus dotfiles and dot-directories
func (p ExcludePolicy) ExcludesWatchName(name string) bool {
	if strings.HasPrefix(name, ".") && name != "." && name != ".." {
		return true
	}
	return p.ExcludesName(name)
}

// ExcludesWatchPath applies ExcludesWatchName to every segment of a root-relative path
func (p ExcludePolicy) ExcludesWatchPath(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if seg == "" || seg == "." {
			continue
		}
		if p.ExcludesWatchName(seg) {
			return true
		}
	}
	return false
}

// IsMarkdownFile reports whether name has a Markdown extension (case-insensitive)
func IsMarkdownFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range markdownExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
