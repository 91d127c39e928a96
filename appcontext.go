package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Mode is the serving mode chosen from the target path
type Mode string

const (
	ModeFile      Mode = "file"
	ModeDirectory Mode = "directory"
)

// Options are the run options passed down from the command line
type Options struct {
	Port  int
	Open  bool
	Watch bool
}

// AppContext is the immutable run configuration shared by the handlers and the watcher
type AppContext struct {
	Mode Mode
	// Root is the served directory, absolute with symlinks resolved
	Root string
	// TargetPath is the absolute path the user asked to serve
	TargetPath string
	// TargetFile is the served file relative to Root (file mode only)
	TargetFile string
	Options    Options
}

// NewAppContext resolves target into a serving mode and root directory
func NewAppContext(target string, opts Options) (*AppContext, error) {
	absPath, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}

	info, err := os.Stat(absPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("path not found: %s", target)
	}
	if err != nil {
		return nil, fmt.Errorf("access %s: %w", target, err)
	}

	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("resolve symlinks for %s: %w", target, err)
	}

	if info.IsDir() {
		return &AppContext{
			Mode:       ModeDirectory,
			Root:       resolved,
			TargetPath: absPath,
			Options:    opts,
		}, nil
	}

	if !IsMarkdownFile(resolved) {
		return nil, fmt.Errorf("not a markdown file: %s", target)
	}
	return &AppContext{
		Mode:       ModeFile,
		Root:       filepath.Dir(resolved),
		TargetPath: absPath,
		TargetFile: filepath.Base(resolved),
		Options:    opts,
	}, nil
}

// WatchPath is the path the watcher follows: the root in directory mode and
// the resolved target file in file mode
func (a *AppContext) WatchPath() string {
	if a.Mode == ModeFile {
		return filepath.Join(a.Root, a.TargetFile)
	}
	return a.Root
}
