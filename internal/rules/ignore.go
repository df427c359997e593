package rules

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/logging"
)

// IgnoreFiles are read from the scan root.
var IgnoreFiles = []string{".gitignore", ".federatedignore"}

// ExcludedDirs are never descended into.
var ExcludedDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	"node_modules": true, "vendor": true,
	"venv": true, ".venv": true, "__pycache__": true,
	".idea": true, ".vscode": true, ".cache": true,
	"dist": true, "build": true, ".next": true, "target": true,
	".tox": true, ".mypy_cache": true, ".pytest_cache": true,
}

// loadIgnore parses the ignore files at root into a matcher. Missing files
// are skipped.
func loadIgnore(root string) (gitignore.Matcher, error) {
	var patterns []gitignore.Pattern
	for _, name := range IgnoreFiles {
		lines, err := readIgnoreFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, l := range lines {
			patterns = append(patterns, gitignore.ParsePattern(l, nil))
		}
	}
	return gitignore.NewMatcher(patterns), nil
}

func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

// splitRel turns a root-relative path into gitignore path components.
func splitRel(rel string) []string {
	return strings.Split(filepath.ToSlash(rel), "/")
}

// WalkFiles calls fn for every regular file under root whose base name
// matches one of patterns (all files when patterns is empty). ExcludedDirs and
// the ignore files at root are honoured. Walk errors below root are logged and
// skipped; an error from fn or a cancelled ctx stops the walk.
func WalkFiles(ctx context.Context, root string, patterns []string, logger *logging.Logger, fn func(path string, d fs.DirEntry) error) error {
	ignore, err := loadIgnore(root)
	if err != nil {
		return fmt.Errorf("load ignore files: %w", err)
	}
	match := globs(patterns)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn(ctx, "walk error", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if ExcludedDirs[d.Name()] || ignore.Match(splitRel(rel), true) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !match.match(path) || ignore.Match(splitRel(rel), false) {
			return nil
		}
		return fn(path, d)
	})
}
