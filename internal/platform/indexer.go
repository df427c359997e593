package platform

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/rules"
	"github.com/fyrsmithlabs/federated/internal/search"
	"github.com/fyrsmithlabs/federated/internal/store"
)

// maxIndexSize bounds the files the index pass reads.
const maxIndexSize = 1 << 20

var fileTypes = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".go":   "go",
	".rs":   "rust",
	".java": "java",
	".rb":   "ruby",
	".md":   "markdown",
	".sh":   "shell",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
	".toml": "toml",
}

func fileType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := fileTypes[ext]; ok {
		return t
	}
	if ext == "" {
		return "text"
	}
	return strings.TrimPrefix(ext, ".")
}

// indexTree indexes every matching file under the root.
func (p *Platform) indexTree(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "platform.indexTree")
	defer span.End()

	indexed := 0
	err := rules.WalkFiles(ctx, p.opts.Root, p.opts.IndexPatterns, p.logger, func(path string, _ fs.DirEntry) error {
		ok, err := p.indexFile(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn(ctx, "indexing failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		if ok {
			indexed++
		}
		return nil
	})
	return indexed, err
}

// docID is the slash-separated path relative to the root.
func (p *Platform) docID(path string) (string, bool) {
	rel, err := filepath.Rel(p.opts.Root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// indexFile indexes path and mirrors it to its shard store. It reports false
// for files that are skipped: too large, binary or outside the root.
func (p *Platform) indexFile(ctx context.Context, path string) (bool, error) {
	id, ok := p.docID(path)
	if !ok {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() || info.Size() > maxIndexSize {
		return false, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if !utf8.Valid(content) {
		return false, nil
	}

	meta := map[string]any{
		"file_type": fileType(path),
		"size":      info.Size(),
		"modified":  info.ModTime().UTC().Format(time.RFC3339),
		"path":      id,
		"title":     filepath.Base(path),
	}
	if p.git.Commit != "" {
		for k, v := range p.git.Metadata() {
			meta[k] = v
		}
	}

	doc := search.Document{ID: id, Content: string(content), Metadata: meta}
	if err := p.deps.Index.Index(ctx, doc); err != nil {
		return false, err
	}
	p.persist(ctx, doc)
	return true, nil
}

// persist writes doc to the store its id routes to. Missing or offline shard
// stores only cost durability, so failures are logged.
func (p *Platform) persist(ctx context.Context, doc search.Document) {
	name, err := p.deps.Router.Resolve(SearchCollection, map[string]any{RoutingKey: doc.ID})
	if err != nil {
		p.logger.Trace(ctx, "document not persisted", zap.String("doc_id", doc.ID), zap.Error(err))
		return
	}
	s, err := p.deps.Registry.Store(name)
	if err != nil {
		return
	}
	w, ok := s.(store.DocumentWriter)
	if !ok {
		return
	}
	if err := w.PutDocument(ctx, doc.ID, doc.Content, doc.Metadata); err != nil {
		p.logger.Debug(ctx, "persisting document failed",
			zap.String("doc_id", doc.ID), zap.String("store", name), zap.Error(err))
	}
}

// reindexFixed refreshes indexed files rewritten by a fix.
func (p *Platform) reindexFixed(ctx context.Context, outcome rules.FixOutcome) {
	seen := make(map[string]bool)
	for _, r := range outcome.Results {
		path := r.Violation.Path
		if r.Outcome != rules.OutcomeFixed || seen[path] || !p.indexable(path) {
			continue
		}
		seen[path] = true
		if _, err := p.indexFile(ctx, path); err != nil {
			p.logger.Warn(ctx, "reindexing fixed file failed", zap.String("path", path), zap.Error(err))
		}
	}
}

func (p *Platform) indexable(path string) bool {
	if len(p.opts.IndexPatterns) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, pattern := range p.opts.IndexPatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Changed re-indexes a created or modified file.
func (p *Platform) Changed(ctx context.Context, path string) {
	if p.State() != StateReady {
		return
	}
	ok, err := p.indexFile(ctx, path)
	if err != nil {
		p.logger.Warn(ctx, "reindexing failed", zap.String("path", path), zap.Error(err))
		return
	}
	if ok {
		p.logger.Debug(ctx, "document reindexed", zap.String("path", path))
	}
}

// Removed drops a deleted file from the index.
func (p *Platform) Removed(ctx context.Context, path string) {
	if p.State() != StateReady {
		return
	}
	id, ok := p.docID(path)
	if !ok {
		return
	}
	if err := p.deps.Index.Delete(ctx, id); err != nil {
		p.logger.Warn(ctx, "removing document failed", zap.String("doc_id", id), zap.Error(err))
	}
}
