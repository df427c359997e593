package search

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Shard is one partition of the index.
type Shard interface {
	Name() string
	Index(ctx context.Context, doc Document) error
	Delete(ctx context.Context, id string) error
	// Search returns at most q.Limit results ranked by score descending,
	// then id ascending.
	Search(ctx context.Context, q Query) ([]Result, error)
	Len() int
}

type indexedDoc struct {
	doc   Document
	terms map[string]int
}

// MemoryShard is an in-memory term-frequency shard.
type MemoryShard struct {
	name string

	mu   sync.RWMutex
	docs map[string]*indexedDoc
	df   map[string]int
}

// NewMemoryShard creates an empty shard.
func NewMemoryShard(name string) *MemoryShard {
	return &MemoryShard{
		name: name,
		docs: make(map[string]*indexedDoc),
		df:   make(map[string]int),
	}
}

func (s *MemoryShard) Name() string { return s.name }

func (s *MemoryShard) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Index inserts doc or replaces the document with the same id.
func (s *MemoryShard) Index(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	terms := make(map[string]int)
	for _, tok := range tokens(doc.Content) {
		terms[tok.term]++
	}
	meta := make(map[string]any, len(doc.Metadata))
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	doc.Metadata = meta

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(doc.ID)
	s.docs[doc.ID] = &indexedDoc{doc: doc, terms: terms}
	for t := range terms {
		s.df[t]++
	}
	return nil
}

// Delete removes id. Unknown ids are ignored.
func (s *MemoryShard) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	return nil
}

func (s *MemoryShard) removeLocked(id string) {
	old, ok := s.docs[id]
	if !ok {
		return
	}
	for t := range old.terms {
		if s.df[t]--; s.df[t] <= 0 {
			delete(s.df, t)
		}
	}
	delete(s.docs, id)
}

// Search scores every document matching the filters.
//
// score = matched + w/(w+1), where matched is the number of distinct query
// terms present and w is the sum of tf/(tf+1.2) * idf over them. The weight
// stays below 1, so a document matching more terms always ranks higher.
func (s *MemoryShard) Search(ctx context.Context, q Query) ([]Result, error) {
	terms := queryTerms(q.Text)
	if len(terms) == 0 {
		return []Result{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := float64(len(s.docs))
	var out []Result
	for id, d := range s.docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !matchesFilters(d.doc.Metadata, q.Filters) {
			continue
		}
		var w float64
		matched := make(map[string]bool)
		for _, t := range terms {
			tf := float64(d.terms[t])
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + n/float64(s.df[t]))
			w += tf / (tf + 1.2) * idf
			matched[t] = true
		}
		if len(matched) == 0 {
			continue
		}
		score := float64(len(matched)) + w/(w+1)
		out = append(out, buildResult(id, score, d.doc, matched))
	}

	sortResults(out)
	if limit := q.limit(); len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Result{}
	}
	return out, nil
}

func sortResults(rs []Result) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		return rs[i].ID < rs[j].ID
	})
}

func matchesFilters(meta map[string]any, filters map[string]string) bool {
	for k, want := range filters {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func buildResult(id string, score float64, doc Document, matched map[string]bool) Result {
	meta := make(map[string]any, len(doc.Metadata))
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	snippet := makeSnippet(doc.Content, matched)
	return Result{
		ID:         id,
		Score:      score,
		Title:      title(id, meta),
		Content:    snippet,
		Metadata:   meta,
		Highlights: highlights(snippet, matched),
	}
}

func title(id string, meta map[string]any) string {
	if t, ok := meta["title"].(string); ok && t != "" {
		return t
	}
	if p, ok := meta["path"].(string); ok && p != "" {
		return filepath.Base(p)
	}
	return id
}

type token struct {
	term       string
	start, end int
}

// tokens splits s into lower-cased letter/digit runs with their byte spans.
func tokens(s string) []token {
	var out []token
	start := -1
	for i, r := range s {
		word := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
		switch {
		case word && start < 0:
			start = i
		case !word && start >= 0:
			out = append(out, token{term: strings.ToLower(s[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, token{term: strings.ToLower(s[start:]), start: start, end: len(s)})
	}
	return out
}

func queryTerms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokens(text) {
		if !seen[tok.term] {
			seen[tok.term] = true
			out = append(out, tok.term)
		}
	}
	return out
}

func highlights(content string, matched map[string]bool) []Highlight {
	var out []Highlight
	for _, tok := range tokens(content) {
		if !matched[tok.term] {
			continue
		}
		out = append(out, Highlight{Term: tok.term, Start: tok.start, End: tok.end})
		if len(out) == maxHighlights {
			break
		}
	}
	return out
}

// makeSnippet returns up to snippetBytes of content starting a little before
// the first matched term, cut on rune boundaries.
func makeSnippet(content string, matched map[string]bool) string {
	if len(content) <= snippetBytes {
		return content
	}
	start := 0
	for _, tok := range tokens(content) {
		if matched[tok.term] {
			start = tok.start - snippetLead
			break
		}
	}
	if start < 0 {
		start = 0
	}
	if start > len(content)-snippetBytes {
		start = len(content) - snippetBytes
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	end := start + snippetBytes
	if end > len(content) {
		end = len(content)
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end--
	}
	return content[start:end]
}
