package store

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

// DefaultCollection is the vector collection used when a query does not name one.
const DefaultCollection = "documents"

// ChromemStore is an embedded semantic store. A query is free text matched by
// similarity; params["collection"] selects the collection and params["limit"]
// caps the result count (default 10).
type ChromemStore struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
}

// OpenChromem opens a chromem database persisted under dir, or an in-memory
// one when dir is empty.
func OpenChromem(dir string, embed EmbedFunc) (*ChromemStore, error) {
	if embed == nil {
		embed = HashEmbedder(DefaultVectorSize)
	}
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", dir, err)
		}
	}
	return &ChromemStore{db: db, embed: chromem.EmbeddingFunc(embed)}, nil
}

// Ping implements Store.
func (s *ChromemStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Query implements Store.
func (s *ChromemStore) Query(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	name := stringParam(params, "collection", DefaultCollection)
	col := s.db.GetCollection(name, s.embed)
	if col == nil {
		return []Row{}, nil
	}

	n := intParam(params, "limit", 10)
	if count := col.Count(); n > count {
		n = count
	}
	if n == 0 {
		return []Row{}, nil
	}

	results, err := col.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", name, err)
	}
	rows := make([]Row, 0, len(results))
	for _, r := range results {
		row := Row{"id": r.ID, "content": r.Content, "similarity": float64(r.Similarity)}
		for k, v := range r.Metadata {
			if _, taken := row[k]; !taken {
				row[k] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// PutDocument implements DocumentWriter.
func (s *ChromemStore) PutDocument(ctx context.Context, id, content string, metadata map[string]any) error {
	col, err := s.db.GetOrCreateCollection(DefaultCollection, nil, s.embed)
	if err != nil {
		return fmt.Errorf("get collection: %w", err)
	}
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = fmt.Sprint(v)
	}
	if err := col.AddDocument(ctx, chromem.Document{ID: id, Content: content, Metadata: meta}); err != nil {
		return fmt.Errorf("add document %s: %w", id, err)
	}
	return nil
}

// Close implements Store. Persistent databases write through on every add.
func (s *ChromemStore) Close() error {
	return nil
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}
