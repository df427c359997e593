// Package store holds the federation's backing stores and their registry.
//
// A store is anything that can answer a liveness probe and a query. The
// registry owns the open handles, their descriptors and the latest health
// sweep result.
package store

import (
	"context"
	"errors"
)

// Kind identifies a store implementation.
type Kind string

const (
	KindSQLite  Kind = "sqlite"
	KindMemory  Kind = "memory"
	KindChromem Kind = "chromem"
	KindQdrant  Kind = "qdrant"
)

// Row is one result row, column name to value.
type Row map[string]any

// Store is a federated backing store.
type Store interface {
	// Ping returns nil when the store can serve queries.
	Ping(ctx context.Context) error

	// Query runs a store-native query. SQL stores take SQL with named
	// parameters; vector stores take free text.
	Query(ctx context.Context, query string, params map[string]any) ([]Row, error)

	// Close releases the store's resources.
	Close() error
}

// DocumentWriter is implemented by stores that can persist indexed
// documents, so that shard placement is observable through queries.
type DocumentWriter interface {
	PutDocument(ctx context.Context, id, content string, metadata map[string]any) error
}

// Descriptor describes a registered store.
type Descriptor struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	// DSN may carry credentials and is never serialized.
	DSN         string `json:"-"`
	Online      bool   `json:"online"`
	LastChecked int64  `json:"last_checked_unix,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store closed")
