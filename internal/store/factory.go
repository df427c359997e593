package store

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/federated/internal/apperr"
)

// OpenOptions carries settings shared by the store kinds.
type OpenOptions struct {
	// Embed is used by the vector kinds. Defaults to HashEmbedder(VectorSize).
	Embed        EmbedFunc
	VectorSize   int
	QdrantAPIKey string
	QdrantTLS    bool
}

// NewOpener returns an Opener dispatching on Descriptor.Kind.
func NewOpener(opts OpenOptions) Opener {
	if opts.VectorSize <= 0 {
		opts.VectorSize = DefaultVectorSize
	}
	if opts.Embed == nil {
		opts.Embed = HashEmbedder(opts.VectorSize)
	}
	return func(ctx context.Context, d Descriptor) (Store, error) {
		switch d.Kind {
		case KindSQLite:
			return OpenSQLite(ctx, d.DSN)
		case KindMemory:
			return NewMemoryStore(), nil
		case KindChromem:
			return OpenChromem(d.DSN, opts.Embed)
		case KindQdrant:
			cfg, err := ParseQdrantDSN(d.DSN)
			if err != nil {
				return nil, err
			}
			cfg.APIKey = opts.QdrantAPIKey
			cfg.UseTLS = opts.QdrantTLS
			cfg.VectorSize = opts.VectorSize
			return OpenQdrant(cfg, opts.Embed)
		default:
			return nil, apperr.E("store.Open", apperr.ErrInvalidInput, fmt.Errorf("unknown store kind %q", d.Kind))
		}
	}
}
