package store

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

const qdrantMaxMessageSize = 50 * 1024 * 1024

// QdrantConfig configures a Qdrant-backed store.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string
	UseTLS     bool
	VectorSize int
}

// ParseQdrantDSN parses "host:port/collection". Port defaults to 6334 and the
// collection to DefaultCollection.
func ParseQdrantDSN(dsn string) (QdrantConfig, error) {
	cfg := QdrantConfig{Port: 6334, Collection: DefaultCollection}
	hostport, collection, _ := strings.Cut(dsn, "/")
	if collection != "" {
		cfg.Collection = collection
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		cfg.Host = hostport
	} else {
		cfg.Host = host
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return cfg, fmt.Errorf("invalid qdrant port %q", port)
		}
		cfg.Port = p
	}
	if cfg.Host == "" {
		return cfg, fmt.Errorf("qdrant dsn %q has no host", dsn)
	}
	return cfg, nil
}

// QdrantStore is a semantic store on a Qdrant server. A query is free text,
// embedded and matched against the configured collection; params["limit"]
// caps the result count (default 10).
type QdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
	embed  EmbedFunc
}

// OpenQdrant connects to Qdrant over gRPC. The connection is lazy; the
// collection is created on first write.
func OpenQdrant(cfg QdrantConfig, embed EmbedFunc) (*QdrantStore, error) {
	if cfg.VectorSize <= 0 {
		cfg.VectorSize = DefaultVectorSize
	}
	if embed == nil {
		embed = HashEmbedder(cfg.VectorSize)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(qdrantMaxMessageSize),
				grpc.MaxCallSendMsgSize(qdrantMaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &QdrantStore{client: client, cfg: cfg, embed: embed}, nil
}

// Ping implements Store.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

// Query implements Store.
func (s *QdrantStore) Query(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("check collection %s: %w", s.cfg.Collection, err)
	}
	if !exists {
		return []Row{}, nil
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(intParam(params, "limit", 10))),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", s.cfg.Collection, err)
	}

	rows := make([]Row, 0, len(points))
	for _, p := range points {
		row := Row{"similarity": float64(p.Score)}
		for k, v := range p.Payload {
			switch val := v.Kind.(type) {
			case *qdrant.Value_StringValue:
				row[k] = val.StringValue
			case *qdrant.Value_IntegerValue:
				row[k] = val.IntegerValue
			case *qdrant.Value_DoubleValue:
				row[k] = val.DoubleValue
			case *qdrant.Value_BoolValue:
				row[k] = val.BoolValue
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// PutDocument implements DocumentWriter. Point ids are derived from the
// document id so re-indexing overwrites in place.
func (s *QdrantStore) PutDocument(ctx context.Context, id, content string, metadata map[string]any) error {
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	vec, err := s.embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed document %s: %w", id, err)
	}

	payload := map[string]*qdrant.Value{
		"id":      {Kind: &qdrant.Value_StringValue{StringValue: id}},
		"content": {Kind: &qdrant.Value_StringValue{StringValue: content}},
	}
	for k, v := range metadata {
		if _, taken := payload[k]; taken {
			continue
		}
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprint(val)}}
		}
	}

	pointID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(vec...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", id, err)
	}
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", s.cfg.Collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.cfg.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.cfg.Collection, err)
	}
	return nil
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
