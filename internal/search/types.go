package search

const (
	// DefaultLimit applies when a query does not set one.
	DefaultLimit = 50
	// MaxLimit caps Query.Limit.
	MaxLimit = 1000

	maxHighlights = 20
	snippetBytes  = 240
	snippetLead   = 60
)

// Document is a unit of indexed content.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Query is a search request.
type Query struct {
	Text    string            `json:"text"`
	Filters map[string]string `json:"filters,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultLimit
	case q.Limit > MaxLimit:
		return MaxLimit
	default:
		return q.Limit
	}
}

// Highlight is a byte span of a matched term within Result.Content.
type Highlight struct {
	Term  string `json:"term"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Result is one ranked hit.
type Result struct {
	ID         string         `json:"id"`
	Score      float64        `json:"score"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Highlights []Highlight    `json:"highlights,omitempty"`
}

// Response is a merged search result.
type Response struct {
	Results      []Result `json:"results"`
	Partial      bool     `json:"partial"`
	FailedShards []string `json:"failed_shards,omitempty"`
}

// ShardStats describes one shard.
type ShardStats struct {
	Name      string `json:"name"`
	Documents int    `json:"documents"`
	Queries   int64  `json:"queries"`
	Failures  int64  `json:"failures"`
}

// Stats describes the index.
type Stats struct {
	Shards         []ShardStats `json:"shards"`
	TotalDocuments int          `json:"total_documents"`
	TotalQueries   int64        `json:"total_queries"`
	PartialQueries int64        `json:"partial_queries"`
}
