package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/federated/internal/logging"
	"github.com/fyrsmithlabs/federated/internal/platform"
	"github.com/fyrsmithlabs/federated/internal/rules"
	"github.com/fyrsmithlabs/federated/internal/search"
	"github.com/fyrsmithlabs/federated/internal/store"
	"github.com/fyrsmithlabs/federated/internal/worker"
)

// Daemon is the control API surface the tools call. *client.Client
// implements it.
type Daemon interface {
	Status(ctx context.Context) (platform.Status, error)
	Search(ctx context.Context, text string, filters map[string]string) ([]search.Result, error)
	Enforce(ctx context.Context, path string) (rules.FixOutcome, error)
	Query(ctx context.Context, query string, params map[string]any) ([]store.Row, error)
	RunJob(ctx context.Context, input, output string) (worker.Result, error)
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients.
	Name    string
	Version string
	Logger  *logging.Logger
	// EnableJobs registers the run_job tool.
	EnableJobs bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "federated",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// Server is an MCP server backed by a Daemon.
type Server struct {
	mcp     *mcp.Server
	daemon  Daemon
	metrics *Metrics
	logger  *logging.Logger
}

// NewServer creates a server and registers its tools.
func NewServer(cfg *Config, daemon Daemon) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if daemon == nil {
		return nil, fmt.Errorf("daemon client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		daemon:  daemon,
		metrics: NewMetrics(logger),
		logger:  logger.Named("mcp"),
	}
	s.registerTools(cfg.EnableJobs)
	return s, nil
}

// Run serves on stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on t. Used with in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
