package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/federated/internal/logging"
	"github.com/fyrsmithlabs/federated/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		enableJobs bool
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the platform as MCP tools on stdio",
		Long: `Run an MCP server on stdin/stdout. Every tool call is forwarded to the
daemon's control API, so the daemon must be running.

Logs go to stderr; stdout carries the protocol.

Examples:
  fedctl mcp
  fedctl mcp --enable-jobs --server http://127.0.0.1:8989`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := stderrLogger(logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg := mcp.DefaultConfig()
			cfg.Version = version
			cfg.Logger = logger
			cfg.EnableJobs = enableJobs

			srv, err := mcp.NewServer(cfg, newClient())
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&enableJobs, "enable-jobs", false, "expose the run_job tool")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "stderr log level")
	return cmd
}

func stderrLogger(level string) (*logging.Logger, error) {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := logging.NewDefaultConfig()
	cfg.Level = lvl
	cfg.Output = os.Stderr
	cfg.Fields = map[string]string{"service": "fedctl"}
	return logging.NewLogger(cfg)
}
