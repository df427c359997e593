// Package main implements fedctl, the command-line client for the federated
// daemon's control API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/federated/internal/client"
	"github.com/fyrsmithlabs/federated/internal/monitor"
	"github.com/fyrsmithlabs/federated/internal/platform"
)

var (
	// serverURL is the base URL of the daemon's control API
	serverURL string
	timeout   time.Duration
	asJSON    bool

	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fedctl",
		Short: "CLI for the federated data platform daemon",
		Long: `fedctl talks to a running federated daemon over its HTTP control API.
It can report platform status, search the federated index, enforce rules,
run federated queries, show a live dashboard and serve MCP on stdio.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("FEDERATED_URL", client.DefaultURL), "daemon control API URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print raw JSON")

	root.AddCommand(
		newStatusCmd(),
		newSearchCmd(),
		newEnforceCmd(),
		newQueryCmd(),
		newTopCmd(),
		newMCPCmd(),
		newVersionCmd(),
	)
	return root
}

func newClient() *client.Client {
	return client.New(serverURL, timeout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show platform status",
		Long: `Show lifecycle state, store health and counters of the daemon.

Examples:
  fedctl status
  fedctl status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := newClient().Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st platform.Status) {
	fmt.Fprintf(w, "State:      %s (%s)\n", st.State, st.Status)
	fmt.Fprintf(w, "Root:       %s\n", st.Root)
	fmt.Fprintf(w, "Uptime:     %s\n", monitor.FormatUptime(st.UptimeSeconds))
	fmt.Fprintf(w, "Databases:  %s online\n", monitor.FormatRatio(st.DatabasesOnline, st.DatabasesTotal))
	fmt.Fprintf(w, "Documents:  %s in %d shards\n", monitor.FormatCount(int64(st.SearchStats.TotalDocuments)), len(st.SearchStats.Shards))
	fmt.Fprintf(w, "Queries:    %s\n", monitor.FormatCount(st.QueriesProcessed))
	fmt.Fprintf(w, "Violations: %d found, %d fixed\n", st.RuleReport.Violations, st.ViolationsFixed)
	for _, d := range st.Stores {
		mark := "up"
		if !d.Online {
			mark = "down"
		}
		line := fmt.Sprintf("  %-24s %-10s %s", d.Name, d.Kind, mark)
		if d.LastError != "" {
			line += "  " + d.LastError
		}
		fmt.Fprintln(w, line)
	}
}

func newSearchCmd() *cobra.Command {
	var filters map[string]string
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search the federated index",
		Long: `Run a full-text search across every shard of the index.

Examples:
  fedctl search "retry policy"
  fedctl search config --filter language=go`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := newClient().Search(cmd.Context(), args[0], filters)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), results)
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d. %-40s %.3f\n", i+1, r.Title, r.Score)
			}
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&filters, "filter", nil, "metadata filter key=value (repeatable)")
	return cmd
}

func newEnforceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enforce [path]",
		Short: "Scan for rule violations and apply fixes",
		Long: `Enforce rules on one file, or on the whole watched tree when no path is given.

Examples:
  fedctl enforce
  fedctl enforce src/app.js`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			out, err := newClient().Enforce(cmd.Context(), path)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fixed %d, failed %d, skipped %d\n", out.Fixed, out.Failed, out.Skipped)
			for _, r := range out.Results {
				line := fmt.Sprintf("  %-8s %s:%d %s", r.Outcome, r.Violation.Path, r.Violation.Line, r.Violation.RuleID)
				if r.Error != "" {
					line += " (" + r.Error + ")"
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newQueryCmd() *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "query <query>",
		Short: "Run a federated query",
		Long: `Run a query routed by the sharding rule, or fanned out to every store.

Examples:
  fedctl query "SELECT * FROM docs" --param routing_key=user-42
  fedctl query "SELECT count(*) AS n FROM docs"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := newClient().Query(cmd.Context(), args[0], queryParams(params))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringToStringVar(&params, "param", nil, "query parameter key=value (repeatable)")
	return cmd
}

func queryParams(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fedctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fedctl %s\n", version)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
