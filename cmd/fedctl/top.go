package main

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/federated/internal/client"
	"github.com/fyrsmithlabs/federated/internal/monitor"
	"github.com/fyrsmithlabs/federated/internal/platform"
)

func newTopCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live dashboard of platform health",
		Long: `Show a refreshing terminal dashboard fed by the daemon's status endpoint.

Keys: q quits, r refreshes immediately.

Examples:
  fedctl top
  fedctl top --interval 5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			model := monitor.NewModel(serverURL, statusFetcher(newClient()), interval)
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			if errors.Is(err, tea.ErrProgramKilled) && cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}

func statusFetcher(c *client.Client) monitor.Fetcher {
	return func(ctx context.Context) (monitor.Reading, error) {
		st, err := c.Status(ctx)
		if err != nil {
			return monitor.Reading{}, err
		}
		return toReading(st), nil
	}
}

func toReading(st platform.Status) monitor.Reading {
	r := monitor.Reading{
		State:            st.State,
		Root:             st.Root,
		Uptime:           st.UptimeSeconds,
		Documents:        st.SearchStats.TotalDocuments,
		Shards:           len(st.SearchStats.Shards),
		QueriesProcessed: st.QueriesProcessed,
		PartialQueries:   st.SearchStats.PartialQueries,
		Violations:       st.RuleReport.Violations,
		Fixed:            st.ViolationsFixed,
		Failed:           st.RuleReport.Failed,
		Skipped:          st.RuleReport.Skipped,
		MonitorSkipped:   st.MonitorSkipped,
		At:               st.UpdatedAt,
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	for _, d := range st.Stores {
		r.Stores = append(r.Stores, monitor.StoreReading{
			Name:      d.Name,
			Kind:      string(d.Kind),
			Online:    d.Online,
			LastError: d.LastError,
		})
	}
	return r
}
