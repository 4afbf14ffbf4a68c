package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/reachprobe/internal/client"
	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/scheduler"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

func remoteCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query a running reachprobe server",
	}
	defaultURL := os.Getenv("REACHPROBE_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "reachprobe server URL")

	newClient := func() *client.Client { return client.New(serverURL) }
	cmd.AddCommand(remoteCheckCmd(newClient))
	cmd.AddCommand(remoteSummaryCmd(newClient))
	cmd.AddCommand(remoteHistoryCmd(newClient))
	return cmd
}

func remoteCheckCmd(newClient func() *client.Client) *cobra.Command {
	var req client.CheckRequest
	cmd := &cobra.Command{
		Use:   "check <url>",
		Short: "Ask the server to probe a URL from its network position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.URL = args[0]
			return executeRemoteCheck(cmd.Context(), cmd.OutOrStdout(), newClient(), req)
		},
	}
	cmd.Flags().StringVarP(&req.Method, "method", "X", "", "HTTP method")
	cmd.Flags().StringVarP(&req.Payload, "data", "d", "", "request payload")
	cmd.Flags().StringVar(&req.ContentType, "content-type", "", "payload content type")
	return cmd
}

func executeRemoteCheck(ctx context.Context, out io.Writer, c *client.Client, req client.CheckRequest) error {
	res, err := c.ServerCheck(ctx, req)
	if err != nil {
		return err
	}
	code := "-"
	if res.HTTPStatus != 0 {
		code = fmt.Sprint(res.HTTPStatus)
	}
	fmt.Fprintf(out, "%s  %s  http=%s  latency=%s", res.URL, res.Status, code, formatLatency(res.LatencyMs))
	if res.Error != "" {
		fmt.Fprintf(out, "  error=%s", res.Error)
	}
	fmt.Fprintln(out)
	if res.Status != probe.StatusReachable {
		return errBlocked
	}
	return nil
}

func remoteSummaryCmd(newClient func() *client.Client) *cobra.Command {
	var (
		watch bool
		every time.Duration
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the scheduler's last run and the time until the next one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient()
			out := cmd.OutOrStdout()
			if !watch {
				st, err := c.Summary(cmd.Context())
				if err != nil {
					return err
				}
				printSummary(out, st, time.Now())
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			w := c.WatchSummary(ctx, every, func(st *scheduler.Status, err error) {
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "summary: %v\n", err)
					return
				}
				printSummary(out, st, time.Now())
			})
			<-ctx.Done()
			w.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep polling until interrupted")
	cmd.Flags().DurationVar(&every, "every", client.DefaultWatchInterval, "poll interval with --watch")
	return cmd
}

func printSummary(out io.Writer, st *scheduler.Status, now time.Time) {
	interval := time.Duration(st.IntervalMs) * time.Millisecond
	if st.LastRun == nil {
		fmt.Fprintf(out, "last run: never  interval: %s\n", interval)
		return
	}
	next := st.LastRun.Add(interval)
	remaining := next.Sub(now).Round(time.Second)
	if remaining < 0 {
		remaining = 0
	}
	fmt.Fprintf(out, "last run: %s  interval: %s  next in: %s\n",
		st.LastRun.Local().Format(time.RFC3339), interval, remaining)
}

func remoteHistoryCmd(newClient func() *client.Client) *cobra.Command {
	var f storage.HistoryFilter
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored scheduler results, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := newClient().History(cmd.Context(), f)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().Int64Var(&f.ApplicationID, "app", 0, "only this application ID")
	cmd.Flags().Int64Var(&f.EndpointID, "endpoint", 0, "only this endpoint ID")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum number of entries")
	return cmd
}

func printHistory(out io.Writer, entries []storage.HistoryEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tAPPLICATION\tENDPOINT\tSTATUS\tLATENCY\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.ApplicationName,
			e.EndpointLabel,
			e.Status,
			formatLatency(e.LatencyMs),
			e.Error,
		)
	}
	w.Flush()
}
