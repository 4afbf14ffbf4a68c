package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

// errBlocked makes the process exit non-zero when any target was blocked.
var errBlocked = errors.New("one or more targets are blocked")

type checkFlags struct {
	method      string
	data        string
	contentType string
	opaque      bool
	timeout     time.Duration
	concurrency int
}

func checkCmd() *cobra.Command {
	var f checkFlags
	cmd := &cobra.Command{
		Use:   "check [url...]",
		Short: "Probe URLs once from this machine (default endpoints when none are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args, f)
		},
	}
	cmd.Flags().StringVarP(&f.method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringVarP(&f.data, "data", "d", "", "request payload")
	cmd.Flags().StringVar(&f.contentType, "content-type", "", "payload content type (default text/plain)")
	cmd.Flags().BoolVar(&f.opaque, "opaque", false, "classify like a browser no-cors fetch (any response is reachable)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-probe timeout (default from config)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "parallel probes (default from config)")
	return cmd
}

// checkTarget is one row of check output.
type checkTarget struct {
	Name   string
	Target probe.Target
}

type endpointSource interface {
	DefaultEndpoints(ctx context.Context) ([]storage.Endpoint, error)
}

func runCheck(cmd *cobra.Command, args []string, f checkFlags) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if f.timeout > 0 {
		cfg.Probe.Timeout.Duration = f.timeout
	}
	concurrency := f.concurrency
	if concurrency <= 0 {
		concurrency = cfg.Scheduler.Concurrency
	}

	var targets []checkTarget
	if len(args) > 0 {
		targets = urlTargets(args, f)
	} else {
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.Seed.Enabled {
			if err := db.Seed(cmd.Context()); err != nil {
				return fmt.Errorf("seeding defaults: %w", err)
			}
		}
		if targets, err = endpointTargets(cmd.Context(), db); err != nil {
			return err
		}
	}

	mode := probe.ModeFull
	if f.opaque {
		mode = probe.ModeOpaque
	}
	return runChecks(cmd.Context(), cmd.OutOrStdout(), newProber(cfg.Probe, mode), targets, concurrency)
}

func urlTargets(urls []string, f checkFlags) []checkTarget {
	targets := make([]checkTarget, len(urls))
	for i, u := range urls {
		targets[i] = checkTarget{
			Name:   u,
			Target: probe.Target{URL: u, Method: f.method, Payload: f.data, ContentType: f.contentType},
		}
	}
	return targets
}

func endpointTargets(ctx context.Context, src endpointSource) ([]checkTarget, error) {
	eps, err := src.DefaultEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading default endpoints: %w", err)
	}
	targets := make([]checkTarget, len(eps))
	for i, ep := range eps {
		targets[i] = checkTarget{Name: ep.Label, Target: ep.Target()}
	}
	return targets, nil
}

func runChecks(ctx context.Context, out io.Writer, p interface {
	Probe(context.Context, probe.Target) probe.Result
}, targets []checkTarget, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]probe.Result, len(targets))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = p.Probe(ctx, t.Target)
			return nil
		})
	}
	g.Wait()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tSTATUS\tHTTP\tLATENCY\tURL\tERROR")
	allReachable := true
	for i, t := range targets {
		r := results[i]
		code := "-"
		if r.HTTPStatus != 0 {
			code = fmt.Sprint(r.HTTPStatus)
		}
		detail := r.Error
		if r.Title != "" && !r.Reachable() {
			detail = fmt.Sprintf("%s (page %q)", detail, r.Title)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Name,
			r.Status,
			code,
			formatLatency(r.LatencyMs),
			r.URL,
			detail,
		)
		if !r.Reachable() {
			allReachable = false
		}
	}
	w.Flush()

	if !allReachable {
		return errBlocked
	}
	return nil
}

func formatLatency(ms float64) string {
	if ms <= 0 {
		return "-"
	}
	return (time.Duration(ms * float64(time.Millisecond))).Round(time.Millisecond).String()
}
