package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/reachprobe/internal/storage"
)

type statusStore interface {
	AllLatest(ctx context.Context) ([]storage.HistoryEntry, error)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the latest stored result per endpoint",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return executeStatus(cmd, db)
}

func executeStatus(cmd *cobra.Command, db statusStore) error {
	out := cmd.OutOrStdout()
	entries, err := db.AllLatest(cmd.Context())
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No probe history. Run 'reachprobe serve' first.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "APPLICATION\tENDPOINT\tSTATUS\tHTTP\tLATENCY\tLAST CHECKED\tERROR")
	for _, e := range entries {
		code := "-"
		if e.HTTPStatus != nil {
			code = fmt.Sprint(*e.HTTPStatus)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ApplicationName,
			e.EndpointLabel,
			e.Status,
			code,
			formatLatency(e.LatencyMs),
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Error,
		)
	}
	w.Flush()
	return nil
}
