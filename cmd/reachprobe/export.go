package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hazz-dev/reachprobe/internal/archive"
	"github.com/hazz-dev/reachprobe/internal/logging"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

type exportFlags struct {
	app      int64
	endpoint int64
	limit    int
	out      string
	upload   bool
}

func exportCmd() *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export probe history as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, f)
		},
	}
	cmd.Flags().Int64Var(&f.app, "app", 0, "only this application ID")
	cmd.Flags().Int64Var(&f.endpoint, "endpoint", 0, "only this endpoint ID")
	cmd.Flags().IntVar(&f.limit, "limit", storage.MaxHistoryLimit, "maximum number of entries")
	cmd.Flags().StringVarP(&f.out, "out", "o", "-", "output file (- for stdout)")
	cmd.Flags().BoolVar(&f.upload, "upload", false, "upload to the configured archive bucket instead of writing locally")
	return cmd
}

func runExport(cmd *cobra.Command, f exportFlags) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	filter := storage.HistoryFilter{ApplicationID: f.app, EndpointID: f.endpoint, Limit: f.limit}

	if f.upload {
		logger, err := logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		defer logger.Sync()

		up, err := archive.NewS3(cfg.Archive, logger.Named("archive"))
		if err != nil {
			return err
		}
		if err := up.EnsureBucket(cmd.Context()); err != nil {
			return err
		}
		key, n, err := archive.ExportToBucket(cmd.Context(), db, filter, up)
		if err != nil {
			return err
		}
		logger.Info("export_uploaded", zap.String("bucket", up.Bucket()), zap.String("key", key), zap.Int("entries", n))
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d entries to s3://%s/%s\n", n, up.Bucket(), key)
		return nil
	}

	return exportTo(cmd, db, filter, f.out)
}

func exportTo(cmd *cobra.Command, src archive.HistorySource, filter storage.HistoryFilter, path string) error {
	var w io.Writer = cmd.OutOrStdout()
	if path != "" && path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		defer file.Close()
		w = file
	}

	n, err := archive.Export(cmd.Context(), src, filter, w)
	if err != nil {
		return err
	}
	if path != "" && path != "-" {
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d entries to %s\n", n, path)
	}
	return nil
}
