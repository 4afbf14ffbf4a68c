package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/reachprobe/internal/config"
	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/storage"
	"github.com/hazz-dev/reachprobe/internal/version"
)

const defaultConfigFile = "reachprobe.yml"

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "reachprobe",
		Short:        "Check whether security controls block access to sites and SaaS endpoints",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigFile, "config file path")

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(remoteCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// loadConfig reads --config. A missing file is only an error when the flag
// was set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadOrDefault(cfgFile)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*storage.DB, error) {
	dsn := cfg.Storage.Path
	if cfg.Storage.Driver == config.DriverPostgres {
		dsn = cfg.Storage.DSN
	}
	db, err := storage.OpenDriver(cfg.Storage.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func newProber(cfg config.ProbeConfig, mode probe.Mode) *probe.Prober {
	ua := cfg.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	return probe.New(probe.Options{
		Timeout:      cfg.Timeout.Duration,
		Mode:         mode,
		MaxRedirects: cfg.MaxRedirects,
		UserAgent:    ua,
	})
}
