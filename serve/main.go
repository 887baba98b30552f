// Command passbridged is the passbridge daemon.
// It listens on a Unix domain socket for page-script bridge traffic, one
// connection per page, and answers autofill requests from its credential store.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	passbridge "github.com/Paranoid-AF/passbridge"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type rootOptions struct {
	verbose    bool
	configPath string
	socket     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "passbridged",
		Short:        "Credential autofill bridge daemon",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "log every message and decision to stderr")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default "+passbridge.ConfigPath()+")")
	cmd.Flags().StringVar(&opts.socket, "socket", "", "socket path, overrides config and environment")

	cmd.AddCommand(newVersionCommand(), newConfigCommand(opts))
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "passbridged", Version)
		},
	}
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			for _, w := range passbridge.ValidateConfig(cfg) {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
}

func loadConfig(opts *rootOptions) (*passbridge.Config, error) {
	if opts.configPath != "" {
		return passbridge.LoadConfigFile(opts.configPath)
	}
	return passbridge.LoadConfig()
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runServe(opts *rootOptions) error {
	setupLogging(opts.verbose)

	cfg, err := loadConfig(opts)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}
	for _, w := range passbridge.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	socketPath := resolveSocketPath(cfg, opts.socket)

	slog.Info("starting", "socket", socketPath)

	srv, err := NewServer(socketPath, cfg)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		return err
	}
	defer srv.Close()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("shutting down")
		srv.Close()
		os.Exit(0)
	}()

	slog.Info("ready")
	if err := srv.Serve(); err != nil {
		slog.Error("server error", "error", err)
		return err
	}
	return nil
}

func resolveSocketPath(cfg *passbridge.Config, override string) string {
	if override != "" {
		return override
	}
	return passbridge.SocketPath(cfg)
}
