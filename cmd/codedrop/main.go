// Command codedrop watches AI chat tabs and submits code blocks tagged
// with a filename marker to a local backend, once each.
//
// Usage:
//
//	codedrop run --config codedrop.yaml     # watch tabs, serve the control API
//	codedrop port get <session>             # inspect stored settings
//	codedrop activation set false           # pause automatic submission
//	codedrop mcp                            # serve the tools over stdio
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/codedrop"
	"github.com/hazyhaar/codedrop/internal/store"
	"github.com/hazyhaar/codedrop/internal/submit"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	DBPath     string
	LogLevel   string

	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "codedrop:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "codedrop",
		Short:         "Submit marked code blocks from AI chat tabs to a local backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLevel(opts.LogLevel)
			if err != nil {
				return err
			}
			opts.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to codedrop.yaml")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "path to the SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newPortCommand(opts))
	cmd.AddCommand(newActivationCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newPingCommand(opts))
	cmd.AddCommand(newSubmitCommand(opts))
	cmd.AddCommand(newEndSessionCommand(opts))
	cmd.AddCommand(newSessionsCommand(opts))
	cmd.AddCommand(newMCPCommand(opts))

	return cmd
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
}

// loadConfig reads --config (or the defaults) and applies --db.
func (o *rootOptions) loadConfig() (*codedrop.Config, error) {
	var cfg *codedrop.Config
	if o.ConfigPath != "" {
		c, err := codedrop.LoadConfigFile(o.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	} else {
		cfg = codedrop.DefaultConfig()
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	return cfg, nil
}

// openService opens the store of the configured database for the offline
// subcommands. The caller closes the returned store.
func (o *rootOptions) openService() (*codedrop.Service, *store.Store, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.DBPath, store.WithDefaultPort(cfg.Submit.DefaultPort))
	if err != nil {
		return nil, nil, err
	}
	client := submit.New(
		submit.WithHost(cfg.Submit.Host),
		submit.WithTimeout(cfg.Submit.Timeout),
		submit.WithSubmitPath(cfg.Submit.SubmitPath),
		submit.WithStatusPath(cfg.Submit.StatusPath),
		submit.WithLogger(o.logger),
	)
	return codedrop.NewService(st, client, o.logger), st, nil
}
