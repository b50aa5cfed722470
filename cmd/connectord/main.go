// connectord serves the Instagram connector's login and logout flows.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/fedconnect/connector/internal/host"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "connectord",
		Short:         "Federated Instagram authentication connector",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the config")
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the login and logout flows over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config file")
	return cmd
}

// loadEnv loads the dotenv file into the environment.  A missing file is
// ignored.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unable to load %s: %w", path, err)
	}
	return nil
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := host.Load(configPath)
	if err != nil {
		return err
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "connectord",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})
	a, err := host.NewAuthenticator(cfg, logger)
	if err != nil {
		return err
	}
	s, err := host.NewServer(cfg, a, host.WithLogger(logger))
	if err != nil {
		return err
	}
	return s.ListenAndServe(ctx)
}
