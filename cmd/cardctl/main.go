// Command cardctl submits price card extraction jobs and resolves media URLs
// against a running api-service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/pricecards/internal/client"
	"github.com/cuongbtq/pricecards/internal/config"
	"github.com/cuongbtq/pricecards/shared/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	apiURL     string
	token      string
	configPath string
	verbose    bool
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "cardctl",
		Short:         "Grain price card console client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultAPI := os.Getenv("CARDCTL_API_URL")
	if defaultAPI == "" {
		defaultAPI = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.apiURL, "api", defaultAPI, "api-service base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("CARDCTL_TOKEN"), "bearer token for api-service")
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CARDCTL_CONFIG_PATH"), "optional config file with poller and media settings")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging to stderr")

	root.AddCommand(newAnalyzeCmd(opts), newResolveCmd(opts), newTokenCmd(opts))
	return root
}

// loadConfig returns the defaults when no config file is given
func (o *globalOptions) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if o.configPath == "" {
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	} else {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.ValidateClientConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (o *globalOptions) apiClient() *client.Client {
	api := client.New(o.apiURL, nil)
	if o.token != "" {
		api = api.WithToken(o.token)
	}
	return api
}

func (o *globalOptions) logger() *slog.Logger {
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	l, err := logger.New(&logger.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		return slog.Default()
	}
	return l.Logger
}

// errJobFailed is returned when the job ends in failed or error
var errJobFailed = errors.New("job failed")
