package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cortexlab/alyx-go/internal/catalog"
	"github.com/cortexlab/alyx-go/internal/config"
	"github.com/cortexlab/alyx-go/internal/metrics"
	"github.com/cortexlab/alyx-go/internal/tokenfile"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath  string
	flagBaseURL     string
	flagJSON        bool
	flagVerbose     bool
	flagQuiet       bool
	flagMetricsFile string
)

// CLIFlags is the snapshot of global flags a command runs with.
type CLIFlags struct {
	JSON        bool
	Verbose     bool
	Quiet       bool
	MetricsFile string
}

// CLIContext carries everything a subcommand needs. It is built once in
// PersistentPreRunE and stored in the command's context.
type CLIContext struct {
	Cfg     *config.Config
	Flags   CLIFlags
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	RunID   string
	Out     io.Writer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext installed by the root pre-run.
// Panics if it is missing; every subcommand runs after the pre-run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("cli context not initialized")
	}

	return cc
}

// newRootCmd builds the root command with every subcommand registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "alyx-go",
		Short:   "Alyx catalog client",
		Long:    "Query the Alyx catalog and replicate missing file copies between data repositories.",
		Version: version,
		// Errors are printed once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "catalog base URL")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().StringVar(&flagMetricsFile, "metrics-file", "",
		"write Prometheus metrics to this file on exit (textfile collector format)")

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch} {
		cmd.AddCommand(newRequestCmd(method))
	}

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newTransfersCmd())
	cmd.AddCommand(newTransferCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// execute runs the root command. The metrics textfile is written after the
// command finishes, whether or not it failed.
func execute(root *cobra.Command) error {
	cmd, err := root.ExecuteC()
	if cmd == nil || cmd.Context() == nil {
		return err
	}

	cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext)
	if !ok || cc.Flags.MetricsFile == "" {
		return err
	}

	if writeErr := cc.Metrics.WriteTextfile(cc.Flags.MetricsFile); writeErr != nil {
		return errors.Join(err, fmt.Errorf("writing metrics: %w", writeErr))
	}

	return err
}

// newCLIContext resolves configuration and builds the shared dependencies.
func newCLIContext(out io.Writer) (*CLIContext, error) {
	cfg, err := config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{
		ConfigPath: flagConfigPath,
		BaseURL:    flagBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	flags := CLIFlags{
		JSON:        flagJSON,
		Verbose:     flagVerbose,
		Quiet:       flagQuiet,
		MetricsFile: flagMetricsFile,
	}

	runID := uuid.NewString()
	logger := buildLogger(cfg.Logging.LogLevel, flags).With(slog.String("run_id", runID))

	logger.Debug("config resolved",
		slog.String("base_url", cfg.BaseURL),
		slog.String("token_file", cfg.TokenFile),
	)

	return &CLIContext{
		Cfg:     cfg,
		Flags:   flags,
		Logger:  logger,
		Metrics: metrics.New(),
		RunID:   runID,
		Out:     out,
	}, nil
}

// buildLogger uses the configured level as the baseline; --verbose and
// --quiet override it.
func buildLogger(configLevel string, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo

	switch configLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// catalogClient builds the catalog client from the resolved config.
func (cc *CLIContext) catalogClient() (*catalog.Client, error) {
	client, err := catalog.NewClient(catalog.Options{
		BaseURL:          cc.Cfg.BaseURL,
		HTTPClient:       &http.Client{Timeout: cc.Cfg.Network.RequestTimeoutDuration()},
		Tokens:           tokenfile.NewStore(cc.Cfg.TokenFile),
		Credentials:      catalog.CredentialFile(cc.Cfg.CredentialsFile),
		Logger:           cc.Logger,
		Metrics:          cc.Metrics,
		UserAgent:        "alyx-go/" + version,
		MaxAttempts:      cc.Cfg.Network.MaxAttempts,
		BreakerThreshold: cc.Cfg.Network.BreakerThreshold,
		BreakerCooldown:  cc.Cfg.Network.BreakerCooldownDuration(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating catalog client: %w", err)
	}

	return client, nil
}
