// Package cmd defines and implements the CLI commands for the imgharvest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/imgharvest/internal/app"
	"github.com/JakeFAU/imgharvest/internal/config"
	"github.com/JakeFAU/imgharvest/internal/harvest"
	"github.com/JakeFAU/imgharvest/internal/logging"
)

// Runner is what commands need from the application. It allows tests to
// inject a fake app.
type Runner interface {
	Run(ctx context.Context, terms []string) harvest.RunSummary
	GetLogger() *zap.Logger
	Close()
}

// appFactory builds the application from a loaded config.
type appFactory func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error)

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

// ExitError carries a non-zero process exit code out of a command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("harvest finished with exit code %d", e.Code)
}

// cli holds per-invocation state shared by the commands.
type cli struct {
	newApp  appFactory
	cfgFile string
	dev     bool

	logger *zap.Logger
	app    Runner
}

// newRootCmd creates the root command using the production app factory.
func newRootCmd() (*cobra.Command, *cli) {
	return newRootCmdWithFactory(newApp)
}

func newRootCmdWithFactory(factory appFactory) (*cobra.Command, *cli) {
	c := &cli{newApp: factory}
	cmd := &cobra.Command{
		Use:   "imgharvest",
		Short: "Discover and download images for a list of search terms.",
		Long: `imgharvest renders a search results page for every term, extracts the
image URLs it links to and downloads them concurrently into one directory
per term.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application before any subcommand runs.
		PersistentPreRunE: c.setup,
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().BoolVar(&c.dev, "dev", false, "use human-readable development logging")

	cmd.AddCommand(newFetchCmd(c))
	return cmd, c
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(cmd, &cfg); err != nil {
		return err
	}
	if c.dev {
		cfg.Logging.Development = true
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger

	appInstance, err := c.newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	c.app = appInstance
	return nil
}

// shutdown closes the application and flushes the logger. Cobra skips post-run
// hooks when a command fails, so this runs after Execute returns instead.
func (c *cli) shutdown() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
	if c.logger != nil {
		_ = logging.Sync(c.logger)
	}
}

func (c *cli) resolveApp() (Runner, error) {
	if c.app == nil {
		return nil, errors.New("application is not initialized")
	}
	return c.app, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the run; the
// process exits with the code derived from the run summary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return runWithFactory(ctx, newApp, args, stdout, stderr)
}

func runWithFactory(ctx context.Context, factory appFactory, args []string, stdout, stderr io.Writer) int {
	root, c := newRootCmdWithFactory(factory)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	c.shutdown()
	if err == nil {
		return harvest.ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return harvest.ExitTermFailures
}
