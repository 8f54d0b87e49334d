// Package cli implements the faceattend command line
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/faceattend/faceattend/internal/config"
	"github.com/faceattend/faceattend/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is the application version
const Version = "1.0.0"

// options holds the global flags and the state loaded from them
type options struct {
	configPath string
	verbose    bool

	config    *config.Config
	logger    *logrus.Logger
	logCloser io.Closer
}

// NewRootCommand builds the faceattend command tree
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "faceattend",
		Short:         "Face liveness checking service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logCloser != nil {
				_ = opts.logCloser.Close()
			}
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		newServeCommand(opts),
		newCheckCommand(opts),
		newCaptureCommand(opts),
		newHistoryCommand(opts),
		newConfigCommand(opts),
	)

	return root
}

// load reads the configuration and builds the logger
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	// Keep stdout for command output
	if cfg.Logging.File == "" {
		logger.SetOutput(cmd.ErrOrStderr())
	}
	logging.SetVerbose(logger, o.verbose)

	o.config = cfg
	o.logger = logger
	o.logCloser = closer
	return nil
}

// Execute runs the root command, cancelling on SIGINT or SIGTERM
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
