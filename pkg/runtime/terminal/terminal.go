package terminal

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/de-tools/identity-atlas/pkg/runtime/terminal/commands"
	"github.com/de-tools/identity-atlas/pkg/services/registry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// CLI represents the command-line interface
type CLI struct {
	registry registry.Registry
	output   io.Writer
	logs     io.Writer
	noColor  bool
	logLevel string
	rootCmd  *cobra.Command
}

// Options contain configuration for the CLI
type Options struct {
	Registry registry.Registry
	Output   io.Writer
	// Logs receives structured logs; stderr when nil.
	Logs    io.Writer
	NoColor bool
}

// NewCLI creates a new CLI instance
func NewCLI(opts Options) *CLI {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Logs == nil {
		opts.Logs = os.Stderr
	}
	if opts.Registry == nil {
		opts.Registry = registry.Default()
	}

	cli := &CLI{
		registry: opts.Registry,
		output:   opts.Output,
		logs:     opts.Logs,
		noColor:  opts.NoColor,
	}

	cli.rootCmd = cli.newRootCmd()
	return cli
}

func (cli *CLI) Execute(ctx context.Context) error {
	return cli.rootCmd.ExecuteContext(ctx)
}

func (cli *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "identity-atlas",
		Short:             "Security posture audit for cloud identities",
		SilenceUsage:      true,
		PersistentPreRunE: cli.configureLogger,
	}
	cmd.SetOut(cli.output)
	cmd.PersistentFlags().StringVar(&cli.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&cli.noColor, "no-color", cli.noColor, "Disable coloured output")

	cmd.AddCommand(commands.NewRunCmd(cli.registry, func() commands.ReportHandler {
		return NewReporter(cli.output, cli.noColor)
	}))
	cmd.AddCommand(commands.NewRulesCmd(cli.registry))
	cmd.AddCommand(commands.NewPlatformsCmd(cli.registry))

	return cmd
}

func (cli *CLI) configureLogger(cmd *cobra.Command, _ []string) error {
	level, err := zerolog.ParseLevel(cli.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cli.logLevel, err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: cli.logs, NoColor: cli.noColor}).
		Level(level).
		With().
		Timestamp().
		Logger()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logger.WithContext(ctx))
	return nil
}
