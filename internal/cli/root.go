// Package cli implements the devlift command line: the HTTP server and the
// operator commands that share its configuration.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tbourn/devlift/internal/config"
	"github.com/tbourn/devlift/internal/sysutil"
)

// options are the global flags.
type options struct {
	envFiles []string
	logLevel string
	pretty   bool

	cfg config.Config
}

// NewRootCommand builds the devlift command tree. Output of subcommands goes
// to out; logs go to errOut.
func NewRootCommand(version string, out, errOut io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "devlift",
		Short: "devlift - quota-gated developer artifact generation",
		Long: `devlift turns GitHub repositories and uploaded documents into README files,
directory trees, LinkedIn profile summaries and resumes, charging each
request against a per-user, per-service quota.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := sysutil.LoadDotEnv(opts.envFiles...); err != nil {
				return fmt.Errorf("load env: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := sysutil.FirstNonEmpty(opts.logLevel, cfg.LogLevel)
			sysutil.SetupLogger(errOut, level, opts.pretty || cfg.LogPretty)
			opts.cfg = cfg
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load before reading the environment (default .env)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "human-readable console logs")

	root.AddCommand(
		newServeCommand(opts, version),
		newTreeCommand(opts),
		newDocumentsCommand(opts),
		newCleanupCommand(opts),
	)
	return root
}

// Execute runs the command tree against the process arguments.
func Execute(version string) error {
	root := NewRootCommand(version, os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
