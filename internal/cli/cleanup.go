package cli

import (
	"github.com/spf13/cobra"

	"github.com/tbourn/devlift/internal/housekeeping"
)

func newCleanupCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run every housekeeping job once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := housekeeping.New(cmd.Context(), a.jobs()...)
			if err != nil {
				return err
			}
			defer func() { _ = r.Shutdown() }()
			return r.RunOnce(cmd.Context())
		},
	}
}
