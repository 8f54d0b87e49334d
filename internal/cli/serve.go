package cli

import (
	"github.com/faceattend/faceattend/internal/daemon"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC liveness API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.logger.Infof("Starting FaceAttend daemon %s...", Version)

			d, err := daemon.New(cmd.Context(), opts.configPath, opts.config, opts.logger)
			if err != nil {
				return err
			}
			return d.Run(cmd.Context())
		},
	}
}
