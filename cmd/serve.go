package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"fdsengine/bootstrap"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume transactions from Kafka and publish incidents",
		Long: `Run the streaming detection service: consume transactions from the input
topic in batches, evaluate each batch, publish incidents to the incident topic
and expose Prometheus metrics. Stops cleanly on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.NewApp(ctx, configFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.Shutdown()

			headerColor.Fprintf(cmd.OutOrStdout(), "fdsengine serving %d rules from %s\n", len(app.Rules), app.Config.Rules.File)
			return app.Run(ctx)
		},
	}
}
