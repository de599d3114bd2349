package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/testfleet/internal/dispatch"
)

func newStopCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Publish STOP tickets so running workers exit",
		Long:  "Publish --count STOP tickets on the work topic. Each worker exits on the first STOP it consumes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return errors.New("--count must be positive")
			}
			kcfg := dispatch.FromConfig(cfg.Kafka)
			client, err := dispatch.NewClient(kcfg, "stop", logger, nil, dispatch.ProducerOpts(kcfg)...)
			if err != nil {
				return fmt.Errorf("kafka producer: %w", err)
			}
			defer client.Close()

			ctx, stop := signalContext()
			defer stop()
			pub := dispatch.NewPublisher(client, kcfg.Topic, nil, logger)
			if err := pub.PublishStop(ctx, count); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %d STOP ticket(s) to %s\n", count, kcfg.Topic)
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "Number of STOP tickets (one per running worker)")
	return cmd
}
