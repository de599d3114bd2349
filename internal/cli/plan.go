package cli

import (
	"github.com/spf13/cobra"

	"github.com/me/testfleet/internal/classify"
	"github.com/me/testfleet/internal/plan"
)

func newPlanCmd() *cobra.Command {
	var (
		universePath string
		tickets      []string
		tests        []string
		meta         plan.Meta
		format       string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the work items a session would dispatch",
		Long:  "Classify the universe and plan the requested tests without touching the broker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			universe, err := loadUniverse(universePath)
			if err != nil {
				return err
			}
			requests, resolver, err := requestSource(tickets, tests)
			if err != nil {
				return err
			}
			if resolver != nil {
				requests, err = plan.ResolveRequests(cmd.Context(), resolver, tickets, logger)
				if err != nil {
					return err
				}
			}

			res := classify.New(classifierOptions(cfg.Classifier), logger).Build(universe.Records())
			p := plan.Build(requests, universe, res.Index, res.Skipped, logger)
			return writeWorkItems(cmd.OutOrStdout(), format, p.WorkItems(meta))
		},
	}
	cmd.Flags().StringVar(&universePath, "universe", "", "Test universe snapshot (YAML or JSON)")
	cmd.Flags().StringSliceVar(&tickets, "ticket", nil, "Execution ticket to resolve (repeatable)")
	cmd.Flags().StringSliceVar(&tests, "test", nil, "Explicit test id instead of resolving tickets (repeatable)")
	cmd.Flags().StringSliceVar(&meta.Targets, "target", nil, "Candidate target (repeatable)")
	cmd.Flags().StringVar(&meta.Build, "build", "", "Build identifier (default 000)")
	cmd.Flags().StringVar(&meta.BuildType, "build-type", "", "Build type")
	cmd.Flags().StringVar(&meta.TestPlan, "test-plan", "", "Test plan identifier")
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "Output format (table, json, csv)")
	return cmd
}
