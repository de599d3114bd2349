package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUnlockCmd() *cobra.Command {
	var holder string
	cmd := &cobra.Command{
		Use:   "unlock TARGET...",
		Short: "Free targets regardless of their holder",
		Long: "Administrative override for locks left behind by a crashed worker. With --holder " +
			"only locks held by that holder are released.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			name := holder
			if name == "" {
				name = "admin"
			}
			svc, err := lockService(ctx, name, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, target := range args {
				var released bool
				if holder != "" {
					released, err = svc.Unlock(ctx, target)
				} else {
					released, err = svc.ForceUnlock(ctx, target)
				}
				if err != nil {
					return err
				}
				if released {
					fmt.Fprintf(out, "%s: released\n", target)
				} else {
					fmt.Fprintf(out, "%s: not locked\n", target)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&holder, "holder", "", "Only release locks held by this holder")
	return cmd
}
