package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/printer"
)

func newRecommendationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recommendations",
		Aliases: []string{"recs"},
		Short:   "Inspect and acknowledge routed recommendations",
	}
	cmd.AddCommand(newRecommendationsListCmd())
	cmd.AddCommand(newRecommendationsAckCmd())
	return cmd
}

func newRecommendationsListCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending recommendations for --target (campaigns, creative, coaching)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				return errors.New("--target is required")
			}
			ws, err := requireWorkspace(cmd)
			if err != nil {
				return err
			}
			env, err := openMesh(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close() }()

			pending, err := env.Router.GetPendingRecommendations(cmd.Context(), core.TargetSystem(target), ws)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				printer.Muted(out, "No pending recommendations for %s.\n", target)
				return nil
			}
			for _, rec := range pending {
				printer.Printf(out, "%s  %-8s %-24s %s\n", rec.Key, rec.Action.Priority, rec.Action.Type, rec.Action.SourceAgent)
				printer.Muted(out, "    routed %s\n", rec.RoutedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Target system")
	return cmd
}

func newRecommendationsAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <key> <accepted|rejected|deferred>",
		Short: "Record a collaborator's response to a recommendation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := requireWorkspace(cmd)
			if err != nil {
				return err
			}
			env, err := openMesh(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close() }()

			ack, err := env.Router.AcknowledgeRecommendation(cmd.Context(), args[0], ws, core.AckResponse(args[1]))
			if errors.Is(err, core.ErrNotFound) {
				return printer.Error(cmd.ErrOrStderr(), fmt.Sprintf("Recommendation %s not found", args[0]), "",
					map[string]string{"Workspace": ws}, []string{"List pending keys with `meshctl recommendations list --target <system>`"})
			}
			if err != nil {
				return err
			}
			printer.Success(cmd.OutOrStdout(), "%s %s\n", ack.Key, ack.Response)
			return nil
		},
	}
}
