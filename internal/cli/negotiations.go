package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/printer"
)

func newNegotiationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "negotiations",
		Short: "Inspect conflict negotiations",
	}
	cmd.AddCommand(newNegotiationsListCmd())
	return cmd
}

func newNegotiationsListCmd() *cobra.Command {
	var (
		teamID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List negotiations newest first, or a team's with --team",
		Args:  cobra.NoArgs,
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

			var ns []core.Negotiation
			if teamID != "" {
				ns, err = env.Negotiations.ListNegotiations(cmd.Context(), teamID)
			} else {
				ns, err = env.Negotiations.ListWorkspaceNegotiations(cmd.Context(), ws, limit)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ns) == 0 {
				printer.Muted(out, "No negotiations.\n")
				return nil
			}
			for _, n := range ns {
				printNegotiation(cmd, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Only this team's negotiations")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum negotiations (0 for all)")
	return cmd
}

func printNegotiation(cmd *cobra.Command, n core.Negotiation) {
	out := cmd.OutOrStdout()
	line := "%s  %-11s %-20s %d turns\n"
	args := []any{n.ID, n.Status, n.Topic, len(n.Conversation)}
	switch n.Status {
	case core.NegotiationConverged:
		printer.Success(out, line, args...)
	case core.NegotiationEscalated:
		printer.Warning(out, line, args...)
	default:
		printer.Printf(out, line, args...)
	}
	if len(n.Outcome) > 0 {
		printer.Muted(out, "    outcome %s\n", n.Outcome)
	}
	printer.Muted(out, "    opened %s\n", n.CreatedAt.Format(time.RFC3339))
}
