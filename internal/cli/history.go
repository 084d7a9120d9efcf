package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshos/internal/printer"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the reasoning audit trail, newest first",
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

			logs, err := env.Reasoner.GetReasoningHistory(cmd.Context(), ws, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(logs) == 0 {
				printer.Muted(out, "No reasoning cycles recorded.\n")
				return nil
			}
			for _, l := range logs {
				printer.Printf(out, "%s  %-11s %s\n", l.CreatedAt.Format(time.RFC3339), l.CycleType, l.Reasoning)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries (default 20)")
	return cmd
}
