package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshos/internal/printer"
)

func newSummaryCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize recent reasoning cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since <= 0 {
				return errors.New("--since must be positive")
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

			s, err := env.Reasoner.Summarize(cmd.Context(), ws, time.Now().Add(-since))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if s.Cycles == 0 {
				printer.Muted(out, "No reasoning cycles in the last %s.\n", since)
				return nil
			}
			printer.Step(out, "%d cycles in the last %s\n", s.Cycles, since)
			printer.Printf(out, "  %d opportunities, %d conflicts, %d recommendations\n",
				s.TotalOpportunities, s.TotalConflicts, s.TotalRecommendations)
			if s.CriticalIssues > 0 {
				printer.Warning(out, "%d critical issues\n", s.CriticalIssues)
			}
			if len(s.TopOpportunities) > 0 {
				printer.Printf(out, "Top opportunities:\n")
				for _, o := range s.TopOpportunities {
					printer.Printf(out, "  %.2f  %-20s %-10s %s\n", o.Confidence, o.Type, o.Source, o.Description)
				}
			}
			if len(s.TopConflicts) > 0 {
				printer.Printf(out, "Top conflicts:\n")
				for _, c := range s.TopConflicts {
					printer.Printf(out, "  %-6s %-20s %v\n", c.Severity, c.Type, c.Agents)
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Look back this far")
	return cmd
}

func newDriftCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Show which agents keep contradicting each other",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since <= 0 {
				return errors.New("--since must be positive")
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

			g, err := env.Reasoner.Drift(cmd.Context(), ws, time.Now().Add(-since))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.TotalContradictions == 0 {
				printer.Success(out, "No contradictions in the last %s\n", since)
				return nil
			}
			printer.Step(out, "%d contradictions, %d high severity links\n", g.TotalContradictions, g.HighSeverityEdges())
			for _, n := range g.Nodes {
				printer.Printf(out, "  %-12s %3d  %s\n", n.Name, n.Contradictions, n.Severity)
			}
			for _, e := range g.Edges {
				printer.Printf(out, "  %s <-> %s  %d  %s  %v\n", e.From, e.To, e.Contradictions, e.Severity, e.Topics)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 7*24*time.Hour, "Look back this far")
	return cmd
}
