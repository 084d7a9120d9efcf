package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/printer"
)

func newCycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run reasoning cycles",
	}
	cmd.AddCommand(newCycleRunCmd())
	return cmd
}

func newCycleRunCmd() *cobra.Command {
	var (
		cycleType string
		resolve   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the mesh context, reason over it and route the recommendations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ct := core.CycleType(cycleType)
			if !ct.Valid() {
				return fmt.Errorf("unknown cycle type %q (valid: opportunity, conflict, routine)", cycleType)
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

			out := cmd.OutOrStdout()
			printer.Step(out, "Running %s cycle for %s\n", ct, ws)

			report, err := env.RunCycle(cmd.Context(), ws, ct)
			if err != nil {
				return err
			}

			if degraded := report.Context.Degraded(); len(degraded) > 0 {
				names := make([]string, len(degraded))
				for i, s := range degraded {
					names[i] = string(s)
				}
				printer.Warning(out, "Degraded collaborators: %s\n", strings.Join(names, ", "))
			}
			if report.Result.Reasoning != "" {
				printer.Muted(out, "%s\n", report.Result.Reasoning)
			}
			printer.Printf(out, "%d opportunities, %d conflicts\n", len(report.Result.Opportunities), len(report.Result.Conflicts))

			for _, rec := range report.Routed {
				printer.Success(out, "%s  %s -> %s\n", rec.Key, rec.Action.Type, rec.Action.TargetSystem)
				for _, w := range report.Warnings[rec.Key] {
					printer.Warning(out, "  %s\n", w)
				}
			}
			for _, rej := range report.Rejected {
				printer.Failure(out, "%s -> %s: %v\n", rej.Recommendation.Type, rej.Recommendation.TargetSystem, rej.Err)
			}

			if !resolve {
				return nil
			}
			for _, c := range report.Result.Conflicts {
				res, err := env.ResolveConflict(cmd.Context(), c, ws)
				if err != nil {
					printer.Failure(out, "conflict %s: %v\n", c.Type, err)
					continue
				}
				printer.Printf(out, "conflict %s: negotiation %s %s\n", c.Type, res.Negotiation.ID, res.Negotiation.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cycleType, "type", string(core.CycleRoutine), "Cycle type: opportunity, conflict or routine")
	cmd.Flags().BoolVar(&resolve, "resolve-conflicts", false, "Negotiate every reported conflict")
	return cmd
}
