package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/guardrail"
	"github.com/hupe1980/meshos/internal/printer"
)

func newGuardrailsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guardrails",
		Short: "Evaluate actions against the guardrails",
	}
	cmd.AddCommand(newGuardrailsCheckCmd())
	return cmd
}

func newGuardrailsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <action.json|->",
		Short: "Check an action document; exits non-zero on violations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			var action core.Action
			if err := json.Unmarshal(data, &action); err != nil {
				return fmt.Errorf("failed to parse action: %w", err)
			}

			res := guardrail.Check(action)
			out := cmd.OutOrStdout()
			for _, w := range res.Warnings {
				printer.Warning(out, "%s: %s\n", w, guardrail.Describe(w))
			}
			if res.Passed {
				printer.Success(out, "%s for %s passes all guardrails\n", action.Type, action.TargetSystem)
				return nil
			}
			for _, v := range res.Violations {
				printer.Failure(out, "%s: %s\n", v, guardrail.Describe(v))
			}
			return fmt.Errorf("action %q violates %d guardrail(s)", action.Type, len(res.Violations))
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
