package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/printer"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect the agent registry",
	}
	cmd.AddCommand(newAgentsListCmd())
	cmd.AddCommand(newAgentsCompatibleCmd())
	cmd.AddCommand(newAgentsSeedCmd())
	return cmd
}

func newAgentsListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents (optionally --type <role>)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openMesh(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close() }()

			var agents []core.RegisteredAgent
			if role != "" {
				if !core.Role(role).Valid() {
					return fmt.Errorf("unknown agent type %q", role)
				}
				agents, err = env.Registry.GetAgentsByType(cmd.Context(), core.Role(role))
			} else {
				agents, err = env.Registry.ListAgents(cmd.Context())
			}
			if err != nil {
				return err
			}
			printAgents(cmd, agents)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "type", "", "Filter by agent type")
	return cmd
}

func newAgentsCompatibleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compatible <name>",
		Short: "List agents that pair well with <name>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openMesh(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close() }()

			agent, err := env.Registry.GetAgent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if agent == nil {
				return printer.Error(cmd.ErrOrStderr(), fmt.Sprintf("Agent %q is not registered", args[0]), "",
					nil, []string{"Run `meshctl agents seed` to register the built-in agents"})
			}

			agents, err := env.Registry.GetCompatibleAgents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printAgents(cmd, agents)
			return nil
		},
	}
}

func newAgentsSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Register (or refresh) the built-in agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openMesh(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = env.Close() }()

			if err := env.Registry.InitializeBuiltInAgents(cmd.Context()); err != nil {
				return err
			}
			agents, err := env.Registry.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			printer.Success(cmd.OutOrStdout(), "Registry holds %d agents\n", len(agents))
			return nil
		},
	}
}

func printAgents(cmd *cobra.Command, agents []core.RegisteredAgent) {
	out := cmd.OutOrStdout()
	if len(agents) == 0 {
		printer.Muted(out, "No agents.\n")
		return
	}
	for _, a := range agents {
		printer.Printf(out, "%-12s %-10s %s\n", a.Name, a.Type, strings.Join(a.Profile.Capabilities, ","))
	}
}
