// Package cli implements the meshctl command tree.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshos/config"
)

type settingsKey struct{}

// settings carries the resolved global flags through the command context.
type settings struct {
	cfg        *config.Config
	configPath string
	workspace  string
}

func withSettings(ctx context.Context, s *settings) context.Context {
	return context.WithValue(ctx, settingsKey{}, s)
}

func settingsFrom(ctx context.Context) *settings {
	if s, ok := ctx.Value(settingsKey{}).(*settings); ok {
		return s
	}
	return &settings{cfg: config.Default()}
}

// NewRootCmd builds the meshctl command tree.
func NewRootCmd(version string) *cobra.Command {
	var (
		configPath  string
		workspace   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "meshctl",
		Short: "meshctl - operate an agent mesh",
		Long: `meshctl inspects and drives an agent mesh: the specialist agent
registry, reasoning cycles over collaborator systems, guardrail checks and
the recommendations routed to campaigns, creative and coaching.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath == "" {
				configPath = os.Getenv("MESHOS_CONFIG")
			}
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			ws := workspace
			if ws == "" {
				ws = cfg.Workspace
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			cmd.SetContext(withSettings(cmd.Context(), &settings{cfg: cfg, configPath: configPath, workspace: ws}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to meshos.yml (env: MESHOS_CONFIG)")
	cmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace id (default: workspace from config)")
	cmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on host:port while the command runs (default: metrics.addr from config)")

	cmd.AddCommand(newAgentsCmd())
	cmd.AddCommand(newGuardrailsCmd())
	cmd.AddCommand(newRecommendationsCmd())
	cmd.AddCommand(newCycleCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newMessagesCmd())
	cmd.AddCommand(newSummaryCmd())
	cmd.AddCommand(newDriftCmd())
	cmd.AddCommand(newNegotiationsCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
