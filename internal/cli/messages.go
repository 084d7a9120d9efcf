package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshos/config"
	"github.com/hupe1980/meshos/core"
	"github.com/hupe1980/meshos/internal/printer"
)

// messageSubscriber is implemented by backends that stream cross-process
// bus traffic (redisstore).
type messageSubscriber interface {
	SubscribeMessages(ctx context.Context, workspaceID string) (<-chan core.MeshMessage, func() error, error)
}

func newMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Read bus messages",
	}
	cmd.AddCommand(newMessagesListCmd())
	cmd.AddCommand(newMessagesWatchCmd())
	return cmd
}

func newMessagesListCmd() *cobra.Command {
	var (
		agent string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workspace messages, or an agent's inbox with --agent",
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

			var msgs []core.MeshMessage
			if agent != "" {
				msgs, err = env.Bus.GetMessages(cmd.Context(), agent, ws, limit)
			} else {
				msgs, err = env.Bus.GetAllMessages(cmd.Context(), ws, limit)
			}
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				printer.Muted(cmd.OutOrStdout(), "No messages.\n")
				return nil
			}
			for _, m := range msgs {
				printMessage(cmd, m)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "Show the inbox of this agent")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum messages")
	return cmd
}

func newMessagesWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream messages published by any process sharing the redis backend",
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

			sub, ok := env.repo.(messageSubscriber)
			if !ok {
				return printer.Error(cmd.ErrOrStderr(), "Watching requires the redis backend", "",
					map[string]string{"Backend": settingsFrom(cmd.Context()).cfg.Store.Backend},
					[]string{"Set store.backend: " + config.BackendRedis + " in meshos.yml"})
			}

			ch, closeSub, err := sub.SubscribeMessages(cmd.Context(), ws)
			if err != nil {
				return err
			}
			defer func() { _ = closeSub() }()

			printer.Step(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", ws)
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case m, ok := <-ch:
					if !ok {
						return nil
					}
					printMessage(cmd, m)
				}
			}
		},
	}
}

func printMessage(cmd *cobra.Command, m core.MeshMessage) {
	to := m.To
	if m.IsBroadcast() {
		to = "*"
	}
	out := cmd.OutOrStdout()
	printer.Printf(out, "%s  %-16s %s -> %s\n", m.CreatedAt.Format(time.RFC3339), m.Type, m.From, to)
	if len(m.Payload) > 0 {
		printer.Muted(out, "    %s\n", m.Payload)
	}
}
