package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/config"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote/memory"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var (
		snapshot     string
		saveSnapshot string
		graph        bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the changes a deploy would make",
		Long: `Compare the desired state with the tenant and print the change set of
every resource type, in processing order. Nothing is modified.

With --snapshot the existing state is read from a file instead of the live
tenant, so a plan can be computed offline. With --graph the handler ordering
is printed as a DOT graph instead.`,
		Example: `  # Plan against the live tenant
  tenantsync plan -i tenant.yaml

  # Plan offline against a saved snapshot
  tenantsync plan -i tenant.yaml --snapshot existing.yaml

  # Save the live state for later offline plans
  tenantsync plan -i tenant.yaml --save-snapshot existing.yaml

  # Render the processing order
  tenantsync plan --graph | dot -Tsvg > order.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newSession(snapshot != "" || graph)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if graph {
				return printGraph(cmd.OutOrStdout(), s)
			}

			desired, err := s.desired()
			if err != nil {
				return err
			}

			deletion, err := s.policy(ctx)
			if err != nil {
				return err
			}

			var orch *engine.Orchestrator
			if snapshot != "" {
				state, err := config.LoadSnapshot(snapshot)
				if err != nil {
					return err
				}
				tenant := memory.NewTenant()
				if orch, err = s.orchestrator(tenant, deletion, nil); err != nil {
					return err
				}
				// Collections are known only once the handlers are registered.
				tenant.Load(state)
			} else {
				client, err := s.client(ctx)
				if err != nil {
					return err
				}
				if orch, err = s.orchestrator(client, deletion, nil); err != nil {
					return err
				}
			}

			if err := orch.Validate(ctx, desired); err != nil {
				return err
			}

			state, err := orch.Load(ctx)
			if err != nil {
				return err
			}
			if saveSnapshot != "" {
				if err := config.SaveSnapshot(saveSnapshot, state); err != nil {
					return err
				}
				log.Info().Str("path", saveSnapshot).Msg("Existing state saved")
			}

			entries, err := buildPlan(ctx, orch, deletion, desired)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			printPlan(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().StringVar(&snapshot, "snapshot", "", "read the existing state from a YAML or JSON file")
	cmd.Flags().StringVar(&saveSnapshot, "save-snapshot", "", "write the existing state to a YAML file")
	cmd.Flags().BoolVar(&graph, "graph", false, "print the handler dependency graph in DOT format")

	return cmd
}

// printGraph writes the dependency graph of the selected handlers.
func printGraph(out io.Writer, s *session) error {
	orch, err := s.orchestrator(memory.NewTenant(), engine.StaticDeletionPolicy(false), nil)
	if err != nil {
		return err
	}
	g, err := orch.Graph()
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, g.ToDOT())
	return err
}

// buildPlan names the items of every change set in processing order and
// marks deletions the policy would withhold.
func buildPlan(ctx context.Context, orch *engine.Orchestrator, deletion engine.DeletionPolicy, desired engine.DesiredState) ([]planEntry, error) {
	plan, err := orch.Plan(ctx, desired)
	if err != nil {
		return nil, err
	}

	regs, err := orch.Registrations()
	if err != nil {
		return nil, err
	}

	entries := make([]planEntry, 0, len(plan))
	for _, reg := range regs {
		h := reg.Handler
		changes, ok := plan[h.Type()]
		if !ok {
			continue
		}

		names := func(items []engine.Item) []string {
			out := make([]string, 0, len(items))
			for _, item := range items {
				out = append(out, h.ObjString(item))
			}
			return out
		}

		entry := planEntry{
			Type:      h.Type(),
			Create:    names(changes.Create),
			Update:    names(changes.Update),
			Delete:    names(changes.Delete),
			Conflicts: names(changes.Conflicts),
		}
		if len(changes.Delete) > 0 {
			allowed, err := deletion.AllowDelete(ctx, h.Type())
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate deletion policy for %s: %w", h.Type(), err)
			}
			entry.DeletesWithheld = !allowed
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
