package commands

import (
	"context"
	"errors"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/config"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/policy"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/reporting"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/stores"
	"github.com/spf13/cobra"
)

func newDeployCommand() *cobra.Command {
	var (
		allowDelete bool
		watch       bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Apply the desired state to the tenant",
		Long: `Validate the desired state, load the tenant and apply the difference.

Resource types are processed one after another in dependency order; within a
type, deletes, creates and updates run concurrently up to the configured
concurrency. The first failing type stops the run. Mutations already applied
stay in place.

Existing items missing from the desired state are only deleted when deletions
are allowed (--allow-delete, AUTH0_ALLOW_DELETE or a policy exception);
otherwise they are reported and left alone.`,
		Example: `  # Deploy a YAML file
  tenantsync deploy -i tenant.yaml

  # Deploy and delete what is not described
  tenantsync deploy -i tenant.yaml --allow-delete

  # Redeploy whenever the input changes
  tenantsync deploy -i ./tenant --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newSession(false)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if cmd.Flags().Changed("allow-delete") {
				s.settings.AllowDelete = allowDelete
			}

			go func() {
				if err := s.telemetry.Metrics.Serve(ctx); err != nil {
					s.logger.Error().Err(err).Msg("Metrics endpoint failed")
				}
			}()

			history, err := s.store(ctx)
			if err != nil {
				return err
			}
			var store stores.Store
			if history != nil {
				defer history.Close()
				store = history
			}

			recorder := reporting.New(reporting.Config{
				Logger:  s.logger,
				Metrics: s.telemetry.Metrics,
				Events:  s.telemetry.Events,
				Store:   store,
			})

			deletion, err := s.policy(ctx)
			if err != nil {
				return err
			}

			client, err := s.client(ctx)
			if err != nil {
				return err
			}

			orch, err := s.orchestrator(client, deletion, recorder)
			if err != nil {
				return err
			}

			deploy := func() error {
				desired, err := s.desired()
				if err != nil {
					return err
				}
				run, err := orch.Deploy(ctx, desired)
				if run != nil && run.Status != engine.RunStatusInvalid {
					if jsonOutput {
						_ = printJSON(cmd.OutOrStdout(), run)
					} else {
						printRun(cmd.OutOrStdout(), run)
					}
				}
				if recErr := recorder.Err(); recErr != nil {
					s.logger.Warn().Err(recErr).Msg("Run history is incomplete")
				}
				return err
			}

			if !watch {
				return deploy()
			}
			return watchAndDeploy(ctx, s, deletion, deploy)
		},
	}

	cmd.Flags().BoolVar(&allowDelete, "allow-delete", false, "delete existing items missing from the desired state")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "redeploy whenever the input or a policy file changes")

	return cmd
}

// watchAndDeploy deploys once, then again after every input change, until
// ctx is done. Failed runs are logged and do not stop the watch.
func watchAndDeploy(ctx context.Context, s *session, deletion *policy.Engine, deploy func() error) error {
	changes, err := config.Watch(ctx, s.settings.Input, s.logger)
	if err != nil {
		return err
	}

	if len(s.settings.PolicyPaths) > 0 {
		loader := policy.NewLoader(s.logger)
		err := loader.Watch(ctx, s.settings.PolicyPaths, func(policies []policy.Policy) error {
			return deletion.Replace(ctx, policies)
		})
		if err != nil {
			return err
		}
	}

	for {
		if err := deploy(); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.logger.Error().Err(err).Msg("Deploy failed; waiting for changes")
		}

		s.logger.Info().Str("input", s.settings.Input).Msg("Watching for changes")
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}
	}
}
