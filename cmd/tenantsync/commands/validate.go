package commands

import (
	"fmt"
	"sort"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote/memory"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the desired state",
		Long: `Validate the desired state without contacting the tenant.

Validation:
  - Parses the input (YAML, JSON or CUE) after keyword replacement
  - Checks every item against its type's schema
  - Runs the structural checks of every resource type (required fields,
    duplicate identifiers, references to the deployment client)`,
		Example: `  # Validate a YAML file
  tenantsync validate -i tenant.yaml

  # Validate a CUE package
  tenantsync validate -i ./tenant`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := newSession(true)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			desired, err := s.desired()
			if err != nil {
				return err
			}

			orch, err := s.orchestrator(memory.NewTenant(), nil, nil)
			if err != nil {
				return err
			}
			if err := orch.Validate(ctx, desired); err != nil {
				return err
			}

			types := make([]string, 0, len(desired))
			items := 0
			for t, list := range desired {
				types = append(types, t)
				items += len(list)
			}
			sort.Strings(types)

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, map[string]interface{}{
					"valid": true,
					"types": types,
					"items": items,
				})
			}
			fmt.Fprintf(out, "Desired state is valid: %d items across %d types %v\n", items, len(types), types)
			return nil
		},
	}

	return cmd
}
