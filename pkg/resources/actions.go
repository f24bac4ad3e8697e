package resources

import (
	"context"
	"fmt"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
)

var actionsSpec = remote.CollectionSpec{
	Name:     "actions",
	Path:     "/actions/actions",
	ListKey:  "actions",
	PageSize: 50,
}

// Action build states.
const (
	actionBuilt  = "built"
	actionFailed = "failed"
)

// newActionsHandler manages actions. A desired action with deployed: true is
// deployed after create or update, once its build has finished.
func newActionsHandler(opts Options) (*engine.Handler, error) {
	api := opts.API
	retry := opts.Retry

	return newHandler(opts, actionsSpec, engine.HandlerConfig{
		Descriptor: engine.Descriptor{
			Type:        "actions",
			Identifiers: []engine.Identifier{{"id"}, {"name"}},
			StripCreate: []string{"all_changes_deployed", "status"},
			StripUpdate: []string{"all_changes_deployed", "status"},
		},
		// deployed is a request, not remote state; the tenant reports it as
		// all_changes_deployed.
		Transform: func(_ context.Context, _ engine.Lookup, desired []engine.Item) ([]engine.Item, error) {
			out := make([]engine.Item, len(desired))
			for i, item := range desired {
				action := item.Without("deployed")
				if deployed, _ := item["deployed"].(bool); deployed {
					action["all_changes_deployed"] = true
				}
				out[i] = action
			}
			return out, nil
		},
		Validate: func(_ context.Context, desired []engine.Item, problems *engine.ValidationError) {
			requireFields(problems, "actions", desired, "name", "code", "supported_triggers")
		},
		AfterApply: func(ctx context.Context, _ engine.OperationType, desired, applied engine.Item) error {
			if deploy, _ := desired["all_changes_deployed"].(bool); !deploy {
				return nil
			}

			id := applied.String("id")
			if id == "" {
				id = desired.String("id")
			}
			if id == "" {
				return fmt.Errorf("cannot deploy action %s without an id", desired.String("name"))
			}

			err := engine.WaitUntil(ctx, retry, remote.Classify,
				engine.ConsistencyTarget{Type: "actions", Item: desired.String("name")},
				func(ctx context.Context) (bool, error) {
					current, err := api.Get(ctx, actionsSpec, id)
					if err != nil {
						return false, err
					}
					switch current.String("status") {
					case "", actionBuilt:
						return true, nil
					case actionFailed:
						return false, engine.NewPermanentError(
							fmt.Sprintf("action %s failed to build", desired.String("name")), nil).
							WithResource("actions")
					default:
						return false, nil
					}
				})
			if err != nil {
				return err
			}

			_, err = api.Invoke(ctx, actionsSpec, id, "deploy")
			return err
		},
	})
}
