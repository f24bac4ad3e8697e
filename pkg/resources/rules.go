package resources

import (
	"context"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
)

var rulesSpec = remote.CollectionSpec{
	Name:     "rules",
	Path:     "/rules",
	PageSize: 50,
}

// newRulesHandler manages rules. Rule order is unique on the tenant, so
// reordering goes through conflict resolution first.
func newRulesHandler(opts Options) (*engine.Handler, error) {
	return newHandler(opts, rulesSpec, engine.HandlerConfig{
		Descriptor: engine.Descriptor{
			Type:         "rules",
			Identifiers:  []engine.Identifier{{"id"}, {"name"}},
			UniqueFields: []string{"order"},
			StripUpdate:  []string{"stage"},
		},
		Validate: func(_ context.Context, desired []engine.Item, problems *engine.ValidationError) {
			requireFields(problems, "rules", desired, "name", "script")
			for i, item := range desired {
				v, ok := item["order"]
				if !ok {
					continue
				}
				switch v.(type) {
				case int, int64, float64:
				default:
					problems.Add("rules", "item at position %d has a non-numeric order %v", i, v)
				}
			}
		},
	})
}
