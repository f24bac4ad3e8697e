package resources

import (
	"context"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
)

var tenantSpec = remote.CollectionSpec{
	Name:      "tenant",
	Path:      "/tenants/settings",
	Singleton: true,
}

// newTenantHandler manages the tenant settings singleton. It only ever
// updates; the desired settings are matched to the existing ones through the
// synthetic singleton id.
func newTenantHandler(opts Options) (*engine.Handler, error) {
	return newHandler(opts, tenantSpec, engine.HandlerConfig{
		Descriptor: engine.Descriptor{
			Type:        "tenant",
			IDField:     "id",
			Identifiers: []engine.Identifier{{"id"}},
			NameField:   "friendly_name",
		},
		Transform: func(_ context.Context, _ engine.Lookup, desired []engine.Item) ([]engine.Item, error) {
			out := make([]engine.Item, len(desired))
			for i, item := range desired {
				out[i] = item.Clone()
				out[i]["id"] = remote.SingletonID
			}
			return out, nil
		},
		Validate: func(_ context.Context, desired []engine.Item, problems *engine.ValidationError) {
			if len(desired) != 1 {
				problems.Add("tenant", "expected exactly one tenant settings object, got %d", len(desired))
			}
		},
	})
}
