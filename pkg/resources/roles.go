package resources

import (
	"context"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
)

var rolesSpec = remote.CollectionSpec{
	Name:     "roles",
	Path:     "/roles",
	PageSize: 50,
}

func newRolesHandler(opts Options) (*engine.Handler, error) {
	return newHandler(opts, rolesSpec, engine.HandlerConfig{
		Descriptor: engine.Descriptor{
			Type:        "roles",
			Identifiers: []engine.Identifier{{"id"}, {"name"}},
		},
		Validate: func(_ context.Context, desired []engine.Item, problems *engine.ValidationError) {
			requireFields(problems, "roles", desired, "name")
		},
	})
}
