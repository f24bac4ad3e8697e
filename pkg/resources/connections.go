package resources

import (
	"context"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
)

var connectionsSpec = remote.CollectionSpec{
	Name:     "connections",
	Path:     "/connections",
	Paging:   remote.PagingCursor,
	PageSize: 50,
}

// newConnectionsHandler manages connections. enabled_clients may list client
// names; they are resolved to client ids.
func newConnectionsHandler(opts Options) (*engine.Handler, error) {
	return newHandler(opts, connectionsSpec, engine.HandlerConfig{
		Descriptor: engine.Descriptor{
			Type:        "connections",
			Identifiers: []engine.Identifier{{"id"}, {"name"}},
			StripUpdate: []string{"strategy", "name"},
		},
		Transform: func(ctx context.Context, lookup engine.Lookup, desired []engine.Item) ([]engine.Item, error) {
			clients, err := existing(ctx, lookup, "clients")
			if err != nil {
				return nil, err
			}
			clientIDs := index(clients, "name", "client_id")

			out := make([]engine.Item, len(desired))
			for i, item := range desired {
				conn := item.Clone()
				if enabled, ok := conn["enabled_clients"].([]interface{}); ok {
					resolved := make([]interface{}, len(enabled))
					for j, c := range enabled {
						name, _ := c.(string)
						if id, ok := clientIDs[name]; ok {
							resolved[j] = id
						} else {
							resolved[j] = c
						}
					}
					conn["enabled_clients"] = resolved
				}
				out[i] = conn
			}
			return out, nil
		},
		Validate: func(_ context.Context, desired []engine.Item, problems *engine.ValidationError) {
			requireFields(problems, "connections", desired, "name", "strategy")
		},
	})
}
