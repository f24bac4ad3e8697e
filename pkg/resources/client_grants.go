package resources

import (
	"context"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
)

var clientGrantsSpec = remote.CollectionSpec{
	Name:     "clientGrants",
	Path:     "/client-grants",
	ListKey:  "client_grants",
	PageSize: 50,
}

// newClientGrantsHandler manages client grants. Desired grants may name their
// client and API instead of using remote ids; both are resolved from the
// existing clients and resource servers, which have already been processed.
func newClientGrantsHandler(opts Options) (*engine.Handler, error) {
	self := opts.Config.String(engine.ConfigClientID)

	return newHandler(opts, clientGrantsSpec, engine.HandlerConfig{
		Descriptor: engine.Descriptor{
			Type:        "clientGrants",
			Identifiers: []engine.Identifier{{"id"}, {"client_id", "audience"}},
			StripUpdate: []string{"client_id", "audience"},
		},
		Transform: func(ctx context.Context, lookup engine.Lookup, desired []engine.Item) ([]engine.Item, error) {
			clients, err := existing(ctx, lookup, "clients")
			if err != nil {
				return nil, err
			}
			apis, err := existing(ctx, lookup, "resourceServers")
			if err != nil {
				return nil, err
			}

			clientIDs := index(clients, "name", "client_id")
			audiences := index(apis, "name", "identifier")

			out := make([]engine.Item, len(desired))
			for i, item := range desired {
				grant := item.Clone()
				if id, ok := clientIDs[grant.String("client_id")]; ok {
					grant["client_id"] = id
				}
				if aud, ok := audiences[grant.String("audience")]; ok {
					grant["audience"] = aud
				}
				out[i] = grant
			}
			return out, nil
		},
		FilterExisting: func(existing []engine.Item) []engine.Item {
			if self == "" {
				return existing
			}
			out := existing[:0:0]
			for _, item := range existing {
				if item.String("client_id") != self {
					out = append(out, item)
				}
			}
			return out
		},
		Validate: func(_ context.Context, desired []engine.Item, problems *engine.ValidationError) {
			requireFields(problems, "clientGrants", desired, "client_id", "audience")
			for i, item := range desired {
				if scope, ok := item["scope"]; ok {
					if _, list := scope.([]interface{}); !list {
						problems.Add("clientGrants", "item at position %d has a scope that is not a list", i)
					}
				}
			}
		},
	})
}
