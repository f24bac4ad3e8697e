package resources

import (
	"context"
	"strings"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
)

var resourceServersSpec = remote.CollectionSpec{
	Name:     "resourceServers",
	Path:     "/resource-servers",
	ListKey:  "resource_servers",
	PageSize: 50,
}

// managementAPIName is the system API every tenant carries.
const managementAPIName = "Auth0 Management API"

// newResourceServersHandler manages APIs. System APIs are excluded from the
// existing state and rejected in the desired state.
func newResourceServersHandler(opts Options) (*engine.Handler, error) {
	return newHandler(opts, resourceServersSpec, engine.HandlerConfig{
		Descriptor: engine.Descriptor{
			Type:        "resourceServers",
			Identifiers: []engine.Identifier{{"id"}, {"identifier"}, {"name"}},
			StripUpdate: []string{"identifier"},
		},
		FilterExisting: func(existing []engine.Item) []engine.Item {
			out := existing[:0:0]
			for _, item := range existing {
				if system, _ := item["is_system"].(bool); system {
					continue
				}
				out = append(out, item)
			}
			return out
		},
		Validate: func(_ context.Context, desired []engine.Item, problems *engine.ValidationError) {
			requireFields(problems, "resourceServers", desired, "name", "identifier")
			for i, item := range desired {
				if item.String("name") == managementAPIName || strings.HasSuffix(item.String("identifier"), "/api/v2/") {
					problems.Add("resourceServers", "item at position %d is the management API and cannot be managed", i)
				}
			}
		},
	})
}
