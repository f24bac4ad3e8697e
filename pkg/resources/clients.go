package resources

import (
	"context"
	"sync"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
	"github.com/auth0/auth0-deploy-cli-sub002/pkg/remote"
)

var clientsSpec = remote.CollectionSpec{
	Name:     "clients",
	Path:     "/clients",
	IDField:  "client_id",
	PageSize: 50,
}

// readOnlyClientFields are set by the tenant and rejected on write.
var readOnlyClientFields = []string{"signing_keys", "global", "tenant", "callback_url_template"}

// selfName remembers the name of the deploying client seen by the last
// listing, which filters the client itself out of the existing items.
type selfName struct {
	mu   sync.Mutex
	name string
}

func (s *selfName) set(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *selfName) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// newClientsHandler manages applications. The client the deployment
// authenticates as and the global client are never touched.
func newClientsHandler(opts Options) (*engine.Handler, error) {
	self := opts.Config.String(engine.ConfigClientID)
	selfClient := &selfName{}

	return newHandler(opts, clientsSpec, engine.HandlerConfig{
		Descriptor: engine.Descriptor{
			Type:        "clients",
			IDField:     "client_id",
			Identifiers: []engine.Identifier{{"client_id"}, {"name"}},
			StripCreate: readOnlyClientFields,
			StripUpdate: append([]string{"client_secret"}, readOnlyClientFields...),
		},
		// The deploying client is invisible to matching, so a desired client
		// carrying its name would be created as a duplicate.
		Transform: func(_ context.Context, _ engine.Lookup, desired []engine.Item) ([]engine.Item, error) {
			name := selfClient.get()
			if name == "" {
				return desired, nil
			}
			problems := engine.NewValidationError()
			for i, item := range desired {
				if item.String("name") == name {
					problems.Add("clients", "item at position %d has the name %q of the client used for deployment and cannot be managed", i, name)
				}
			}
			if err := problems.ErrOrNil(); err != nil {
				return nil, err
			}
			return desired, nil
		},
		FilterExisting: func(existing []engine.Item) []engine.Item {
			out := existing[:0:0]
			selfClient.set("")
			for _, item := range existing {
				if item.String("client_id") == self && self != "" {
					selfClient.set(item.String("name"))
					continue
				}
				if global, _ := item["global"].(bool); global {
					continue
				}
				out = append(out, item)
			}
			return out
		},
		Validate: func(_ context.Context, desired []engine.Item, problems *engine.ValidationError) {
			requireFields(problems, "clients", desired, "name")
			for i, item := range desired {
				if self != "" && item.String("client_id") == self {
					problems.Add("clients", "item at position %d is the client used for deployment and cannot be managed", i)
				}
			}
		},
	})
}
