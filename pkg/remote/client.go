package remote

import (
	"context"
	"net/url"

	"github.com/racksync/racksync/pkg/engine"
)

// Client is the transport contract the proxy drives: raw CRUD against
// collection paths, no caching, no gating. Implementations map transport
// failures onto engine error classes (404 to not-found, 4xx writes to
// write errors, network failures to connection errors, deadline hits to
// timeouts) so the proxy and the engine never inspect transport details.
type Client interface {
	// List returns all objects of the collection matching the query,
	// following pagination until exhausted.
	List(ctx context.Context, path string, query url.Values) ([]engine.Object, error)

	// Get returns a single object by identifier.
	Get(ctx context.Context, path string, id int64) (engine.Object, error)

	// Create posts a new object and returns it with the server-assigned id.
	Create(ctx context.Context, path string, payload map[string]interface{}) (engine.Object, error)

	// Update patches the given fields onto an existing object.
	Update(ctx context.Context, path string, id int64, payload map[string]interface{}) (engine.Object, error)

	// Delete removes an object by identifier.
	Delete(ctx context.Context, path string, id int64) error
}
