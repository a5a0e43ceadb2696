package client

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/channelmesh/channelmesh-go/internal/core/domain"
	"github.com/channelmesh/channelmesh-go/pkg/cmap"
)

// Registry maps stable opaque handles to live clients. Embedders that
// cannot hold Go pointers across their boundary register a client and
// pass the handle around instead.
type Registry struct {
	clients *cmap.Map[*Client]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: cmap.New[*Client]()}
}

// Register stores the client and returns its handle.
func (r *Registry) Register(c *Client) (string, error) {
	if c == nil {
		return "", domain.ErrRequest.WithDetails("nil client")
	}
	handle, err := ulid.New(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", domain.ErrRequest.WithDetails("handle generation").WithCause(err)
	}
	r.clients.Set(handle.String(), c)
	return handle.String(), nil
}

// Lookup resolves a handle. Unknown handles fail soft with a request
// error, never a panic.
func (r *Registry) Lookup(handle string) (*Client, error) {
	if c, ok := r.clients.Get(handle); ok {
		return c, nil
	}
	return nil, domain.ErrRequest.WithDetails("unknown client handle " + handle)
}

// Unregister removes and closes the client under handle. Unknown
// handles are a no-op.
func (r *Registry) Unregister(handle string) error {
	c, ok := r.clients.Get(handle)
	if !ok {
		return nil
	}
	r.clients.Delete(handle)
	return c.Close()
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	return r.clients.Len()
}

// CloseAll closes every registered client and empties the registry.
func (r *Registry) CloseAll() error {
	var firstErr error
	r.clients.Range(func(handle string, c *Client) bool {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	r.clients.Clear()
	return firstErr
}
