package target

import "fmt"

// Registry maps target names to clients. It is built by the caller at
// startup and injected into the engine; names resolve through the interface,
// never through reflection or dynamic dispatch.
type Registry struct {
	clients map[string]Client
	order   []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Add registers a client under its own name. Registering the same name twice
// is a wiring bug and is rejected.
func (r *Registry) Add(c Client) error {
	name := c.Name()
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("target %q already registered", name)
	}
	r.clients[name] = c
	r.order = append(r.order, name)
	return nil
}

// Get resolves a client by name.
func (r *Registry) Get(name string) (Client, bool) {
	c, ok := r.clients[name]
	return c, ok
}

// Names returns all registered target names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered targets.
func (r *Registry) Len() int { return len(r.order) }
