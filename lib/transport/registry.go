package transport

import (
	"sort"
	"sync"

	"github.com/go-i2p/logger"
)

// Registry maps device ids to their links. It is owned by the embedding
// application; there is no package-level registry.
type Registry struct {
	mu    sync.RWMutex
	links map[string]Transport
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{links: make(map[string]Transport)}
}

// Register stores t under id. A link previously registered under the same id
// is closed and replaced.
func (r *Registry) Register(id string, t Transport) {
	r.mu.Lock()
	prev, ok := r.links[id]
	r.links[id] = t
	r.mu.Unlock()

	if ok && prev != t {
		if err := prev.Close(); err != nil {
			log.WithFields(logger.Fields{
				"at":        "(Registry) Register",
				"reason":    "replaced_link_close_failed",
				"device_id": id,
				"error":     err.Error(),
			}).Warn("error closing replaced link")
		}
	}
	log.WithFields(logger.Fields{
		"at":        "(Registry) Register",
		"device_id": id,
		"replaced":  ok,
	}).Debug("link registered")
}

// Lookup returns the link registered under id.
func (r *Registry) Lookup(id string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.links[id]
	return t, ok
}

// Remove closes and forgets the link registered under id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	t, ok := r.links[id]
	delete(r.links, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return t.Close()
}

// IDs returns the registered device ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.links))
	for id := range r.links {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CloseAll closes every link and empties the registry. Close errors are logged
// and the last one is returned; remaining links are still closed.
func (r *Registry) CloseAll() (err error) {
	r.mu.Lock()
	links := r.links
	r.links = make(map[string]Transport)
	r.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":         "(Registry) CloseAll",
		"reason":     "shutdown_requested",
		"link_count": len(links),
	}).Debug("closing all links")
	for id, t := range links {
		if cerr := t.Close(); cerr != nil {
			log.WithFields(logger.Fields{
				"at":        "(Registry) CloseAll",
				"reason":    "link_close_failed",
				"device_id": id,
				"error":     cerr.Error(),
			}).Warn("error closing link")
			err = cerr
		}
	}
	return err
}
