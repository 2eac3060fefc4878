package fetch

import (
	"context"

	"github.com/vidfetch/vidfetch/internal/data"
	"github.com/vidfetch/vidfetch/internal/format"
)

// Request is the per-attempt input handed to a backend: the media URL, the
// backend-native entry resolved for it, the surviving request options and the
// directory the backend must write into.
type Request struct {
	URL   string
	Entry format.Entry
	Spec  *format.Spec
	Dir   string
	ReqID string
}

// Backend is an external fetch implementation capable of retrieving media
// for a URL given a resolved format entry. Implementations either produce a
// local file plus metadata or fail; recoverable failures should be wrapped
// with Recoverable so the orchestrator can continue down the fallback chain.
type Backend interface {
	// Name returns the backend identifier used in resolved specs.
	Name() string
	// Fetch retrieves the media into req.Dir and returns the artifact.
	Fetch(ctx context.Context, req Request) (*data.DownloadResult, error)
	// Available reports whether the backend can currently serve fetches
	// (e.g. its binary is installed). Used by the health endpoint.
	Available(ctx context.Context) bool
}

// Prober is implemented by backends that can list available formats for a
// URL without downloading anything.
type Prober interface {
	Probe(ctx context.Context, url string) (*data.FormatList, error)
}

// Registry is an ordered, name-addressable set of backends.
type Registry struct {
	order    []string
	backends map[string]Backend
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.order = append(r.order, b.Name())
		r.backends[b.Name()] = b
	}
	return r
}

// Get returns the backend registered under name, or nil.
func (r *Registry) Get(name string) Backend { return r.backends[name] }

// Names returns the backend identifiers in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
