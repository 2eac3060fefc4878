// Package storage defines the uniform capability set over artifact storage
// targets. The orchestrator is polymorphic over Provider and never branches
// on a concrete provider's identity.
package storage

import (
	"context"
	"time"
)

// Provider uploads a finished local artifact to one named target and
// returns a public reference for it. Implementations surface
// data.KindStorageUnavailable for configuration problems and
// data.KindUploadFailed for transport errors; neither is retried here
// beyond a single implementation-defined attempt.
type Provider interface {
	// Name is the target identifier requests select with.
	Name() string
	// Put uploads the file at localPath under filename and returns the
	// public URL or path of the stored object.
	Put(ctx context.Context, localPath, filename string) (string, error)
}

// Registry resolves target names to providers.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name, or nil.
func (r *Registry) Get(name string) Provider { return r.providers[name] }

// Supports reports whether a provider is registered under name.
func (r *Registry) Supports(name string) bool { return r.providers[name] != nil }

// DatePath prefixes filename with the current date, giving remote stores a
// YYYY-MM-DD/<filename> layout.
func DatePath(filename string) string {
	return time.Now().Format("2006-01-02") + "/" + filename
}
