// Package local is the passthrough storage provider: the artifact stays
// where the orchestrator put it and the reference is its filesystem path.
package local

import "context"

type Provider struct{}

func New() *Provider { return &Provider{} }

func (*Provider) Name() string { return "local" }

// Put is a no-op; the local path is the reference. The artifact remains
// under retention engine management.
func (*Provider) Put(_ context.Context, localPath, _ string) (string, error) {
	return localPath, nil
}
