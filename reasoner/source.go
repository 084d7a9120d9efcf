package reasoner

import (
	"context"
)

// Source fetches the current state of one collaborator system. The
// returned value must be JSON-marshalable; json.RawMessage is used as is.
type Source interface {
	Fetch(ctx context.Context, workspaceID string) (any, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, workspaceID string) (any, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, workspaceID string) (any, error) {
	return f(ctx, workspaceID)
}

// StaticSource returns the same value for every workspace.
func StaticSource(v any) Source {
	return SourceFunc(func(context.Context, string) (any, error) { return v, nil })
}

// placeholderData is stored for systems without a configured source.
var placeholderData = map[string]any{"connected": false}
