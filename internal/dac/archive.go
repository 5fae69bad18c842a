package dac

import (
	"context"
	"io"
)

// Archive is long-term storage for completed deployments.
// Objects are addressed by key, typically "<deployment_dir>/<file>".
type Archive interface {
	// Put stores size bytes read from r under key, replacing any previous object.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}
