package blob

import (
	"context"
	"errors"
)

// ErrNotExist is returned by Read when no blob has been written yet.
var ErrNotExist = errors.New("blob does not exist")

// Store defines the contract for persisting the library as a single blob.
// Every mutation rewrites the whole blob; there are no partial writes.
type Store interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}
