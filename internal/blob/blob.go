// Package blob stores and fetches scanned exam PDFs by reference.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists for a reference.
var ErrNotFound = errors.New("blob not found")

// Storage downloads and uploads whole objects addressed by ref.
type Storage interface {
	Download(ctx context.Context, ref string) ([]byte, error)
	Upload(ctx context.Context, ref string, data []byte, contentType string) error
}
