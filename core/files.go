package core

import (
	"context"
	"io"
)

// StoredFile is a file saved by a FileStore.
type StoredFile struct {
	Key         string `json:"-"` // folder/name inside the store
	Name        string `json:"file_name"`
	URL         string `json:"file_url"`
	ContentType string `json:"file_type"`
	Size        int64  `json:"file_size"`
}

// FileStore is any service that can keep uploaded files and serve them by URL.
type FileStore interface {
	Save(ctx context.Context, folder, name, contentType string, r io.Reader) (StoredFile, error)
	Delete(ctx context.Context, key string) error
}
