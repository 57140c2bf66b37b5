package storage

import (
	"context"
	"io"
	"path"
	"time"
)

// Uploader copies a finished artifact somewhere durable and returns where it
// ended up.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// ObjectName lays archived files out by day, e.g. voices/2024/09/07/x.wav.
func ObjectName(prefix, filename string, t time.Time) string {
	return path.Join(prefix, t.UTC().Format("2006/01/02"), filename)
}
