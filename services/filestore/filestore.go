package filesvc

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/trezcool/phqcare/core"
)

// New returns the file store selected by conf.Storage.Driver.
func New(conf *core.Config) (core.FileStore, error) {
	switch strings.ToLower(conf.Storage.Driver) {
	case "", "disk":
		return NewDisk(afero.NewOsFs(), conf.Storage.DiskRoot, conf.Storage.PublicBaseURL), nil
	case "oss":
		return NewOSS(conf)
	default:
		return nil, errors.Errorf("filestore: unknown driver %q", conf.Storage.Driver)
	}
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
