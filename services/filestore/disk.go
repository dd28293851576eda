package filesvc

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/trezcool/phqcare/core"
)

// Disk keeps files under a root directory of an afero filesystem.
// They are served by Handler under the public base URL.
type Disk struct {
	fs      afero.Fs
	baseURL string
}

var _ core.FileStore = (*Disk)(nil)

func NewDisk(fs afero.Fs, root, baseURL string) *Disk {
	if root != "" {
		fs = afero.NewBasePathFs(fs, root)
	}
	return &Disk{fs: fs, baseURL: baseURL}
}

func (d *Disk) Save(_ context.Context, folder, name, contentType string, r io.Reader) (core.StoredFile, error) {
	key := path.Join(folder, name)
	if err := d.fs.MkdirAll(folder, 0o755); err != nil {
		return core.StoredFile{}, errors.Wrap(err, "creating folder")
	}
	f, err := d.fs.OpenFile(key, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return core.StoredFile{}, errors.Wrap(err, "creating file")
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = d.fs.Remove(key)
		return core.StoredFile{}, errors.Wrap(err, "writing file")
	}
	return core.StoredFile{
		Key:         key,
		Name:        name,
		URL:         joinURL(d.baseURL, key),
		ContentType: contentType,
		Size:        size,
	}, nil
}

func (d *Disk) Delete(_ context.Context, key string) error {
	if err := d.fs.Remove(key); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing file")
	}
	return nil
}

// Open returns the content of a stored file.
func (d *Disk) Open(key string) (afero.File, error) {
	return d.fs.Open(key)
}

// Handler serves the stored files, read-only. Folders are never listed.
// Callers are expected to check access before handing a request over.
func (d *Disk) Handler() http.Handler {
	ro := afero.NewReadOnlyFs(d.fs)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if key == "" {
			http.NotFound(w, r)
			return
		}
		f, err := ro.Open(key)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}
