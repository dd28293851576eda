package filesvc

import (
	"context"
	"io"
	"path"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
)

// OSS keeps files in an Alibaba Cloud OSS bucket.
type OSS struct {
	bucket  *oss.Bucket
	baseURL string
}

var _ core.FileStore = (*OSS)(nil)

func NewOSS(conf *core.Config) (*OSS, error) {
	sc := conf.Storage
	if sc.OSSEndpoint == "" || sc.OSSKeyID == "" || sc.OSSKeySecret == "" || sc.OSSBucket == "" {
		return nil, errors.New("filestore: missing OSS endpoint, key or bucket")
	}
	client, err := oss.New(sc.OSSEndpoint, sc.OSSKeyID, sc.OSSKeySecret)
	if err != nil {
		return nil, errors.Wrap(err, "oss.New")
	}
	bkt, err := client.Bucket(sc.OSSBucket)
	if err != nil {
		return nil, errors.Wrap(err, "client.Bucket")
	}
	baseURL := sc.PublicBaseURL
	if baseURL == "" {
		baseURL = "https://" + sc.OSSBucket + "." + sc.OSSEndpoint
	}
	return &OSS{bucket: bkt, baseURL: baseURL}, nil
}

func (s *OSS) Save(ctx context.Context, folder, name, contentType string, r io.Reader) (core.StoredFile, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := path.Join(folder, name)
	cr := &countingReader{r: r}
	err := s.bucket.PutObject(key, cr,
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ContentDisposition("inline"),
		oss.CacheControl("public, max-age=31536000, immutable"),
	)
	if err != nil {
		return core.StoredFile{}, errors.Wrap(err, "uploading to OSS")
	}
	return core.StoredFile{
		Key:         key,
		Name:        name,
		URL:         joinURL(s.baseURL, key),
		ContentType: contentType,
		Size:        cr.n,
	}, nil
}

func (s *OSS) Delete(ctx context.Context, key string) error {
	return errors.Wrap(s.bucket.DeleteObject(key, oss.WithContext(ctx)), "deleting from OSS")
}
