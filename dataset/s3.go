package dataset

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultS3Endpoint is used when S3Options.Endpoint is empty.
const DefaultS3Endpoint = "s3.amazonaws.com"

// NewS3Client creates a client for an S3-compatible store. Without static
// keys, credentials are taken from the standard AWS environment variables.
func NewS3Client(opts S3Options) (*minio.Client, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultS3Endpoint
	}

	creds := credentials.NewEnvAWS()
	if opts.AccessKey != "" {
		creds = credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, "")
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: !opts.Insecure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return mc, nil
}

// parseS3URI splits s3://bucket/prefix.
func parseS3URI(uri string) (bucket, prefix string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 uri %q: %w", uri, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q: want s3://bucket/prefix", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func discoverS3(ctx context.Context, uri, pattern string, opts S3Options) ([]Fragment, error) {
	bucket, prefix, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}
	mc, err := NewS3Client(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fragments []Fragment
	ch := mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	for obj := range ch {
		if obj.Err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		if ok, _ := path.Match(pattern, path.Base(obj.Key)); !ok {
			continue
		}
		fragments = append(fragments, &S3Fragment{client: mc, bucket: bucket, key: obj.Key, size: obj.Size})
	}
	return fragments, nil
}

// S3Fragment is a Parquet object in an S3-compatible store.
type S3Fragment struct {
	client *minio.Client
	bucket string
	key    string
	size   int64
}

// Path returns the s3:// URI of the object.
func (f *S3Fragment) Path() string {
	return "s3://" + f.bucket + "/" + f.key
}

// Open returns a ranged reader over the object.
func (f *S3Fragment) Open(ctx context.Context) (File, error) {
	obj, err := f.client.GetObject(ctx, f.bucket, f.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	size := f.size
	if size <= 0 {
		info, err := obj.Stat()
		if err != nil {
			_ = obj.Close()
			return nil, fmt.Errorf("stat object: %w", err)
		}
		size = info.Size
	}
	return &s3File{Object: obj, size: size}, nil
}

type s3File struct {
	*minio.Object
	size int64
}

func (f *s3File) Size() int64 { return f.size }
