package cache

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Backend keeps blobs as objects under a key prefix of one bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Backend(client *s3.Client, bucket, prefix string) *S3Backend {
	return &S3Backend{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (b *S3Backend) key(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

func (b *S3Backend) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := storage.GetFile(ctx, b.client, b.bucket, b.key(name))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, ErrBlobNotFound
	}
	return data, err
}

func (b *S3Backend) Put(ctx context.Context, name string, r io.Reader) error {
	contentType := "application/octet-stream"
	if name == TableName {
		contentType = "text/plain; charset=utf-8"
	}
	return storage.PutFile(ctx, b.client, b.bucket, b.key(name), contentType, r)
}

func (b *S3Backend) Delete(ctx context.Context, name string) error {
	return storage.DeleteFile(ctx, b.client, b.bucket, b.key(name))
}

func (b *S3Backend) List(ctx context.Context) ([]string, error) {
	listPrefix := ""
	if b.prefix != "" {
		listPrefix = b.prefix + "/"
	}
	keys, err := storage.ListFilesWithPrefix(ctx, b.client, b.bucket, listPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, listPrefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
