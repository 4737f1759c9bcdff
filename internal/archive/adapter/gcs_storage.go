package adapter

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/api/option"

	"github.com/aelexs/archivebot/internal/archive/app"
)

const gcsPublicHost = "https://storage.googleapis.com"

// objectOpener returns a writer for one object. Close commits the upload.
type objectOpener func(ctx context.Context, name, contentType string) io.WriteCloser

var _ app.ObjectStorage = (*GCSStorage)(nil)

// GCSStorage uploads archived media to a Cloud Storage bucket whose
// objects are publicly readable.
type GCSStorage struct {
	bucket string
	open   objectOpener
}

// NewGCSClient opens a Cloud Storage client. An empty credentials path
// uses application default credentials.
func NewGCSClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return client, nil
}

// NewGCSStorage stores objects in bucket.
func NewGCSStorage(client *storage.Client, bucket string) *GCSStorage {
	handle := client.Bucket(bucket)
	return newGCSStorage(bucket, func(ctx context.Context, name, contentType string) io.WriteCloser {
		w := handle.Object(name).NewWriter(ctx)
		w.ContentType = contentType
		return w
	})
}

func newGCSStorage(bucket string, open objectOpener) *GCSStorage {
	return &GCSStorage{bucket: bucket, open: open}
}

// Store uploads data as name and returns its public URL.
func (g *GCSStorage) Store(ctx context.Context, data []byte, name, mimeType string) (string, error) {
	ctx, span := tracer.Start(ctx, "gcs.store")
	defer span.End()
	span.SetAttributes(
		attribute.String("gcs.bucket", g.bucket),
		attribute.Int("gcs.size", len(data)),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.open(ctx, name, mimeType)
	if _, err := w.Write(data); err != nil {
		// Cancelling the context aborts the upload; Close then reports it.
		cancel()
		_ = w.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("gcs: write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("gcs: commit %s: %w", name, err)
	}
	return g.PublicURL(name), nil
}

// PublicURL returns the anonymous download URL of an object.
func (g *GCSStorage) PublicURL(name string) string {
	return gcsPublicHost + "/" + g.bucket + "/" + (&url.URL{Path: name}).EscapedPath()
}
