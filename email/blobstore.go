package email

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/opentracing/opentracing-go"

	"github.com/mailkit/imapclient/internal/tracing"
)

// BlobStore offloads large attachment bodies out of process memory:
// Put uploads content under key at fetch time, Get retrieves it lazily
// when a caller actually reads Attachment.Content(). fallback is
// passed back into Get so a no-op or in-memory store can serve it
// without a round trip.
type BlobStore interface {
	Put(ctx context.Context, key string, content []byte) error
	Get(key string, fallback []byte) ([]byte, error)
}

// S3BlobStore is a BlobStore backed by S3: one Uploader/Downloader
// pair built off one *session.Session, scoped
// down to the two operations an attachment lazy-fetcher needs.
type S3BlobStore struct {
	bucket     string
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
}

// NewS3BlobStore builds an S3BlobStore for bucket using cfg.
func NewS3BlobStore(bucket string, cfg *aws.Config) *S3BlobStore {
	sess := session.Must(session.NewSession(cfg))
	return &S3BlobStore{
		bucket:     bucket,
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
	}
}

// Put uploads content under key.
func (s *S3BlobStore) Put(ctx context.Context, key string, content []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "S3BlobStore.Put")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("blob.key", key)

	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

// Get downloads key's content. fallback is unused by S3BlobStore (it
// exists so an in-memory BlobStore used in tests can skip the round
// trip entirely); a real S3 miss is a genuine error.
func (s *S3BlobStore) Get(key string, fallback []byte) ([]byte, error) {
	buf := &aws.WriteAtBuffer{}
	_, err := s.downloader.Download(buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// InMemoryBlobStore is a BlobStore that keeps Put's bytes in a map in
// process memory; Get returns the stored bytes, or the fallback when
// the key is not there. Useful for tests and for callers who want the lazy
// Fetcher shape without standing up S3.
type InMemoryBlobStore struct {
	blobs map[string][]byte
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *InMemoryBlobStore) Put(_ context.Context, key string, content []byte) error {
	m.blobs[key] = content
	return nil
}

func (m *InMemoryBlobStore) Get(key string, fallback []byte) ([]byte, error) {
	if b, ok := m.blobs[key]; ok {
		return b, nil
	}
	return fallback, nil
}
