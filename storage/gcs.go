package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/sony/gobreaker"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// ObjectOpener opens a stored object for reading.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a gs:// uri", ErrUnsupportedURI, uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q needs a bucket and an object", ErrUnsupportedURI, uri)
	}
	return bucket, object, nil
}

// GCSConfig holds configuration for GCSOpener.
type GCSConfig struct {
	// CredentialsFile is a service account key; empty uses application
	// default credentials.
	CredentialsFile string
	// Timeout bounds a single object download.
	Timeout time.Duration
}

// GCSOpener reads objects from Google Cloud Storage.
type GCSOpener struct {
	client  *gcs.Client
	timeout time.Duration
}

// NewGCSOpener creates a GCS client.
func NewGCSOpener(ctx context.Context, cfg GCSConfig) (*GCSOpener, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSOpener{client: client, timeout: cfg.Timeout}, nil
}

// Open downloads the object into memory. The whole body is read before
// returning so that a failed transfer surfaces here rather than mid-parse.
func (g *GCSOpener) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs read failed: %w", err)
	}
	defer func() {
		_ = r.Close()
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read failed: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Close closes the underlying client.
func (g *GCSOpener) Close() error {
	return g.client.Close()
}

// breakerOpener fails fast once the wrapped store keeps failing.
type breakerOpener struct {
	next ObjectOpener
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next in a circuit breaker that opens after
// maxFailures consecutive errors and probes again after cooldown.
func WithBreaker(next ObjectOpener, maxFailures uint32, cooldown time.Duration) ObjectOpener {
	cbSettings := gobreaker.Settings{
		Name:    "ObjectStoreCircuitBreaker",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	return &breakerOpener{next: next, cb: gobreaker.NewCircuitBreaker(cbSettings)}
}

func (b *breakerOpener) Open(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Open(ctx, bucket, object)
	})
	if err != nil {
		return nil, err
	}
	return result.(io.ReadCloser), nil
}

// bytesReaderAt adapts an in-memory object for the IPC file reader.
func bytesReaderAt(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}
