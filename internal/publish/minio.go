package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"datastudio/internal/config"
	"datastudio/internal/logging"
)

// MinioAPI is the subset of *minio.Client used for publishing.
type MinioAPI interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinioOptions configures a MinioPublisher.
type MinioOptions struct {
	Bucket      string
	Prefix      string
	DatasetsDir string
	Concurrency int
}

// MinioPublisher uploads scratch trees to MinIO or another S3-compatible store.
type MinioPublisher struct {
	client MinioAPI
	opts   MinioOptions
	logger *slog.Logger
}

// NewMinio wraps an existing client.
func NewMinio(client MinioAPI, opts MinioOptions, logger *slog.Logger) *MinioPublisher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &MinioPublisher{client: client, opts: opts, logger: logger}
}

// NewMinioFromConfig connects to cfg.Publish.Endpoint with static credentials.
func NewMinioFromConfig(cfg *config.Config, logger *slog.Logger) (*MinioPublisher, error) {
	client, err := minio.New(cfg.Publish.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Publish.AccessKey, cfg.Publish.SecretKey, ""),
		Secure: cfg.Publish.UseSSL,
		Region: cfg.Publish.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return NewMinio(client, MinioOptions{
		Bucket:      cfg.Publish.Bucket,
		Prefix:      cfg.Publish.Prefix,
		DatasetsDir: cfg.Paths.DatasetsDir,
		Concurrency: cfg.Engine.Workers,
	}, logger), nil
}

// Name returns "minio".
func (p *MinioPublisher) Name() string { return "minio" }

// Publish uploads the scratch tree as a new version under
// <prefix>/<repo id>/.runs/, points CURRENT at it, prunes earlier versions,
// and removes the stale local copy.
func (p *MinioPublisher) Publish(ctx context.Context, scratchRoot, repoID string) (Location, error) {
	files, err := listFiles(scratchRoot)
	if err != nil {
		return Location{}, fmt.Errorf("minio publish: list scratch: %w", err)
	}
	prefix := objectPrefix(p.opts.Prefix, repoID)
	version := newVersion(time.Now())

	vp := &versionedPublish{store: p, repoPrefix: prefix, concurrency: p.opts.Concurrency, logger: p.logger}
	if err := vp.run(ctx, files, version); err != nil {
		return Location{}, fmt.Errorf("minio publish: %w", err)
	}

	loc := Location{
		Target:  p.Name(),
		URI:     fmt.Sprintf("minio://%s/%s", p.opts.Bucket, strings.TrimSuffix(prefix, "/")),
		Version: version,
		Files:   len(files),
	}
	for _, f := range files {
		loc.Bytes += f.size
	}
	removeStaleLocal(p.opts.DatasetsDir, repoID, p.logger)
	return loc, nil
}

func (p *MinioPublisher) putFile(ctx context.Context, key, path, rel string) error {
	_, err := p.client.FPutObject(ctx, p.opts.Bucket, key, path, minio.PutObjectOptions{ContentType: contentType(rel)})
	return err
}

func (p *MinioPublisher) putBytes(ctx context.Context, key string, data []byte) error {
	_, err := p.client.PutObject(ctx, p.opts.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain"})
	return err
}

func (p *MinioPublisher) list(ctx context.Context, prefix string) ([]string, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var keys []string
	for obj := range p.client.ListObjects(listCtx, p.opts.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (p *MinioPublisher) remove(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := p.client.RemoveObject(ctx, p.opts.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func contentType(rel string) string {
	switch {
	case strings.HasSuffix(rel, ".json"):
		return "application/json"
	case strings.HasSuffix(rel, ".jsonl"):
		return "application/x-ndjson"
	case strings.HasSuffix(rel, ".mp4"):
		return "video/mp4"
	case strings.HasSuffix(rel, ".md"):
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}
