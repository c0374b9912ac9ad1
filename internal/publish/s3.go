package publish

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"datastudio/internal/config"
	"datastudio/internal/logging"
)

// S3API is the subset of the S3 client used for publishing.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Options configures an S3Publisher.
type S3Options struct {
	Bucket      string
	Prefix      string
	DatasetsDir string
	// Concurrency bounds parallel file uploads.
	Concurrency int
	// PartSize is the multipart threshold and part size in bytes.
	PartSize int64
}

// S3Publisher uploads scratch trees to an S3 bucket.
type S3Publisher struct {
	client   S3API
	uploader *manager.Uploader
	opts     S3Options
	logger   *slog.Logger
}

// NewS3 wraps an existing client.
func NewS3(client S3API, opts S3Options, logger *slog.Logger) *S3Publisher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.PartSize <= 0 {
		opts.PartSize = 8 * 1024 * 1024
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = opts.PartSize
		u.LeavePartsOnError = false
	})
	return &S3Publisher{client: client, uploader: uploader, opts: opts, logger: logger}
}

// NewS3FromConfig loads AWS credentials (static keys when configured,
// otherwise the default chain) and builds a publisher.
func NewS3FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*S3Publisher, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Publish.Region)}
	if cfg.Publish.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Publish.AccessKey, cfg.Publish.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Publish.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Publish.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3(client, S3Options{
		Bucket:      cfg.Publish.Bucket,
		Prefix:      cfg.Publish.Prefix,
		DatasetsDir: cfg.Paths.DatasetsDir,
		Concurrency: cfg.Engine.Workers,
	}, logger), nil
}

// Name returns "s3".
func (p *S3Publisher) Name() string { return "s3" }

// Publish uploads the scratch tree as a new version under
// <prefix>/<repo id>/.runs/, points CURRENT at it, prunes earlier versions,
// and removes the stale local copy.
func (p *S3Publisher) Publish(ctx context.Context, scratchRoot, repoID string) (Location, error) {
	files, err := listFiles(scratchRoot)
	if err != nil {
		return Location{}, fmt.Errorf("s3 publish: list scratch: %w", err)
	}
	prefix := objectPrefix(p.opts.Prefix, repoID)
	version := newVersion(time.Now())

	vp := &versionedPublish{store: p, repoPrefix: prefix, concurrency: p.opts.Concurrency, logger: p.logger}
	if err := vp.run(ctx, files, version); err != nil {
		return Location{}, fmt.Errorf("s3 publish: %w", err)
	}

	loc := Location{
		Target:  p.Name(),
		URI:     fmt.Sprintf("s3://%s/%s", p.opts.Bucket, strings.TrimSuffix(prefix, "/")),
		Version: version,
		Files:   len(files),
	}
	for _, f := range files {
		loc.Bytes += f.size
	}
	removeStaleLocal(p.opts.DatasetsDir, repoID, p.logger)
	return loc, nil
}

func (p *S3Publisher) putFile(ctx context.Context, key, path, rel string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.opts.Bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType(rel)),
	})
	return err
}

func (p *S3Publisher) putBytes(ctx context.Context, key string, data []byte) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain"),
	})
	return err
}

func (p *S3Publisher) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pager := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.opts.Bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// remove deletes keys in batches; DeleteObjects accepts at most 1000 per request.
func (p *S3Publisher) remove(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += 1000 {
		batch := keys[start:min(start+1000, len(keys))]
		ids := make([]types.ObjectIdentifier, len(batch))
		for i, k := range batch {
			ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		out, err := p.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(p.opts.Bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
		if out != nil && len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}
