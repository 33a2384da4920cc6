package destination

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"pocketcloud/internal/config"
)

// S3Destination stores archives as objects in an S3 bucket under an optional
// key prefix. Uploads go through the multipart upload manager so large
// archives stream without buffering in memory. A custom endpoint supports
// S3-compatible servers such as MinIO.
type S3Destination struct {
	name     string
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Destination creates a destination backed by the configured bucket.
// When static credentials are not configured, the default AWS credential
// chain applies.
func NewS3Destination(ctx context.Context, cfg config.DestinationConfig) (*S3Destination, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			// S3-compatible servers rarely support virtual-host addressing.
			o.UsePathStyle = true
		}
	})

	return &S3Destination{
		name:     cfg.Name,
		bucket:   cfg.S3Bucket,
		prefix:   strings.Trim(cfg.S3Prefix, "/"),
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (d *S3Destination) key(name string) string {
	return path.Join(d.prefix, name)
}

// Put streams an archive to the bucket under the given name.
func (d *S3Destination) Put(ctx context.Context, name string, r io.Reader) error {
	_, err := d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(name)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", name, err)
	}
	return nil
}

// Get streams the named archive from the bucket to w.
func (d *S3Destination) Get(ctx context.Context, name string, w io.Writer) error {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to fetch archive %s: %w", name, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("failed to read archive %s: %w", name, err)
	}
	return nil
}

// List returns the archives under the configured prefix, newest first.
func (d *S3Destination) List(ctx context.Context) ([]ArchiveInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
	}
	if d.prefix != "" {
		input.Prefix = aws.String(d.prefix + "/")
	}

	var archives []ArchiveInfo
	paginator := s3.NewListObjectsV2Paginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list archives: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, d.prefix+"/")
			if d.prefix == "" {
				name = key
			}
			archives = append(archives, ArchiveInfo{
				Name:         name,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].LastModified.After(archives[j].LastModified)
	})
	return archives, nil
}

// ValidateSetup verifies the bucket exists and is reachable with the
// configured credentials.
func (d *S3Destination) ValidateSetup(ctx context.Context) error {
	_, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(d.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s is not accessible: %w", d.bucket, err)
	}
	return nil
}

// Compile-time check that S3Destination implements Destination
var _ Destination = (*S3Destination)(nil)
