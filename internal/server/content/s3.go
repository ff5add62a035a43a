package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/openmined/peersync/internal/utils"
)

// S3Backend stores bodies as objects named <prefix>/<key>. Uploads are
// spooled to disk first so the SDK gets a seekable body of known length.
type S3Backend struct {
	client *s3.Client
	config *S3Config
	tmpDir string
}

func NewS3Backend(client *s3.Client, cfg *S3Config, tmpDir string) *S3Backend {
	return &S3Backend{client: client, config: cfg, tmpDir: tmpDir}
}

func NewS3BackendWithConfig(cfg *S3Config, root string) (*S3Backend, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   50,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	tmpDir := filepath.Join(root, ReservedPrefix, "tmp")
	if err := utils.EnsureDir(tmpDir); err != nil {
		return nil, fmt.Errorf("content tmp dir: %w", err)
	}
	return NewS3Backend(client, cfg, tmpDir), nil
}

func (s *S3Backend) objectKey(key string) string {
	if s.config.Prefix == "" {
		return key
	}
	return path.Join(s.config.Prefix, key)
}

func (s *S3Backend) Put(ctx context.Context, params *PutParams) (*PutResult, error) {
	if err := ValidateKey(params.Key); err != nil {
		return nil, err
	}

	spool, err := os.CreateTemp(s.tmpDir, "s3-upload-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	checksum, size, err := copyHashed(spool, params.Body, params.MaxSize)
	if err != nil {
		return nil, err
	}
	if _, err := spool.Seek(0, 0); err != nil {
		return nil, err
	}

	input := &s3.PutObjectInput{
		Bucket:        &s.config.BucketName,
		Key:           aws.String(s.objectKey(params.Key)),
		Body:          spool,
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{"sha256": checksum},
	}
	if !params.ModTime.IsZero() {
		input.Metadata["mtime"] = params.ModTime.UTC().Format(time.RFC3339Nano)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, err
	}

	return &PutResult{Key: params.Key, Checksum: checksum, Size: size}, nil
}

func (s *S3Backend) Get(ctx context.Context, key string) (*Object, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.config.BucketName,
		Key:    aws.String(s.objectKey(key)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	} else if err != nil {
		return nil, err
	}

	return &Object{
		Body:    resp.Body,
		Size:    aws.ToInt64(resp.ContentLength),
		ModTime: aws.ToTime(resp.LastModified),
	}, nil
}

// Delete removes the object and every object under key/.
func (s *S3Backend) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	keys := []string{s.objectKey(key)}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.config.BucketName,
		Prefix: aws.String(s.objectKey(key) + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	for _, k := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &s.config.BucketName,
			Key:    aws.String(k),
		}); err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}

func (s *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.config.BucketName,
		Key:    aws.String(s.objectKey(key)),
	})
	if isNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound) || strings.Contains(err.Error(), "StatusCode: 404")
}

var _ Backend = (*S3Backend)(nil)
