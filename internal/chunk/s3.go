package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// S3Config holds the settings for an S3-compatible chunk backend.
// Works with AWS S3, MinIO, DigitalOcean Spaces, Cloudflare R2, etc.
type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string // Optional: for S3-compatible services
	PathStyle bool   // Forced on when Endpoint is set
}

// S3Store keeps chunks in an S3 bucket under {fileID}/{index} keys.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds the S3 client and makes sure the bucket exists.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	// Add static credentials if provided
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" || cfg.PathStyle {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = true // Required for MinIO and some S3-compatible services
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	store := &S3Store{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}

	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("s3 chunk store ready")
	return store, nil
}

// ensureBucket checks if the bucket exists and creates it if not.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("bucket %q does not exist and could not be created: %w", s.bucket, err)
	}

	log.Info().Str("bucket", s.bucket).Msg("created chunk bucket")
	return nil
}

func (s *S3Store) key(fileID string, index int) string {
	return fileID + "/" + strconv.Itoa(index)
}

// Put stores a chunk object, replacing any previous data at the index.
func (s *S3Store) Put(ctx context.Context, fileID string, index int, data []byte) error {
	if err := validateKey(fileID, index); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID, index)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put chunk: %w", err)
	}
	return nil
}

// Get fetches the chunk at (fileID, index).
func (s *S3Store) Get(ctx context.Context, fileID string, index int) ([]byte, error) {
	if err := validateKey(fileID, index); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID, index)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &MissingChunkError{Index: index}
		}
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read chunk body: %w", err)
	}
	return data, nil
}

// Count returns how many distinct chunk indexes exist for the file.
func (s *S3Store) Count(ctx context.Context, fileID string) (int, error) {
	indexes, err := s.Indexes(ctx, fileID)
	if err != nil {
		return 0, err
	}
	return len(indexes), nil
}

// Indexes lists the file's objects and returns the set of present
// chunk indexes.
func (s *S3Store) Indexes(ctx context.Context, fileID string) (map[int]bool, error) {
	if err := validateKey(fileID, 0); err != nil {
		return nil, err
	}

	prefix := fileID + "/"
	present := make(map[int]bool)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list chunks: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			index, err := strconv.Atoi(name)
			if err != nil || index < 0 {
				continue
			}
			present[index] = true
		}
	}
	return present, nil
}

// DeleteAll removes every chunk object belonging to the file.
func (s *S3Store) DeleteAll(ctx context.Context, fileID string) error {
	indexes, err := s.Indexes(ctx, fileID)
	if err != nil {
		return err
	}

	for index := range indexes {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(fileID, index)),
		})
		if err != nil {
			return fmt.Errorf("delete chunk %d: %w", index, err)
		}
	}
	return nil
}
