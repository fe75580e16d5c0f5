package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const Scheme = "s3://"

// Location is an object key within a bucket.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return Scheme + l.Bucket + "/" + l.Key
}

// Join returns a location below l.
func (l Location) Join(name string) Location {
	key := strings.TrimSuffix(l.Key, "/")
	if key == "" {
		return Location{Bucket: l.Bucket, Key: name}
	}
	return Location{Bucket: l.Bucket, Key: key + "/" + name}
}

// IsURI reports whether s names an S3 object or prefix.
func IsURI(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseURI splits s3://bucket/key into its bucket and key.
func ParseURI(uri string) (Location, error) {
	if !IsURI(uri) {
		return Location{}, fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ := strings.Cut(strings.TrimPrefix(uri, Scheme), "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("s3 uri %q has no bucket", uri)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// API is the subset of the S3 client used by Store.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Logger *slog.Logger
	Region string
	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint     string
	UsePathStyle bool
	// Client replaces the SDK client; used in tests.
	Client API
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Store reads and writes whole objects.
type Store struct {
	log    *slog.Logger
	client API
}

// NewStore builds a store, loading AWS credentials from the default chain
// unless a client is supplied.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := cfg.Client
	if client == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.UsePathStyle
		})
	}
	return &Store{log: cfg.Logger, client: client}, nil
}

// Open streams the object at loc. The caller closes the reader.
func (s *Store) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", loc, err)
	}
	s.log.Debug("opened object", "location", loc.String())
	return out.Body, nil
}

// Put uploads body to loc.
func (s *Store) Put(ctx context.Context, loc Location, body io.ReadSeeker, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(loc.Bucket),
		Key:         aws.String(loc.Key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", loc, err)
	}
	s.log.Debug("wrote object", "location", loc.String())
	return nil
}
