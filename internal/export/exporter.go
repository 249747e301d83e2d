// Package export writes collection snapshots to S3 as newline-delimited JSON.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
)

// Source lists collections and the store holding them.
type Source interface {
	Names() []string
	Store() modepress.Store
}

// Uploader is the subset of manager.Uploader used by the exporter.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// BucketAPI is the subset of the S3 client used to make sure the target bucket exists.
type BucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Result describes one uploaded snapshot object.
type Result struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
	Documents  int64  `json:"documents"`
	Bytes      int    `json:"bytes"`
}

// Exporter dumps every document of a collection, including dependency
// metadata, into one object per collection.
type Exporter struct {
	source   Source
	uploader Uploader
	buckets  BucketAPI
	cfg      modepress.ExportConfig
	now      func() time.Time
}

// New builds an exporter over explicit S3 collaborators. buckets may be nil
// when the bucket is known to exist.
func New(source Source, uploader Uploader, buckets BucketAPI, cfg modepress.ExportConfig) *Exporter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Exporter{
		source:   source,
		uploader: uploader,
		buckets:  buckets,
		cfg:      cfg,
		now:      time.Now,
	}
}

// NewS3Exporter loads the AWS configuration for cfg and builds an exporter
// backed by the S3 upload manager.
func NewS3Exporter(ctx context.Context, source Source, cfg modepress.ExportConfig) (*Exporter, error) {
	if cfg.Bucket == "" {
		return nil, &modepress.ConfigError{Field: "export.bucket", Message: "is required"}
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(cfg.Endpoint))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return New(source, manager.NewUploader(client), client, cfg), nil
}

// EnsureBucket creates the target bucket when it is missing.
func (e *Exporter) EnsureBucket(ctx context.Context) error {
	if e.buckets == nil {
		return nil
	}
	bucket := aws.String(e.cfg.Bucket)
	if _, err := e.buckets.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: bucket}); err == nil {
		return nil
	}
	_, err := e.buckets.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: bucket})
	if err == nil || bucketExists(err) {
		return nil
	}
	return fmt.Errorf("create bucket: %w", err)
}

func bucketExists(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists"
}

// ExportAll exports the named collections, or every collection of the
// source when none are named. It stops at the first failure.
func (e *Exporter) ExportAll(ctx context.Context, names ...string) ([]Result, error) {
	if len(names) == 0 {
		names = e.source.Names()
	}
	if err := e.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(names))
	for _, name := range names {
		res, err := e.ExportCollection(ctx, name)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// ExportCollection reads the collection in batches ordered by _id and
// uploads the documents as one NDJSON object.
func (e *Exporter) ExportCollection(ctx context.Context, name string) (*Result, error) {
	coll := e.source.Store().Collection(name)
	batch := int64(e.cfg.BatchSize)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	var written int64
	for skip := int64(0); ; skip += batch {
		page, err := coll.Find(ctx, nil, modepress.FindOptions{
			Skip:  skip,
			Limit: batch,
			Sort:  []modepress.SortField{{Field: modepress.FieldID, Order: modepress.SortAsc}},
		})
		if err != nil {
			return nil, modepress.NewStoreError("export", err).WithCollection(name)
		}
		for _, doc := range page.Items {
			if err := enc.Encode(doc); err != nil {
				return nil, fmt.Errorf("encode %s document: %w", name, err)
			}
			written++
		}
		if int64(len(page.Items)) < batch || skip+batch >= page.Total {
			break
		}
	}

	key := e.objectKey(name)
	size := buf.Len()
	_, err := e.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 upload %s: %w", key, err)
	}

	zap.S().Infow("collection exported", "collection", name, "key", key, "documents", written, "bytes", size)
	return &Result{Collection: name, Key: key, Documents: written, Bytes: size}, nil
}

func (e *Exporter) objectKey(collection string) string {
	stamp := e.now().UTC().Format("20060102T150405Z")
	name := fmt.Sprintf("%s/%s-%s.ndjson", collection, stamp, uuid.Must(uuid.NewV7()).String())
	prefix := strings.Trim(e.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
