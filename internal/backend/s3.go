package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
)

// S3Config selects the bucket holding the parcel GeoJSON objects.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // optional, for S3-compatible stores
	PathStyle bool
}

// objectAPI is the subset of the S3 client used here.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Backend reads the same layout as FileBackend from an S3 bucket.
type S3Backend struct {
	client objectAPI
	bucket string
	prefix string
}

// NewS3Backend loads the default AWS credential chain and creates a backend.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newS3Backend(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Backend(client objectAPI, bucket, prefix string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, prefix: prefix}
}

func (b *S3Backend) Parcel(ctx context.Context, auth Auth, farmID, parcelID string) (*geojson.FeatureCollection, error) {
	if err := validID(farmID, parcelID); err != nil {
		return nil, err
	}
	return b.getFirst(ctx, parcelKeys(farmID, parcelID))
}

func (b *S3Backend) Parcels(ctx context.Context, auth Auth, farmID string) (*geojson.FeatureCollection, error) {
	if err := validID(farmID); err != nil {
		return nil, err
	}
	return b.getFirst(ctx, parcelsKeys(farmID))
}

func (b *S3Backend) SaveParcel(ctx context.Context, auth Auth, req SaveRequest) error {
	if err := validID(req.FarmID, req.ParcelID, req.ID); err != nil {
		return err
	}
	data, err := saveDocument(req)
	if err != nil {
		return err
	}

	key := b.key(savedKey(req.FarmID, req.ParcelID, req.ID))
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/geo+json"),
	})
	if err != nil {
		return fmt.Errorf("uploading parcel: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket":  b.bucket,
		"key":     key,
		"save_id": req.ID,
	}).Info("Parcel saved to S3")
	return nil
}

func (b *S3Backend) key(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

func (b *S3Backend) getFirst(ctx context.Context, names []string) (*geojson.FeatureCollection, error) {
	for _, name := range names {
		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.key(name)),
		})
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("getting %s: %w", name, err)
		}
		data, err := io.ReadAll(out.Body)
		out.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		return decodeCollection(data)
	}
	return nil, ErrNotFound
}
