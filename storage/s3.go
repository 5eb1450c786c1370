package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"canna-directory/config"
)

// ObjectStore ist der Teil der S3-API, den das Archiv benötigt.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client erstellt einen S3-Client für einen S3-kompatiblen Endpunkt.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3URL)
		o.UsePathStyle = true
	}), nil
}

// Archive legt Import-Dateien und Snapshots in einem Bucket ab.
type Archive struct {
	Client  ObjectStore
	Bucket  string
	BaseURL string
}

// NewArchive liefert nil, wenn S3 nicht konfiguriert ist.
func NewArchive(ctx context.Context, cfg *config.Config) (*Archive, error) {
	if !cfg.S3Enabled() {
		return nil, nil
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Archive{Client: client, Bucket: cfg.S3Bucket, BaseURL: strings.TrimRight(cfg.S3URL, "/")}, nil
}

// Upload lädt data unter key hoch und gibt den Link zurück.
func (a *Archive) Upload(ctx context.Context, key string, data []byte) (string, error) {
	_, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", a.BaseURL, a.Bucket, key), nil
}

// Rotate behält die keep neuesten Objekte unter prefix und löscht den Rest.
// Zurückgegeben wird die Anzahl gelöschter Objekte.
func (a *Archive) Rotate(ctx context.Context, prefix string, keep int) (int, error) {
	output, err := a.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.Bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", prefix, err)
	}
	if len(output.Contents) <= keep {
		return 0, nil
	}

	objects := append([]types.Object{}, output.Contents...)
	sort.Slice(objects, func(i, j int) bool {
		return aws.ToTime(objects[i].LastModified).After(aws.ToTime(objects[j].LastModified))
	})

	deleted := 0
	var firstErr error
	for _, obj := range objects[keep:] {
		_, err := a.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.Bucket),
			Key:    obj.Key,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("delete %s: %w", aws.ToString(obj.Key), err)
			}
			continue
		}
		deleted++
	}
	return deleted, firstErr
}
