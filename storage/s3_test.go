package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canna-directory/config"
)

type fakeObjectStore struct {
	objects map[string]time.Time
	puts    []string
	failPut bool
}

func (f *fakeObjectStore) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut {
		return nil, errors.New("bucket unavailable")
	}
	f.puts = append(f.puts, aws.ToString(in.Key))
	f.objects[aws.ToString(in.Key)] = time.Now()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectStore) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for key, modified := range f.objects {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key), LastModified: aws.Time(modified)})
	}
	return out, nil
}

func (f *fakeObjectStore) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestArchiveUploadReturnsLink(t *testing.T) {
	store := &fakeObjectStore{objects: map[string]time.Time{}}
	archive := &Archive{Client: store, Bucket: "directory", BaseURL: "https://s3.example.com"}

	link, err := archive.Upload(context.Background(), "imports/a.csv", []byte("name\nBlue Dream"))
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com/directory/imports/a.csv", link)
	assert.Equal(t, []string{"imports/a.csv"}, store.puts)

	store.failPut = true
	_, err = archive.Upload(context.Background(), "imports/b.csv", nil)
	assert.Error(t, err)
}

func TestArchiveRotateKeepsNewest(t *testing.T) {
	now := time.Now()
	store := &fakeObjectStore{objects: map[string]time.Time{
		"snapshots/1.json.gz": now.Add(-3 * time.Hour),
		"snapshots/2.json.gz": now.Add(-2 * time.Hour),
		"snapshots/3.json.gz": now.Add(-1 * time.Hour),
	}}
	archive := &Archive{Client: store, Bucket: "directory"}

	deleted, err := archive.Rotate(context.Background(), "snapshots/", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.NotContains(t, store.objects, "snapshots/1.json.gz")
	assert.Contains(t, store.objects, "snapshots/3.json.gz")
}

func TestNewArchiveDisabledWithoutConfig(t *testing.T) {
	archive, err := NewArchive(context.Background(), &config.Config{})
	require.NoError(t, err)
	assert.Nil(t, archive)
}
