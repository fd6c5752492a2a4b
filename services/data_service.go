package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/xh3b4sd/tracer"
)

const s3Scheme = "s3://"

// DataService reads model artifacts from the local filesystem or from S3
// when the path has the form s3://bucket/key.
type DataService struct {
	region string

	once  sync.Once
	s3    s3iface.S3API
	s3Err error
}

func NewDataService(region string) *DataService {
	return &DataService{region: region}
}

// WithS3 sets the S3 client, skipping session setup.
func (ds *DataService) WithS3(client s3iface.S3API) *DataService {
	ds.once.Do(func() {})
	ds.s3 = client
	return ds
}

func (ds *DataService) ReadArtifact(ctx context.Context, path string) ([]byte, error) {
	if strings.HasPrefix(path, s3Scheme) {
		return ds.readS3(ctx, path)
	}

	if !ds.ValidateFile(path) {
		return nil, fmt.Errorf("artifact %s not found", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tracer.Mask(err)
	}
	return data, nil
}

func (ds *DataService) ValidateFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (ds *DataService) readS3(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	ds.once.Do(func() {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(ds.region)})
		if err != nil {
			ds.s3Err = err
			return
		}
		ds.s3 = s3.New(sess)
	})
	if ds.s3Err != nil {
		return nil, tracer.Mask(ds.s3Err)
	}

	out, err := ds.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, tracer.Mask(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, tracer.Mask(err)
	}
	return data, nil
}

func parseS3URI(uri string) (string, string, error) {
	rest := strings.TrimPrefix(uri, s3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 uri %q", uri)
	}
	return bucket, key, nil
}
