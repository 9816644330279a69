package feed

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the slice of the S3 client the publisher uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads rendered feeds to a bucket.
type S3Publisher struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Publisher creates a publisher from the default AWS config.
func NewS3Publisher(ctx context.Context, region, bucket, prefix string) (*S3Publisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for feed publisher: %w", err)
	}
	return NewPublisher(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewPublisher wraps an existing client.
func NewPublisher(client ObjectPutter, bucket, prefix string) *S3Publisher {
	return &S3Publisher{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key of a family's feed.
func (p *S3Publisher) Key(familyID string) string {
	return path.Join(p.prefix, familyID+".ics")
}

// Publish uploads body as the family's feed and returns the object key.
func (p *S3Publisher) Publish(ctx context.Context, familyID, body string) (string, error) {
	key := p.Key(familyID)
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         strings.NewReader(body),
		ContentType:  aws.String(ContentType),
		CacheControl: aws.String("max-age=300"),
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObject %s/%s: %w", p.bucket, key, err)
	}
	return key, nil
}
