package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/apresai/newsdesk/internal/pipeline"
)

// S3API is the subset of the S3 client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive uploads finished episodes to S3 for the downstream audio and feed
// jobs.
type Archive struct {
	client     S3API
	bucket     string
	cdnBaseURL string // e.g. "https://news.apresai.dev"
}

// NewArchive creates an S3 archive.
func NewArchive(client S3API, bucket, cdnBaseURL string) *Archive {
	return &Archive{client: client, bucket: bucket, cdnBaseURL: strings.TrimRight(cdnBaseURL, "/")}
}

// Upload writes the script as text and the full episode as JSON, returning
// the public URL of the script.
func (a *Archive) Upload(ctx context.Context, ep *pipeline.Episode) (string, error) {
	body, err := json.MarshalIndent(ep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal episode: %w", err)
	}
	if err := a.put(ctx, "episodes/"+ep.Date+".json", "application/json", body); err != nil {
		return "", err
	}

	scriptKey := "scripts/" + ep.Date + ".txt"
	if err := a.put(ctx, scriptKey, "text/plain; charset=utf-8", []byte(ep.Script)); err != nil {
		return "", err
	}
	return a.cdnBaseURL + "/" + scriptKey, nil
}

func (a *Archive) put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &a.bucket,
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("upload %s to s3: %w", key, err)
	}
	return nil
}
