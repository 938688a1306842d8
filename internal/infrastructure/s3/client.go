package s3infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/go-api-guard/internal/config"
	"github.com/go-api-guard/internal/domain"
)

// PutObjectAPI is the part of *s3.Client the archive uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewClient creates an S3 client. When cfg.AWSEndpointURL is set (LocalStack),
// it overrides the endpoint and enables path-style addressing.
func NewClient(awsCfg aws.Config, cfg *config.Config) *s3.Client {
	clientOpts := []func(*s3.Options){}
	if cfg.AWSEndpointURL != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, clientOpts...)
}

// AuditArchive writes each audit entry as a JSON object. Objects are keyed by
// audit ID, so a retried append overwrites the same object with the same body.
type AuditArchive struct {
	client PutObjectAPI
	bucket string
}

func NewAuditArchive(client PutObjectAPI, bucket string) *AuditArchive {
	return &AuditArchive{client: client, bucket: bucket}
}

func (a *AuditArchive) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w: %v", domain.ErrValidation, err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ObjectKey(entry)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// ObjectKey is audit/<subject>/<yyyy>/<mm>/<dd>/<audit_id>.json in UTC.
func ObjectKey(e domain.AuditLogEntry) string {
	subject := e.SubjectID
	if subject == "" {
		subject = "_"
	}
	return path.Join("audit", subject, e.CreatedAt.UTC().Format("2006/01/02"), e.AuditID+".json")
}
