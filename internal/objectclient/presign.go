package objectclient

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PresignIssuer answers the storage-API endpoint's side of spec.md §4.5:
// given an operation, key, and TTL, it returns a signed URL. Client never
// implements this itself; a PresignIssuer runs on the storage-API side,
// behind the "/presign" endpoint Client.PresignURL calls, so that signing
// credentials never reach worker nodes. The API facade in internal/api
// does not serve "/presign".
type PresignIssuer interface {
	Presign(ctx context.Context, op Operation, key string, expiresIn int) (string, error)
}

// S3PresignIssuer is a reference PresignIssuer backed by the AWS SDK's S3
// presign client. It exists so this module can exercise the real signing
// path end-to-end in local/dev deployments without standing up a
// separate storage-API service; spec.md §2's non-goal excludes the
// object store's implementation itself, not this signing shim.
type S3PresignIssuer struct {
	Bucket  string
	Presign *s3.PresignClient
}

// NewS3PresignIssuer loads the default AWS config for region (falling
// back to the SDK's own credential chain) and builds a presign client
// against it.
func NewS3PresignIssuer(ctx context.Context, bucket, region string) (*S3PresignIssuer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("objectclient: loading aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3PresignIssuer{Bucket: bucket, Presign: s3.NewPresignClient(client)}, nil
}

func (i *S3PresignIssuer) Presign(ctx context.Context, op Operation, key string, expiresIn int) (string, error) {
	ttl := time.Duration(expiresIn) * time.Second

	switch op {
	case OpUpload:
		req, err := i.Presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(i.Bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", fmt.Errorf("objectclient: presigning upload for %s: %w", key, err)
		}
		return req.URL, nil

	case OpDownload:
		req, err := i.Presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(i.Bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", fmt.Errorf("objectclient: presigning download for %s: %w", key, err)
		}
		return req.URL, nil

	case OpDelete:
		req, err := i.Presign.PresignDeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(i.Bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", fmt.Errorf("objectclient: presigning delete for %s: %w", key, err)
		}
		return req.URL, nil

	default:
		return "", fmt.Errorf("objectclient: unknown presign operation %q", op)
	}
}
