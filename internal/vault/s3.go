package vault

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
)

// S3API is the subset of *s3.Client used by the S3 vault.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures a client built by NewS3Client.
type S3Options struct {
	Region    string
	Endpoint  string // empty uses the AWS default
	AccessKey string // empty falls back to the default credential chain
	SecretKey string
}

// NewS3Client builds an S3 client, optionally against an S3-compatible endpoint.
func NewS3Client(ctx context.Context, o S3Options) (*s3.Client, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(o.Region)}
	if o.AccessKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	}), nil
}

// S3 stores one object per record under <prefix>/<owner_id>/ in a bucket.
// Returned paths omit the prefix.
type S3 struct {
	client S3API
	bucket string
	prefix string
	now    func() time.Time
	log    *zap.Logger
}

var _ Storage = (*S3)(nil)

func NewS3(client S3API, bucket, prefix string, log *zap.Logger) *S3 {
	if log == nil {
		log = zap.NewNop()
	}
	return &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
		log:    log,
	}
}

func (s *S3) key(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return s.prefix + "/" + rel
}

func (s *S3) Store(ctx context.Context, ownerID int64, env model.EncryptedEnvelope, suggestedName string) (string, error) {
	if err := validOwner(ownerID); err != nil {
		return "", err
	}
	now := s.now()
	data, err := encodeRecord(env, now)
	if err != nil {
		return "", err
	}
	owner := strconv.FormatInt(ownerID, 10)

	for range nameAttempts {
		name, err := uniqueName(suggestedName, now)
		if err != nil {
			return "", err
		}
		vp := path.Join(owner, name)
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(s.key(vp)),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String("application/json"),
			IfNoneMatch:   aws.String("*"),
		})
		if isPreconditionFailed(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: put object: %w", errs.ErrVaultAccess, err)
		}
		s.log.Debug("vault object stored", zap.String("path", vp), zap.Int("bytes", len(data)))
		return vp, nil
	}
	return "", fmt.Errorf("%w: no free name for %q", errs.ErrVaultAccess, suggestedName)
}

func (s *S3) Retrieve(ctx context.Context, vaultPath string) (model.EncryptedEnvelope, bool, error) {
	rel, err := Clean(vaultPath)
	if err != nil {
		return model.EncryptedEnvelope{}, false, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(rel)),
	})
	if isNotFound(err) {
		return model.EncryptedEnvelope{}, false, nil
	}
	if err != nil {
		return model.EncryptedEnvelope{}, false, fmt.Errorf("%w: get object: %w", errs.ErrVaultAccess, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return model.EncryptedEnvelope{}, false, fmt.Errorf("%w: read object: %w", errs.ErrVaultAccess, err)
	}
	env, err := decodeRecord(data)
	if err != nil {
		return model.EncryptedEnvelope{}, false, err
	}
	return env, true, nil
}

// Delete replaces the object with random bytes of the same length before
// removing it. Versioned buckets keep prior versions; the overwrite only
// covers the current one.
func (s *S3) Delete(ctx context.Context, vaultPath string) (bool, error) {
	rel, err := Clean(vaultPath)
	if err != nil {
		return false, err
	}
	size, ok, err := s.head(ctx, rel)
	if err != nil || !ok {
		return false, err
	}

	filler := make([]byte, size)
	if _, err := rand.Read(filler); err != nil {
		return false, fmt.Errorf("%w: filler: %w", errs.ErrVaultAccess, err)
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(rel)),
		Body:          bytes.NewReader(filler),
		ContentLength: aws.Int64(size),
	}); err != nil {
		return false, fmt.Errorf("%w: overwrite object: %w", errs.ErrVaultAccess, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(rel)),
	}); err != nil {
		return false, fmt.Errorf("%w: delete object: %w", errs.ErrVaultAccess, err)
	}
	s.log.Debug("vault object deleted", zap.String("path", rel))
	return true, nil
}

func (s *S3) Exists(ctx context.Context, vaultPath string) (bool, error) {
	rel, err := Clean(vaultPath)
	if err != nil {
		return false, err
	}
	_, ok, err := s.head(ctx, rel)
	return ok, err
}

func (s *S3) head(ctx context.Context, rel string) (int64, bool, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(rel)),
	})
	if isNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: head object: %w", errs.ErrVaultAccess, err)
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

type errorCoder interface{ ErrorCode() string }

func isPreconditionFailed(err error) bool {
	var ec errorCoder
	return errors.As(err, &ec) && ec.ErrorCode() == "PreconditionFailed"
}
