package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/pixvault/internal/errs"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    [][]byte
	calls   int
	failGet error
}

var _ S3API = (*fakeS3)(nil)

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

type preconditionErr struct{}

func (preconditionErr) Error() string     { return "precondition failed" }
func (preconditionErr) ErrorCode() string { return "PreconditionFailed" }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, ok := f.objects[key]; ok {
			return nil, preconditionErr{}
		}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	f.puts = append(f.puts, data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failGet != nil {
		return nil, f.failGet
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3_StoreRetrieveDeleteTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeS3()
	v := NewS3(fake, "bucket", "/vault/", nil)
	env := sampleEnvelope()

	vp, err := v.Store(ctx, 7, env, "image_42.png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(vp, "7/image_42_"), vp)
	_, stored := fake.objects["vault/"+vp]
	assert.True(t, stored)

	got, ok, err := v.Retrieve(ctx, vp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, env, got)

	exists, err := v.Exists(ctx, vp)
	require.NoError(t, err)
	assert.True(t, exists)

	original := append([]byte(nil), fake.objects["vault/"+vp]...)
	removed, err := v.Delete(ctx, vp)
	require.NoError(t, err)
	assert.True(t, removed)

	filler := fake.puts[len(fake.puts)-1]
	assert.Len(t, filler, len(original))
	assert.NotEqual(t, original, filler)

	removed, err = v.Delete(ctx, vp)
	require.NoError(t, err)
	assert.False(t, removed)

	_, ok, err = v.Retrieve(ctx, vp)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3_RejectsEscapesWithoutCalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := newFakeS3()
	v := NewS3(fake, "bucket", "", nil)

	for _, p := range []string{"../x", "7/../../x", "/abs", ""} {
		_, _, err := v.Retrieve(ctx, p)
		require.ErrorIs(t, err, errs.ErrVaultAccess)
		_, err = v.Delete(ctx, p)
		require.ErrorIs(t, err, errs.ErrVaultAccess)
		_, err = v.Exists(ctx, p)
		require.ErrorIs(t, err, errs.ErrVaultAccess)
	}
	assert.Zero(t, fake.calls)
}

func TestS3_BackendFailure(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	fake.failGet = errors.New("connection reset")
	v := NewS3(fake, "bucket", "", nil)

	_, _, err := v.Retrieve(context.Background(), "1/a.png")
	require.ErrorIs(t, err, errs.ErrVaultAccess)
}
