package s3

import (
	"context"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/voegtlel/multi-storage-client/pkg/types"
)

func TestNewRequiresBasePath(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestNewSplitsBucketAndPrefix(t *testing.T) {
	p, err := New(context.Background(), Config{
		BasePath:    "bucket/data/v1",
		RegionName:  "eu-west-1",
		EndpointURL: "http://localhost:9000",
	}, nil)
	require.NoError(t, err)

	require.Equal(t, "bucket", p.bucket)
	require.Equal(t, "data/v1", p.keyPrefix)
	require.Equal(t, "data/v1/obj", p.objectKey("obj"))
	require.Equal(t, "obj", p.relkey("data/v1/obj"))
}

func TestObjectKeyWithoutPrefix(t *testing.T) {
	p, err := New(context.Background(), Config{BasePath: "bucket"}, nil)
	require.NoError(t, err)

	require.Equal(t, "a/b", p.objectKey("/a/b"))
	require.Equal(t, "a/b", p.relkey("a/b"))
}

type fakeAPIError struct {
	code string
}

func (e *fakeAPIError) Error() string                 { return e.code }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestClassify(t *testing.T) {
	cases := map[string]error{
		"NoSuchKey":           types.ErrNotFound,
		"AccessDenied":        types.ErrUnauthorized,
		"PreconditionFailed":  types.ErrPreconditionFailed,
		"SlowDown":            types.ErrUnavailable,
		"ServiceUnavailable":  types.ErrUnavailable,
		"OperationAborted":    types.ErrConflict,
	}
	for code, kind := range cases {
		err := classify("get", "k", &fakeAPIError{code: code})
		require.ErrorIs(t, err, kind, code)
	}

	require.ErrorIs(t, classify("get", "k", context.DeadlineExceeded), types.ErrUnavailable)
}
