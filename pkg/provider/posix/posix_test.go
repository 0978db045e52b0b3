package posix

import (
	"testing"

	"github.com/stretchr/testify/require"

	providertesting "github.com/voegtlel/multi-storage-client/pkg/provider/testing"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// TestPosixProvider runs the shared StorageProvider conformance suite
// against the filesystem implementation.
func TestPosixProvider(t *testing.T) {
	suite := &providertesting.ProviderTestSuite{
		NewProvider: func(t *testing.T) types.StorageProvider {
			p, err := New(Config{BasePath: t.TempDir()})
			require.NoError(t, err)
			return p
		},
	}
	suite.Run(t)
}

func TestNewRejectsRelativeBasePath(t *testing.T) {
	_, err := New(Config{BasePath: "relative/path"})
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestNewRequiresBasePath(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}
