package memory

import (
	"testing"

	providertesting "github.com/voegtlel/multi-storage-client/pkg/provider/testing"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// TestMemoryProvider runs the shared StorageProvider conformance suite
// against the in-memory implementation.
func TestMemoryProvider(t *testing.T) {
	suite := &providertesting.ProviderTestSuite{
		NewProvider: func(t *testing.T) types.StorageProvider {
			return New(Config{})
		},
	}
	suite.Run(t)
}
