package manifest

import (
	"context"
	"strings"

	"github.com/voegtlel/multi-storage-client/internal/logger"
	"github.com/voegtlel/multi-storage-client/pkg/types"
)

// Generate builds a manifest generation from a live listing of the storage
// provider under prefix and commits it. Entries under the manifest directory
// itself are excluded. It returns the new generation id.
//
// Generate stages every listed object through the normal pending-add path,
// so the committed generation is a complete mirror of the backend at listing
// time plus any mutations already pending on this provider.
func (p *Provider) Generate(ctx context.Context, prefix string) (string, error) {
	manifestPrefix := p.manifestPath + "/"

	count := 0
	for meta, err := range p.storage.ListObjects(ctx, prefix, &types.ListOptions{Recursive: true}) {
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(meta.Key, manifestPrefix) || meta.IsDirectory() {
			continue
		}
		if err := p.AddFile(meta.Key, meta); err != nil {
			return "", err
		}
		count++
	}

	logger.Debug("generating manifest from %d listed objects under %q", count, prefix)
	return p.CommitUpdates(ctx)
}
