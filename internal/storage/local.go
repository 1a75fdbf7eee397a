// Package storage implements source.Backend for the two storage
// services the spec's external interface names in storage_service:
// "local" and "s3". Adapted from the teacher's tempDir-per-resource
// scheme (transcoder.Manager, hashed by fnv32a) but generalized to a
// pluggable backend instead of the teacher's single always-local-path
// assumption.
package storage

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/ixlab-labs/igni/internal/apperr"
	"github.com/ixlab-labs/igni/internal/source"
)

// Local resolves sources whose bytes are already present on the
// server's filesystem (storage_service == "local"); storage_config is
// expected to carry a "path" key.
type Local struct {
	BaseDir string
}

func (l *Local) Materialize(ctx context.Context, desc source.Descriptor) (string, error) {
	p, ok := desc.StorageConfig["path"]
	if !ok {
		return "", apperr.New(apperr.SourceOpenError, "local source %s missing storage_config.path", desc.ID)
	}
	if !filepath.IsAbs(p) && l.BaseDir != "" {
		p = filepath.Join(l.BaseDir, p)
	}
	if _, err := os.Stat(p); err != nil {
		return "", apperr.Wrap(apperr.SourceOpenError, err, "local source %s file missing", desc.ID)
	}
	return p, nil
}

// PerResourceTempDir mirrors transcoder.Manager's
// fmt.Sprintf("%s/%s-%s", tempDir, id, fnvHash(path)) scheme, reused
// here for any backend that needs a deterministic scratch directory
// per source (S3 downloads, decode intermediates).
func PerResourceTempDir(root string, id source.ID, key string) string {
	h := fnv.New32a()
	h.Write([]byte(key))
	return filepath.Join(root, fmt.Sprintf("%s-%d", id, h.Sum32()))
}
