package archive

import (
	"context"
	"fmt"

	"dms-go/internal/config"
	"dms-go/internal/dms"
)

// NewArchiveFromConfig creates the archive described by cfg. Type "none"
// returns a nil Archive. When cfg.Encrypt is set the backend is wrapped in
// Sealed, which requires enc.
func NewArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig, enc dms.Encryptor) (dms.Archive, error) {
	var backend dms.Archive
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		backend = NewMemoryArchive()
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_root to be set")
		}
		fsa, err := NewFileSystemArchive(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		backend = fsa
	case "s3":
		s3a, err := NewS3Archive(ctx, cfg)
		if err != nil {
			return nil, err
		}
		backend = s3a
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}

	if !cfg.Encrypt {
		return backend, nil
	}
	if enc == nil || !enc.IsConfigured() {
		return nil, fmt.Errorf("archive encryption is enabled but no keys are configured (run 'dms keys init')")
	}
	return NewSealed(backend, enc), nil
}
