package artifact

import (
	"context"
	"fmt"
	"os"

	"github.com/imamik/shipgate/internal/config"
)

// Open creates the store the stack declaration selects. S3 credentials come
// from SHIPGATE_S3_ACCESS_KEY/SHIPGATE_S3_SECRET_KEY when set, otherwise from
// the default AWS credential chain.
func Open(ctx context.Context, cfg config.ArtifactConfig, timeouts *config.Timeouts) (*Store, error) {
	switch cfg.Backend {
	case "", config.BackendLocal:
		path := cfg.Path
		if path == "" {
			path = config.DefaultArtifactPath
		}
		backend, err := NewLocalStore(path)
		if err != nil {
			return nil, err
		}
		return New(backend), nil

	case config.BackendS3:
		opts := S3Options{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: os.Getenv("SHIPGATE_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("SHIPGATE_S3_SECRET_KEY"),
		}
		if timeouts != nil {
			opts.MaxAttempts = timeouts.RetryMaxAttempts
			opts.InitialDelay = timeouts.RetryInitialDelay
		}
		backend, err := NewS3Store(ctx, opts)
		if err != nil {
			return nil, err
		}
		return New(backend), nil
	}
	return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
}
