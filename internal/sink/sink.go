package sink

import (
	"context"
	"fmt"

	"github.com/tanq16/slicedl/internal/utils"
)

// Sink persists a finished download. Write returns where the bytes ended up,
// which may differ from dest when a local file had to be renamed.
type Sink interface {
	Write(ctx context.Context, dest string, data []byte) (string, error)
}

// Router sends s3:// destinations to S3 and everything else to the filesystem.
type Router struct {
	File Sink
	S3   Sink
}

func (r *Router) Write(ctx context.Context, dest string, data []byte) (string, error) {
	if utils.DetermineDownloadType(dest) == "s3" {
		if r.S3 == nil {
			return "", fmt.Errorf("no S3 sink configured for %s", dest)
		}
		return r.S3.Write(ctx, dest, data)
	}
	if r.File == nil {
		return "", fmt.Errorf("no file sink configured for %s", dest)
	}
	return r.File.Write(ctx, dest, data)
}
