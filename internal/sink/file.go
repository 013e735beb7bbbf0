package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/slicedl/internal/utils"
)

// FileSink writes to <dir>/.slicedl-temp/<name>.part and renames into place.
// An existing file is kept and the download gets a numbered name unless
// Overwrite is set.
type FileSink struct {
	Overwrite bool
}

func (f *FileSink) Write(ctx context.Context, outputPath string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !f.Overwrite {
		if _, err := os.Stat(outputPath); err == nil {
			renewed := utils.RenewOutputPath(outputPath)
			log.Debug().Str("op", "sink/file").Msgf("%s exists, writing %s instead", outputPath, renewed)
			outputPath = renewed
		}
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("error creating output directory: %w", err)
		}
	}
	tempDir := filepath.Join(filepath.Dir(outputPath), utils.TempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return "", fmt.Errorf("error creating temp directory: %w", err)
	}
	tempOutputPath := filepath.Join(tempDir, filepath.Base(outputPath)) + ".part"
	if err := os.WriteFile(tempOutputPath, data, 0644); err != nil {
		os.Remove(tempOutputPath)
		return "", fmt.Errorf("error writing output file: %w", err)
	}
	if err := os.Rename(tempOutputPath, outputPath); err != nil {
		os.Remove(tempOutputPath)
		return "", fmt.Errorf("error renaming (finalizing) output file: %w", err)
	}
	// only removes the temp dir when nothing else is in flight there
	os.Remove(tempDir)
	log.Info().Str("op", "sink/file").Msgf("wrote %d bytes to %s", len(data), outputPath)
	return outputPath, nil
}
