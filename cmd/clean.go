package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tanq16/slicedl/internal/output"
	"github.com/tanq16/slicedl/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [path]",
		Short: "Remove the slice cache and temporary files",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			target := filepath.Join(".", "download")
			if len(args) > 0 {
				target = args[0]
			}
			if err := utils.Clean(target, cfg.Slice.CacheDir); err != nil {
				output.PrintError("Error cleaning up temporary files")
				os.Exit(1)
			}
			output.PrintSuccess("Temporary files and slice cache cleaned up")
		},
	}
}
