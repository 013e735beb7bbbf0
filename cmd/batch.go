package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/slicedl/internal/output"
	"github.com/tanq16/slicedl/internal/scheduler"
	"github.com/tanq16/slicedl/internal/utils"
)

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple downloads from a YAML file",
		Long: `Process multiple downloads from a YAML list of entries:

  - link: https://example.com/big.iso
    op: isos/big.iso
  - link: s3://bucket/dump.tar
    op: s3://archive/dump.tar`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			entries, err := utils.ReadDownloadList(args[0])
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			if len(entries) == 0 {
				output.PrintError("No valid jobs found in the batch file")
				os.Exit(1)
			}
			jobs := scheduler.NewJobs(entries, cfg.BaseTask())
			if err := runJobs(cmd.Context(), jobs); err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
		},
	}
}
