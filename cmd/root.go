package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/slicedl/internal/config"
	"github.com/tanq16/slicedl/internal/output"
	"github.com/tanq16/slicedl/internal/scheduler"
	"github.com/tanq16/slicedl/internal/slice"
	"github.com/tanq16/slicedl/internal/utils"
)

var (
	configPath string
	outputPath string
	headers    []string
	overwrite  bool
	debug      bool

	v   = config.New()
	cfg *config.Config
)

var SlicedlVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "slicedl [URL]",
	Short:   "slicedl downloads large files as parallel byte-range slices",
	Version: SlicedlVersion,
	Args:    cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		loaded.HTTP.Headers = append(loaded.HTTP.Headers, headers...)
		utils.InitLogger(loaded.Logging.Debug)
		cfg = loaded
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			return
		}
		url := args[0]
		if _, err := u.Parse(url); err != nil {
			output.PrintError("Invalid URL format")
			os.Exit(1)
		}
		entries := []utils.DownloadEntry{{URL: url, OutputPath: outputPath}}
		jobs := scheduler.NewJobs(entries, cfg.BaseTask())
		if err := runJobs(cmd.Context(), jobs); err != nil {
			fmt.Println()
			output.PrintError(err.Error())
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path or s3://bucket/key (inferred from the URL if not provided)")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file (default ./slicedl.yaml if present)")
	flags.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	flags.BoolVar(&overwrite, "overwrite", false, "Replace existing output files instead of renaming the download")

	flags.Int64("slice-size", slice.DefaultSliceSize, "Bytes per slice")
	flags.Int64("slice-min-size", slice.DefaultSliceMinSize, "Resources up to this size are fetched in one request")
	flags.IntP("connections", "c", slice.DefaultSliceSemaphore, "Maximum slices in flight per download")
	flags.Duration("slice-timeout", slice.DefaultSliceTimeout, "Timeout for each slice attempt (eg. 30s, 2m)")
	flags.Int("slice-retry", slice.DefaultSliceRetryTimes, "Attempts per slice before it is deferred to a recovery pass")
	flags.Int("err-list-retry", slice.DefaultErrListRetryTimes, "Recovery passes over failed slices")
	flags.String("mode", slice.ModeAsync, "Scheduling mode: async (goroutine per slice) or thread (worker pool)")
	flags.Bool("cache", false, "Keep downloaded slices on disk when a download fails and reuse them on the next run")
	flags.String("cache-dir", slice.DefaultCacheDir, "Slice cache directory")
	flags.Bool("cache-eager", false, "Write every slice to the cache as soon as it arrives")
	flags.Bool("reuse-cache", false, "Serve a download from a complete cache when the size probe fails")
	flags.DurationP("timeout", "t", 3*time.Minute, "HTTP client timeout (eg. 5s, 10m)")
	flags.DurationP("keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	flags.StringP("user-agent", "a", utils.ToolUserAgent, "User agent (\"randomize\" picks a browser agent)")
	flags.StringP("proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	flags.String("proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.String("proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.Bool("insecure", false, "Skip TLS certificate verification")
	flags.String("bearer-token", "", "OAuth2 bearer token sent with every request")
	flags.Int("plain-retries", 5, "Attempts for the unsliced fallback download")
	flags.String("profile", "default", "AWS profile for s3:// URLs")
	flags.IntP("workers", "w", 1, "Number of links to download in parallel")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")

	bindings := map[string]string{
		"slice.size":                         "slice-size",
		"slice.min_size":                     "slice-min-size",
		"slice.connections":                  "connections",
		"slice.timeout":                      "slice-timeout",
		"slice.retry":                        "slice-retry",
		"slice.err_list_retry":               "err-list-retry",
		"slice.mode":                         "mode",
		"slice.cache":                        "cache",
		"slice.cache_dir":                    "cache-dir",
		"slice.cache_eager":                  "cache-eager",
		"slice.reuse_cache_on_probe_failure": "reuse-cache",
		"http.timeout":                       "timeout",
		"http.keep_alive_timeout":            "keep-alive-timeout",
		"http.user_agent":                    "user-agent",
		"http.proxy":                         "proxy",
		"http.proxy_username":                "proxy-username",
		"http.proxy_password":                "proxy-password",
		"http.insecure":                      "insecure",
		"http.bearer_token":                  "bearer-token",
		"http.plain_retries":                 "plain-retries",
		"s3.profile":                         "profile",
		"batch.workers":                      "workers",
		"logging.debug":                      "debug",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}
