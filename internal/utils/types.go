package utils

// DownloadEntry is one line of a batch file.
type DownloadEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	URL        string `yaml:"link"`
}
