package utils

import (
	"fmt"
	u "net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

func DetermineDownloadType(url string) string {
	if strings.HasPrefix(url, "s3://") {
		return "s3"
	}
	return "http"
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

// ReadDownloadList parses a YAML batch file. Entries without an output path get
// one inferred from their URL later.
func ReadDownloadList(filePath string) ([]DownloadEntry, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var entries []DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	for i, entry := range entries {
		if entry.URL == "" {
			return nil, fmt.Errorf("missing URL for entry %d", i+1)
		}
	}
	log.Debug().Str("op", "utils/functions").Int("count", len(entries)).Msg("Entries loaded from YAML")
	return entries, nil
}

// InferOutputPath names a download after the last element of its URL path.
func InferOutputPath(url string) string {
	name := ""
	if parsed, err := u.Parse(url); err == nil {
		name = path.Base(parsed.Path)
	}
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return filenameRegex.ReplaceAllString(name, "_")
}

func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}

// Clean removes the temp directory next to outputPath and the slice cache root.
func Clean(outputPath, cacheDir string) error {
	tempDir := filepath.Join(filepath.Dir(outputPath), TempDirName)
	if err := os.RemoveAll(tempDir); err != nil {
		return err
	}
	if cacheDir == "" {
		return nil
	}
	return os.RemoveAll(cacheDir)
}
