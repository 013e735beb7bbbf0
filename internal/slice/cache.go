package slice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"
)

const manifestName = "manifest.yaml"

// Manifest describes the download a cache directory belongs to.
type Manifest struct {
	URL       string    `yaml:"url"`
	Size      int64     `yaml:"size"`
	SliceSize int64     `yaml:"slice_size"`
	Slices    int       `yaml:"slices"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// CacheStore keeps slices on disk under <root>/<identity>/<index>. Every file
// operation goes through its own I/O gate, separate from the network gate.
// Failures never propagate: the cache is an optimization.
type CacheStore struct {
	root string
	io   *semaphore.Weighted
}

func NewCacheStore(root string, ioLimit int) *CacheStore {
	if root == "" {
		root = DefaultCacheDir
	}
	if ioLimit <= 0 {
		ioLimit = DefaultCacheIOLimit
	}
	return &CacheStore{root: root, io: semaphore.NewWeighted(int64(ioLimit))}
}

func (c *CacheStore) Root() string {
	return c.root
}

func (c *CacheStore) Dir(key string) string {
	return filepath.Join(c.root, key)
}

func (c *CacheStore) Exists(key string) bool {
	info, err := os.Stat(c.Dir(key))
	return err == nil && info.IsDir()
}

// LoadAll reads every finished slice file. Unreadable, empty or foreign files are skipped.
func (c *CacheStore) LoadAll(ctx context.Context, key string) map[int][]byte {
	loaded := make(map[int][]byte)
	entries, err := os.ReadDir(c.Dir(key))
	if err != nil {
		return loaded
	}
	var mu sync.Mutex
	var g errgroup.Group
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		index, err := strconv.Atoi(entry.Name())
		if err != nil || index < 0 {
			continue
		}
		path := filepath.Join(c.Dir(key), entry.Name())
		g.Go(func() error {
			data, err := c.read(ctx, path)
			if err != nil || len(data) == 0 {
				log.Debug().Str("op", "slice/cache").Err(err).Msgf("skipping cached slice %s", path)
				return nil
			}
			mu.Lock()
			loaded[index] = data
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return loaded
}

// SaveAll writes every non-empty slot and returns how many slices were written.
func (c *CacheStore) SaveAll(ctx context.Context, key string, slots [][]byte) int {
	if err := os.MkdirAll(c.Dir(key), 0755); err != nil {
		log.Debug().Str("op", "slice/cache").Err(err).Msg("cannot create cache directory")
		return 0
	}
	var mu sync.Mutex
	var written int
	var g errgroup.Group
	for index, data := range slots {
		if len(data) == 0 {
			continue
		}
		g.Go(func() error {
			if err := c.Save(ctx, key, index, data); err != nil {
				log.Debug().Str("op", "slice/cache").Err(err).Msgf("cannot cache slice %d", index)
				return nil
			}
			mu.Lock()
			written++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return written
}

// Save writes one slice as <index>.part and renames it into place.
func (c *CacheStore) Save(ctx context.Context, key string, index int, data []byte) error {
	if err := c.io.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.io.Release(1)
	dir := c.Dir(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating cache directory: %w", err)
	}
	final := filepath.Join(dir, strconv.Itoa(index))
	part := final + ".part"
	if err := os.WriteFile(part, data, 0644); err != nil {
		os.Remove(part)
		return fmt.Errorf("error writing slice: %w", err)
	}
	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return fmt.Errorf("error finalizing slice: %w", err)
	}
	return nil
}

func (c *CacheStore) Clear(key string) error {
	return os.RemoveAll(c.Dir(key))
}

func (c *CacheStore) SaveManifest(key string, m Manifest) error {
	if err := os.MkdirAll(c.Dir(key), 0755); err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(&m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.Dir(key), manifestName), data, 0644)
}

func (c *CacheStore) LoadManifest(key string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(c.Dir(key), manifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("error parsing cache manifest: %w", err)
	}
	return &m, nil
}

func (c *CacheStore) read(ctx context.Context, path string) ([]byte, error) {
	if err := c.io.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.io.Release(1)
	return os.ReadFile(path)
}
