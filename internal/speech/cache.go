package speech

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"talkinghead/internal/audio"
)

// CachingProvider keeps synthesized audio on disk so repeated text skips the network.
type CachingProvider struct {
	Provider
	root string
	mu   sync.Mutex
	log  *logrus.Entry
}

func NewCachingProvider(provider Provider, root string) (*CachingProvider, error) {
	dir := filepath.Join(root, provider.Name())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &CachingProvider{
		Provider: provider,
		root:     root,
		log:      logrus.WithFields(logrus.Fields{"component": "speech-cache", "provider": provider.Name()}),
	}, nil
}

func (c *CachingProvider) dir() string {
	return filepath.Join(c.root, c.Provider.Name())
}

func (c *CachingProvider) key(req *Request) string {
	return md5Sum(fmt.Sprintf("%s|%s|%.2f|%s", c.Provider.Name(), req.Voice, req.Speed, req.Text))[:16]
}

func (c *CachingProvider) Synthesize(ctx context.Context, req *Request) (*Result, error) {
	key := c.key(req)

	if res, ok := c.lookup(key); ok {
		c.log.WithField("key", key).Debug("using cached audio")
		return res, nil
	}

	res, err := c.Provider.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	path := filepath.Join(c.dir(), key+res.Format.Ext())
	if err := os.WriteFile(path, res.Audio, 0644); err != nil {
		c.log.WithError(err).WithField("path", path).Warn("failed to cache audio")
	}
	return res, nil
}

func (c *CachingProvider) lookup(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	matches, _ := filepath.Glob(filepath.Join(c.dir(), key+".*"))
	for _, path := range matches {
		format, err := audio.ParseFormat(filepath.Ext(path))
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			continue
		}
		return &Result{Audio: data, Format: format}, true
	}
	return nil, false
}

func (c *CachingProvider) ListVoices(ctx context.Context) ([]string, error) {
	if lister, ok := c.Provider.(VoiceLister); ok {
		return lister.ListVoices(ctx)
	}
	return nil, fmt.Errorf("%s cannot list voices", c.Provider.Name())
}

func (c *CachingProvider) Close() error {
	if closer, ok := c.Provider.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Stats walks the whole cache tree, all providers included.
func (c *CachingProvider) Stats() (map[string]interface{}, error) {
	return CacheStats(c.root)
}

// Clear removes the audio cached for this provider.
func (c *CachingProvider) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.RemoveAll(c.dir()); err != nil {
		return err
	}
	return os.MkdirAll(c.dir(), 0755)
}

// CacheStats reports file count and size under root.
func CacheStats(root string) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalFiles int64
	var totalSize int64

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // keep walking
		}
		if !info.IsDir() && isCachedAudio(info.Name()) {
			totalFiles++
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	stats["cache_directory"] = root
	stats["cached_files"] = totalFiles
	stats["total_size_mb"] = float64(totalSize) / (1024 * 1024)
	return stats, nil
}

// ClearCache removes every cached file under root.
func ClearCache(root string) error {
	return os.RemoveAll(root)
}

func isCachedAudio(name string) bool {
	_, err := audio.ParseFormat(strings.ToLower(filepath.Ext(name)))
	return err == nil
}

func md5Sum(s string) string {
	h := md5.New()
	io.WriteString(h, s)
	return fmt.Sprintf("%x", h.Sum(nil))
}
