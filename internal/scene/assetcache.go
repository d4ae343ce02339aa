package scene

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// AssetCache keeps downloaded remote assets on disk so later runs skip the network
type AssetCache struct {
	cacheDir   string
	maxAge     time.Duration
	httpClient *http.Client
}

// NewAssetCache creates a new asset cache instance
func NewAssetCache(cacheDir string, maxAge time.Duration) *AssetCache {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		logrus.WithError(err).Warn("Failed to create asset cache directory")
	}

	return &AssetCache{
		cacheDir: cacheDir,
		maxAge:   maxAge,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Fetch returns a local path for url, downloading it when the cached copy is missing or stale
func (ac *AssetCache) Fetch(ctx context.Context, url string) (string, error) {
	file := ac.pathFor(url)

	if ac.isFresh(file) {
		logrus.WithField("url", url).Debug("Loading asset from cache")
		return file, nil
	}

	logrus.WithField("url", url).Info("Downloading asset")
	if err := ac.download(ctx, url, file); err != nil {
		// a stale copy beats no copy
		if _, statErr := os.Stat(file); statErr == nil {
			logrus.WithError(err).WithField("url", url).Warn("Download failed, using stale cached asset")
			return file, nil
		}
		return "", fmt.Errorf("failed to download asset and no cache available: %w", err)
	}

	return file, nil
}

func (ac *AssetCache) pathFor(url string) string {
	sum := md5.Sum([]byte(url))
	return filepath.Join(ac.cacheDir, hex.EncodeToString(sum[:])+path.Ext(url))
}

func (ac *AssetCache) isFresh(file string) bool {
	info, err := os.Stat(file)
	if err != nil {
		return false
	}
	if ac.maxAge <= 0 {
		return true
	}
	return time.Since(info.ModTime()) < ac.maxAge
}

func (ac *AssetCache) download(ctx context.Context, url, file string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ac.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch URL %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d for URL %s", resp.StatusCode, url)
	}

	// write to a temp file first so a broken download never replaces a good copy
	tmp, err := os.CreateTemp(ac.cacheDir, "download-*")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := os.Rename(tmp.Name(), file); err != nil {
		return fmt.Errorf("failed to store cached asset: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"url":   url,
		"bytes": n,
		"file":  file,
	}).Info("Saved asset to cache")

	return nil
}

// Clear removes every cached asset
func (ac *AssetCache) Clear() error {
	entries, err := os.ReadDir(ac.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to clear asset cache: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(ac.cacheDir, e.Name())); err != nil {
			return fmt.Errorf("failed to clear asset cache: %w", err)
		}
	}
	logrus.Info("Cleared asset cache")
	return nil
}

// Info returns information about the cached copy of url
func (ac *AssetCache) Info(url string) map[string]interface{} {
	info := make(map[string]interface{})
	file := ac.pathFor(url)

	if stat, err := os.Stat(file); err == nil {
		info["exists"] = true
		info["size"] = stat.Size()
		info["last_modified"] = stat.ModTime()
		info["is_fresh"] = ac.isFresh(file)
		info["max_age_hours"] = ac.maxAge.Hours()
	} else {
		info["exists"] = false
	}

	return info
}
