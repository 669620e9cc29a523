// Package update provides version comparison and new-version checking.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// MetaURL is the raw meta.json location, filled with author, repo and branch.
	MetaURL = "https://raw.githubusercontent.com/%s/%s/%s/meta.json"
	// CheckInterval is the minimum time between update checks.
	CheckInterval = 24 * time.Hour
	// CheckTimeout bounds a single meta.json fetch.
	CheckTimeout = 5 * time.Second
)

// Version is set at build time via -ldflags.
var Version = "1.4.0"

// Meta describes the published project metadata.
type Meta struct {
	Author  string `json:"author"`
	Repo    string `json:"repo"`
	Branch  string `json:"branch"`
	Version string `json:"version"`
}

// DefaultMeta points at the upstream repository.
func DefaultMeta() Meta {
	return Meta{Author: "zsyeh", Repo: "coursepilot", Branch: "main", Version: Version}
}

// Cache stores the last update check info.
type Cache struct {
	LastCheck     int64  `json:"last_check"`
	LatestVersion string `json:"latest_version"`
}

// Checker handles update checking and caching.
type Checker struct {
	client   *http.Client
	meta     Meta
	cacheDir string
	cache    *Cache

	// metaURL overrides the GitHub URL in tests.
	metaURL string
}

// NewChecker creates a new update checker. client may be nil; cacheDir may be
// empty to disable caching.
func NewChecker(client *http.Client, meta Meta, cacheDir string) *Checker {
	if client == nil {
		client = &http.Client{Timeout: CheckTimeout}
	}
	c := &Checker{
		client:   client,
		meta:     meta,
		cacheDir: cacheDir,
		metaURL:  fmt.Sprintf(MetaURL, meta.Author, meta.Repo, meta.Branch),
	}
	_ = c.loadCache()
	return c
}

// GetCurrentVersion returns the current build version.
func GetCurrentVersion() string {
	return Version
}

// ShouldCheck returns true if enough time has passed since the last check.
func (c *Checker) ShouldCheck() bool {
	if c.cache == nil {
		return true
	}
	lastCheck := time.Unix(c.cache.LastCheck, 0)
	return time.Since(lastCheck) > CheckInterval
}

// Check fetches the published meta.json and reports whether it announces a
// newer version than the running one. A fresh cache answers without network.
func (c *Checker) Check(ctx context.Context) (bool, string, error) {
	if !c.ShouldCheck() && c.cache.LatestVersion != "" {
		return Compare(c.meta.Version, c.cache.LatestVersion) < 0, c.cache.LatestVersion, nil
	}

	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.metaURL, nil)
	if err != nil {
		return false, "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("fetch meta: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("meta endpoint returned status %d", resp.StatusCode)
	}

	var remote Meta
	if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
		return false, "", fmt.Errorf("parse meta: %w", err)
	}
	if remote.Version == "" {
		return false, "", fmt.Errorf("meta has no version")
	}

	c.cache = &Cache{LastCheck: time.Now().Unix(), LatestVersion: remote.Version}
	_ = c.saveCache()

	return Compare(c.meta.Version, remote.Version) < 0, remote.Version, nil
}

// Compare compares dotted version strings and returns -1, 0 or 1.
// Missing components count as 0, so "1.4" equals "1.4.0". A leading "v" is
// ignored and non-numeric components compare as 0.
func Compare(a, b string) int {
	pa := splitVersion(a)
	pb := splitVersion(b)
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

func splitVersion(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		out[i] = n
	}
	return out
}

// cachePath returns the path to the cache file.
func (c *Checker) cachePath() string {
	return filepath.Join(c.cacheDir, "update_cache.json")
}

// loadCache loads the cache from disk.
func (c *Checker) loadCache() error {
	if c.cacheDir == "" {
		return nil
	}
	data, err := os.ReadFile(c.cachePath())
	if err != nil {
		return err
	}

	var cache Cache
	if err := json.Unmarshal(data, &cache); err != nil {
		return err
	}

	c.cache = &cache
	return nil
}

// saveCache saves the cache to disk.
func (c *Checker) saveCache() error {
	if c.cache == nil || c.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.cacheDir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c.cache, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.cachePath(), data, 0o600)
}
