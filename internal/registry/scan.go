package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"modelprobe/internal/common/fsutil"
)

// CachedModel is one model found in the weight cache.
type CachedModel struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Scanner lists cached models under a cache root.
type Scanner struct {
	root string
}

// NewScanner returns a Scanner for root ("~" is expanded).
func NewScanner(root string) *Scanner { return &Scanner{root: root} }

// Scan returns cached models sorted by id. Both the root and its hub/
// subdirectory are searched; a model present in both is reported once with
// the sizes summed.
func (s *Scanner) Scan() ([]CachedModel, error) {
	base, err := fsutil.ExpandHome(s.root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	byID := map[string]*CachedModel{}
	for _, dir := range []string{abs, filepath.Join(abs, "hub")} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read dir: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() || !strings.HasPrefix(e.Name(), "models--") {
				continue
			}
			id := idFromCacheDir(e.Name())
			if id == "" {
				continue
			}
			p := filepath.Join(dir, e.Name())
			size, err := fsutil.DirSize(p)
			if err != nil {
				return nil, err
			}
			if m, ok := byID[id]; ok {
				m.SizeBytes += size
				continue
			}
			byID[id] = &CachedModel{ID: id, Path: p, SizeBytes: size}
		}
	}
	out := make([]CachedModel, 0, len(byID))
	for _, m := range byID {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Sizes returns the cached size per model id.
func (s *Scanner) Sizes() (map[string]int64, error) {
	models, err := s.Scan()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(models))
	for _, m := range models {
		out[m.ID] = m.SizeBytes
	}
	return out, nil
}

// idFromCacheDir reverses CacheDirName for the org/name form.
func idFromCacheDir(name string) string {
	rest := strings.TrimPrefix(name, "models--")
	parts := strings.SplitN(rest, "--", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "/" + parts[1]
}
