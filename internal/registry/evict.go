package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"modelprobe/internal/common/fsutil"
)

// CacheDirName is the Hugging Face cache directory name for a repo id,
// e.g. "Qwen/Qwen2-VL-2B" -> "models--Qwen--Qwen2-VL-2B".
func CacheDirName(id string) string {
	return "models--" + strings.ReplaceAll(strings.Trim(id, "/"), "/", "--")
}

// Evictor deletes cached weights under a cache root.
type Evictor struct {
	root string
	log  zerolog.Logger
}

// NewEvictor returns an Evictor rooted at root.
func NewEvictor(root string, log zerolog.Logger) *Evictor {
	return &Evictor{root: root, log: log}
}

// Root returns the cache root.
func (e *Evictor) Root() string { return e.root }

// candidates lists the directories that may hold weights for id.
func (e *Evictor) candidates(id string) []string {
	name := CacheDirName(id)
	return []string{
		filepath.Join(e.root, name),
		filepath.Join(e.root, "hub", name),
	}
}

// Evict removes every cache directory of id. Missing directories are not an
// error, so calling it twice is safe. It reports whether anything was removed
// and how many bytes were freed.
func (e *Evictor) Evict(id string) (bool, int64, error) {
	if strings.TrimSpace(id) == "" || strings.Contains(id, "..") {
		return false, 0, fmt.Errorf("evict: invalid model id %q", id)
	}
	var removed bool
	var freed int64
	for _, dir := range e.candidates(id) {
		if !fsutil.Within(e.root, dir) {
			return removed, freed, fmt.Errorf("evict: %s escapes cache root", dir)
		}
		fi, err := os.Lstat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, freed, err
		}
		if !fi.IsDir() {
			continue
		}
		size, _ := fsutil.DirSize(dir)
		if err := os.RemoveAll(dir); err != nil {
			return removed, freed, fmt.Errorf("evict %s: %w", dir, err)
		}
		removed = true
		freed += size
		e.log.Info().Str("model", id).Str("dir", dir).Int64("bytes", size).Msg("evicted model cache")
	}
	return removed, freed, nil
}
