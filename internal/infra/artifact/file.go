package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/synapseshield/shield/internal/domain"
)

// currentFile names the generation that readers should use.
const currentFile = "CURRENT"

// FileStore keeps artifacts on the local filesystem.
//
// Artifacts live in generation directories (baseDir/gen-<uuid>/<key>). A write
// builds a complete new generation next to the old one and then renames
// CURRENT to point at it, so a crash mid-write leaves the previous generation
// as the visible one. The old generation is removed after the switch; a
// reader that loses that race re-reads CURRENT.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
}

// maxReadAttempts bounds Get's retries while other processes keep switching
// generations.
const maxReadAttempts = 3

// NewFileStore creates a file-backed store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	return &FileStore{baseDir: filepath.Clean(absDir)}, nil
}

// Dir returns the store's root directory.
func (f *FileStore) Dir() string { return f.baseDir }

// safeKey rejects keys that would escape a generation directory.
func safeKey(key string) error {
	clean := filepath.Clean(key)
	if key == "" || clean != key || filepath.IsAbs(clean) ||
		clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) ||
		strings.ContainsRune(clean, os.PathSeparator) {
		return fmt.Errorf("invalid artifact key %q", key)
	}
	return nil
}

// current returns the active generation directory, or "" if none.
func (f *FileStore) current() (string, error) {
	b, err := os.ReadFile(filepath.Join(f.baseDir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", currentFile, err)
	}
	gen := strings.TrimSpace(string(b))
	if err := safeKey(gen); err != nil {
		return "", fmt.Errorf("corrupt %s: %w", currentFile, err)
	}
	return filepath.Join(f.baseDir, gen), nil
}

func (f *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := safeKey(key); err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		gen, data, err := f.read(key)
		if !errors.Is(err, os.ErrNotExist) {
			return data, err
		}
		// The generation may have been replaced, and removed, by a writer
		// in another process between reading CURRENT and the file.
		now, cerr := f.current()
		if cerr != nil {
			return nil, cerr
		}
		if now == gen || attempt == maxReadAttempts {
			return nil, fmt.Errorf("%s: %w", key, domain.ErrArtifactNotFound)
		}
	}
}

// read resolves CURRENT and reads key from that generation under the read
// lock, so commits in this process cannot remove it mid-read. A missing
// generation or key is reported as os.ErrNotExist.
func (f *FileStore) read(key string) (gen string, data []byte, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	gen, err = f.current()
	if err != nil {
		return "", nil, err
	}
	if gen == "" {
		return "", nil, os.ErrNotExist
	}
	data, err = os.ReadFile(filepath.Join(gen, key))
	return gen, data, err
}

func (f *FileStore) Put(ctx context.Context, key string, data []byte) error {
	return f.PutAll(ctx, map[string][]byte{key: data})
}

func (f *FileStore) PutAll(ctx context.Context, items map[string][]byte) error {
	for k := range items {
		if err := safeKey(k); err != nil {
			return err
		}
	}
	return f.commit(ctx, items, nil)
}

func (f *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := f.Get(ctx, key)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := safeKey(key); err != nil {
		return err
	}
	return f.commit(ctx, nil, map[string]bool{key: true})
}

// commit writes a new generation holding the previous artifacts, minus
// removed keys, plus items, then switches CURRENT to it.
func (f *FileStore) commit(ctx context.Context, items map[string][]byte, removed map[string]bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	oldGen, err := f.current()
	if err != nil {
		return err
	}

	genName := "gen-" + uuid.New().String()
	newGen := filepath.Join(f.baseDir, genName)
	if err := os.MkdirAll(newGen, 0o755); err != nil {
		return fmt.Errorf("create generation: %w", err)
	}
	abort := func(err error) error {
		os.RemoveAll(newGen)
		return err
	}

	// Carry forward untouched artifacts
	if oldGen != "" {
		entries, err := os.ReadDir(oldGen)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return abort(fmt.Errorf("read generation: %w", err))
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || removed[name] {
				continue
			}
			if _, overwritten := items[name]; overwritten {
				continue
			}
			data, err := os.ReadFile(filepath.Join(oldGen, name))
			if err != nil {
				return abort(fmt.Errorf("copy %s: %w", name, err))
			}
			if err := writeSynced(filepath.Join(newGen, name), data); err != nil {
				return abort(err)
			}
		}
	}

	for k, v := range items {
		if err := writeSynced(filepath.Join(newGen, k), v); err != nil {
			return abort(err)
		}
	}

	// Switch CURRENT atomically
	tmp := filepath.Join(f.baseDir, "."+currentFile+".tmp")
	if err := writeSynced(tmp, []byte(genName)); err != nil {
		return abort(err)
	}
	if err := os.Rename(tmp, filepath.Join(f.baseDir, currentFile)); err != nil {
		os.Remove(tmp)
		return abort(fmt.Errorf("switch generation: %w", err))
	}

	if oldGen != "" {
		os.RemoveAll(oldGen)
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	return fh.Close()
}
