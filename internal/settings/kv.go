package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KV is the persistence seam for the settings document. Implementations store
// one opaque blob; the store owns encoding.
type KV interface {
	// Load returns the stored blob. The second return is false when nothing
	// has been stored yet.
	Load() ([]byte, bool, error)
	// Save replaces the stored blob durably before returning.
	Save(data []byte) error
}

// FileKV persists the settings document as a single file, written atomically
// via a temp file and rename so a crash mid-write never leaves a torn doc.
type FileKV struct {
	path string
}

// NewFileKV builds a file-backed KV at the given path. Parent directories are
// created on first save.
func NewFileKV(path string) *FileKV {
	return &FileKV{path: path}
}

func (kv *FileKV) Load() ([]byte, bool, error) {
	data, err := os.ReadFile(kv.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read settings: %w", err)
	}
	return data, true, nil
}

func (kv *FileKV) Save(data []byte) error {
	if kv.path == "" {
		return fmt.Errorf("settings path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(kv.path), 0o755); err != nil {
		return fmt.Errorf("ensure settings directory: %w", err)
	}
	tmp := kv.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings temp: %w", err)
	}
	if err := os.Rename(tmp, kv.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}

// MemoryKV is an in-memory KV for tests and ephemeral runs.
type MemoryKV struct {
	mu      sync.Mutex
	data    []byte
	stored  bool
	saveErr error
}

// NewMemoryKV builds an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{}
}

// FailSavesWith makes every subsequent Save return err. Pass nil to restore
// normal behavior.
func (kv *MemoryKV) FailSavesWith(err error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.saveErr = err
}

func (kv *MemoryKV) Load() ([]byte, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if !kv.stored {
		return nil, false, nil
	}
	out := make([]byte, len(kv.data))
	copy(out, kv.data)
	return out, true, nil
}

func (kv *MemoryKV) Save(data []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.saveErr != nil {
		return kv.saveErr
	}
	kv.data = make([]byte, len(data))
	copy(kv.data, data)
	kv.stored = true
	return nil
}
