package history

import (
	"fmt"
	"os"
	"path/filepath"
)

// SaveFile writes the dump to path atomically: the data goes to a temporary
// file in the same directory which is then renamed over path.
func (s *Store) SaveFile(path string) error {
	data := s.Dump()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp dump: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp dump: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp dump: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp dump: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace dump %s: %w", path, err)
	}
	return nil
}

// LoadFile restores the store from the dump at path. A missing file yields an
// error wrapping fs.ErrNotExist; the store is unchanged on any error.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read dump: %w", err)
	}
	if err := s.Restore(data); err != nil {
		return fmt.Errorf("restore dump %s: %w", path, err)
	}
	return nil
}
