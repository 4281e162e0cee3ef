package persistence

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/your-org/storefront-cart/internal/domain/cart"
)

// File keeps each guest cart in a JSON file under a directory. Writes go to a
// temporary file that is renamed over the target, so a reader sees either the
// old or the new cart.
type File struct {
	dir string
}

// NewFile creates the directory if needed
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cart directory: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(f.dir, safe+".json")
}

// Read implements cart.Persistence
func (f *File) Read(key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, cart.ErrNotPersisted
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cart file: %w", err)
	}
	return data, nil
}

// Write implements cart.Persistence
func (f *File) Write(key string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".cart-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cart file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cart file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync cart file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cart file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("failed to replace cart file: %w", err)
	}
	return nil
}
