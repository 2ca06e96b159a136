package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend хранит каждую коллекцию в отдельном JSON-файле.
type FileBackend struct {
	paths map[string]string
}

// NewFileBackend создаёт бэкенд в каталоге dir. overrides задаёт путь к файлу
// отдельной коллекции, пустые значения игнорируются.
func NewFileBackend(dir string, overrides map[string]string) *FileBackend {
	paths := make(map[string]string, len(Collections))
	for _, name := range Collections {
		paths[name] = filepath.Join(dir, name+".json")
		if p := overrides[name]; p != "" {
			paths[name] = p
		}
	}
	return &FileBackend{paths: paths}
}

// Path возвращает путь файла коллекции.
func (b *FileBackend) Path(name string) string {
	return b.paths[name]
}

func (b *FileBackend) Read(_ context.Context, names []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(names))
	for _, name := range names {
		data, err := os.ReadFile(b.paths[name])
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

func (b *FileBackend) Write(_ context.Context, docs map[string][]byte) error {
	for name, data := range docs {
		path, ok := b.paths[name]
		if !ok {
			return fmt.Errorf("неизвестная коллекция %s", name)
		}
		if err := writeAtomic(path, data); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// writeAtomic пишет во временный файл рядом и переименовывает его.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
