package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Workspace - каталог с артефактами генерации: <root>/<namespace>/...
type Workspace struct {
	Root string
}

// Stored - записанный файл
type Stored struct {
	Key    string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

func (w *Workspace) ensureDir(p string) error {
	return os.MkdirAll(p, 0o755)
}

// resolve не выпускает ключ за пределы корня.
func (w *Workspace) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", errors.New("empty workspace key")
	}
	return filepath.Join(w.Root, clean), nil
}

func (w *Workspace) Put(key string, r io.Reader) (Stored, error) {
	full, err := w.resolve(key)
	if err != nil {
		return Stored{}, err
	}
	if err := w.ensureDir(filepath.Dir(full)); err != nil {
		return Stored{}, err
	}
	f, err := os.Create(full)
	if err != nil {
		return Stored{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		return Stored{}, fmt.Errorf("write %s: %w", key, err)
	}
	return Stored{Key: key, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

func (w *Workspace) PutString(key, content string) (Stored, error) {
	return w.Put(key, strings.NewReader(content))
}

// Clear удаляет каталог ключа целиком (нет каталога - не ошибка).
func (w *Workspace) Clear(prefix string) error {
	full, err := w.resolve(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(full)
}

func (w *Workspace) Path(key string) (string, error) {
	return w.resolve(key)
}
