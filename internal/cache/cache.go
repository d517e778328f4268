package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"projdocs-desktop/internal/model"
)

var ErrOutsideRoot = errors.New("path is outside the cache root")

// Cache lays out checked-out documents as <root>/<project>/<version>/<name>.
type Cache struct {
	Root string
}

func New(root string) *Cache {
	return &Cache{Root: root}
}

// FileName is "<name>-<number>.<version>.docx", dropping the name part when
// the version has none.
func FileName(file *model.File, version *model.FileVersion) string {
	prefix := ""
	if version.Name != nil && *version.Name != "" {
		name := *version.Name
		if strings.HasSuffix(strings.ToLower(name), ".docx") {
			name = name[:len(name)-len(".docx")]
		}
		name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
		prefix = name + "-"
	}
	return prefix + strconv.FormatInt(file.Number, 10) + "." + strconv.FormatInt(version.Version, 10) + ".docx"
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

func (c *Cache) Path(projectID, versionID, name string) (string, error) {
	for _, seg := range []string{projectID, versionID, name} {
		if !validSegment(seg) {
			return "", fmt.Errorf("invalid cache path segment %q", seg)
		}
	}
	return filepath.Join(c.Root, projectID, versionID, name), nil
}

// Write stores r at the cache path for the given ids. A temporary file is
// renamed into place so readers never observe a partial document.
func (c *Cache) Write(projectID, versionID, name string, r io.Reader) (string, error) {
	dst, err := c.Path(projectID, versionID, name)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("write document: %w", err)
	}
	return dst, nil
}

// Resolve returns the absolute form of path when it lies strictly inside
// the cache root. An existing path is also checked after following
// symlinks, so a link inside the root cannot reach files outside it.
func (c *Cache) Resolve(path string) (string, error) {
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if !inside(root, abs) {
		return "", ErrOutsideRoot
	}

	target, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return abs, nil
		}
		return "", err
	}
	if realRoot, err := filepath.EvalSymlinks(root); err == nil {
		root = realRoot
	}
	if !inside(root, target) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

func inside(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
