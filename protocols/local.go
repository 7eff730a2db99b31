package protocols

import (
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalFileSystem serves files under RootPath. An empty RootPath means paths
// are used as given, which is how transfers address the local side.
type LocalFileSystem struct {
	RootPath string
}

func (l *LocalFileSystem) Init() error {
	if l.RootPath == "" {
		return nil
	}
	return os.MkdirAll(l.RootPath, 0755)
}

func (l *LocalFileSystem) Close() error {
	return nil
}

func (l *LocalFileSystem) full(path string) string {
	if l.RootPath == "" {
		return filepath.FromSlash(path)
	}
	return filepath.Join(l.RootPath, filepath.FromSlash(path))
}

func (l *LocalFileSystem) List(path string) ([]FileEntry, error) {
	entries, err := os.ReadDir(l.full(path))
	if err != nil {
		return nil, err
	}

	var files []FileEntry
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, entryFromInfo(info, filepath.ToSlash(filepath.Join(path, entry.Name()))))
	}
	return files, nil
}

func (l *LocalFileSystem) Open(path string) (io.ReadCloser, error) {
	return os.Open(l.full(path))
}

func (l *LocalFileSystem) Create(path string) (io.WriteCloser, error) {
	return os.Create(l.full(path))
}

func (l *LocalFileSystem) MkdirAll(path string) error {
	return os.MkdirAll(l.full(path), 0755)
}

func (l *LocalFileSystem) Stat(path string) (*FileEntry, error) {
	info, err := os.Lstat(l.full(path))
	if err != nil {
		return nil, err
	}
	entry := entryFromInfo(info, strings.TrimPrefix(filepath.ToSlash(path), "/"))
	return &entry, nil
}

func (l *LocalFileSystem) Remove(path string) error {
	return os.Remove(l.full(path))
}

func (l *LocalFileSystem) Chmod(path string, mode os.FileMode) error {
	return os.Chmod(l.full(path), mode)
}

func (l *LocalFileSystem) Chown(path string, uid, gid int) error {
	return os.Lchown(l.full(path), uid, gid)
}

func (l *LocalFileSystem) RealPath(path string) (string, error) {
	abs, err := filepath.Abs(l.full(path))
	if err != nil {
		return "", err
	}
	if l.RootPath == "" {
		return filepath.ToSlash(abs), nil
	}
	root, err := filepath.Abs(l.RootPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "/", nil
	}
	return "/" + filepath.ToSlash(rel), nil
}

func entryFromInfo(info os.FileInfo, path string) FileEntry {
	entry := FileEntry{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
		Mode:    info.Mode(),
		Path:    path,
	}
	entry.UID, entry.GID, entry.HasOwner = ownerOf(info)
	return entry
}

var (
	_ FileSystem = (*LocalFileSystem)(nil)
	_ Resolver   = (*LocalFileSystem)(nil)
)
