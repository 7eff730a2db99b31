package protocols

import (
	"io"
	"os"
	"time"
)

type FileEntry struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	Mode    os.FileMode
	UID     uint32
	GID     uint32
	// HasOwner is false when the backend cannot report numeric ownership.
	HasOwner bool
	Path     string
}

type FileSystem interface {
	Init() error
	Close() error
	// List returns a list of files in the specified directory (non-recursive).
	List(path string) ([]FileEntry, error)
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	MkdirAll(path string) error
	Stat(path string) (*FileEntry, error)
	Remove(path string) error
	Chmod(path string, mode os.FileMode) error
	Chown(path string, uid, gid int) error
}

// Resolver is implemented by backends that can canonicalise a path,
// typically to find the login directory.
type Resolver interface {
	RealPath(path string) (string, error)
}
