package protocols

import (
	"errors"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPFileSystem runs on an SSH connection owned by someone else; Close only
// tears down the SFTP subsystem, never the connection.
type SFTPFileSystem struct {
	RootPath string
	client   *sftp.Client
	sshConn  *ssh.Client
}

// NewSFTPFileSystem prepares a file system over conn. Call Init to open the
// subsystem.
func NewSFTPFileSystem(conn *ssh.Client, rootPath string) *SFTPFileSystem {
	return &SFTPFileSystem{sshConn: conn, RootPath: rootPath}
}

// WrapSFTPClient adopts an already open client.
func WrapSFTPClient(client *sftp.Client, rootPath string) *SFTPFileSystem {
	return &SFTPFileSystem{client: client, RootPath: rootPath}
}

func (s *SFTPFileSystem) Init() error {
	if s.client != nil {
		return nil
	}
	if s.sshConn == nil {
		return errors.New("sftp: no ssh connection")
	}
	client, err := sftp.NewClient(s.sshConn)
	if err != nil {
		return err
	}
	s.client = client
	return nil
}

func (s *SFTPFileSystem) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *SFTPFileSystem) full(relPath string) string {
	if s.RootPath == "" {
		return relPath
	}
	return path.Join(s.RootPath, relPath)
}

func (s *SFTPFileSystem) List(relPath string) ([]FileEntry, error) {
	entries, err := s.client.ReadDir(s.full(relPath))
	if err != nil {
		return nil, err
	}

	files := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		files = append(files, sftpEntry(entry, path.Join(relPath, entry.Name())))
	}
	return files, nil
}

func (s *SFTPFileSystem) Open(relPath string) (io.ReadCloser, error) {
	return s.client.Open(s.full(relPath))
}

func (s *SFTPFileSystem) Create(relPath string) (io.WriteCloser, error) {
	return s.client.Create(s.full(relPath))
}

func (s *SFTPFileSystem) MkdirAll(relPath string) error {
	return s.client.MkdirAll(s.full(relPath))
}

func (s *SFTPFileSystem) Stat(relPath string) (*FileEntry, error) {
	info, err := s.client.Stat(s.full(relPath))
	if err != nil {
		return nil, err
	}
	entry := sftpEntry(info, relPath)
	return &entry, nil
}

func (s *SFTPFileSystem) Remove(relPath string) error {
	return s.client.Remove(s.full(relPath))
}

func (s *SFTPFileSystem) Chmod(relPath string, mode os.FileMode) error {
	return s.client.Chmod(s.full(relPath), mode)
}

func (s *SFTPFileSystem) Chown(relPath string, uid, gid int) error {
	return s.client.Chown(s.full(relPath), uid, gid)
}

func (s *SFTPFileSystem) RealPath(relPath string) (string, error) {
	return s.client.RealPath(s.full(relPath))
}

func sftpEntry(info os.FileInfo, p string) FileEntry {
	entry := FileEntry{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
		Mode:    info.Mode(),
		Path:    p,
	}
	if st, ok := info.Sys().(*sftp.FileStat); ok {
		entry.UID, entry.GID, entry.HasOwner = st.UID, st.GID, true
	}
	return entry
}

var (
	_ FileSystem = (*SFTPFileSystem)(nil)
	_ Resolver   = (*SFTPFileSystem)(nil)
)
