package core

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"sshdeck/logging"
	"sshdeck/protocols"
)

const DefaultCommandTimeout = 5 * time.Second

// Entry is one row of a remote directory listing.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	IsDir   bool
	Owner   string
	Group   string
	Perms   string
	Mode    os.FileMode
	UID     uint32
	GID     uint32
	ModTime time.Time
}

// Browser lists and manipulates a remote file tree. Owner names are resolved
// through the session's exec channel.
type Browser struct {
	fs     protocols.FileSystem
	Owners *OwnerCache

	mu  sync.Mutex
	cwd string
}

func NewBrowser(fs protocols.FileSystem, exec Executor) *Browser {
	return &Browser{
		fs:     fs,
		Owners: NewOwnerCache(exec, DefaultCommandTimeout),
		cwd:    "/",
	}
}

// Cwd is the last directory listed or entered successfully.
func (b *Browser) Cwd() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cwd
}

// Home returns the login directory, or "/" when the backend cannot say.
func (b *Browser) Home(ctx context.Context) (string, error) {
	r, ok := b.fs.(protocols.Resolver)
	if !ok {
		return "/", nil
	}
	home, err := r.RealPath(".")
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	if home == "" {
		home = "/"
	}
	return home, nil
}

// CleanPath normalises a remote path; empty means root.
func CleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	return path.Clean(p)
}

// Resolve joins p onto the current directory unless it is absolute.
func (b *Browser) Resolve(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return b.Cwd()
	}
	if !path.IsAbs(p) {
		p = path.Join(b.Cwd(), p)
	}
	return CleanPath(p)
}

// Chdir makes dir the current directory without listing it.
func (b *Browser) Chdir(ctx context.Context, dir string) error {
	dir = b.Resolve(dir)
	st, err := b.fs.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !st.IsDir {
		return fmt.Errorf("%s: not a directory", dir)
	}
	b.setCwd(dir)
	return nil
}

func (b *Browser) setCwd(dir string) {
	b.mu.Lock()
	b.cwd = dir
	b.mu.Unlock()
}

// Parent returns the directory above p; the root is its own parent.
func Parent(p string) string {
	return path.Dir(CleanPath(p))
}

// List reads a directory, directories first then files, each sorted by name
// ignoring case.
func (b *Browser) List(ctx context.Context, dir string) ([]Entry, error) {
	dir = CleanPath(dir)
	raw, err := b.fs.List(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	uids := make(map[uint32]struct{})
	gids := make(map[uint32]struct{})
	for _, fe := range raw {
		if fe.HasOwner {
			uids[fe.UID] = struct{}{}
			gids[fe.GID] = struct{}{}
		}
	}
	b.Owners.Resolve(ctx, uids, gids)

	entries := make([]Entry, 0, len(raw))
	for _, fe := range raw {
		e := Entry{
			Name:    fe.Name,
			Path:    path.Join(dir, fe.Name),
			Size:    fe.Size,
			IsDir:   fe.IsDir,
			Perms:   FormatPerms(fe.Mode, fe.IsDir),
			Mode:    fe.Mode,
			UID:     fe.UID,
			GID:     fe.GID,
			ModTime: fe.ModTime,
		}
		if fe.HasOwner {
			e.Owner = b.Owners.User(fe.UID)
			e.Group = b.Owners.Group(fe.GID)
		}
		entries = append(entries, e)
	}
	SortEntries(entries)

	b.setCwd(dir)
	logging.Debug("listed directory", logging.Path(dir), logging.Int("entries", len(entries)))
	return entries, nil
}

func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

// FormatPerms renders the ten character ls style permission string.
func FormatPerms(mode os.FileMode, isDir bool) string {
	var sb strings.Builder
	switch {
	case isDir:
		sb.WriteByte('d')
	case mode&os.ModeSymlink != 0:
		sb.WriteByte('l')
	default:
		sb.WriteByte('-')
	}
	const rwx = "rwx"
	perm := mode.Perm()
	for i := 8; i >= 0; i-- {
		if perm&(1<<uint(i)) != 0 {
			sb.WriteByte(rwx[(8-i)%3])
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// ParsePerm accepts octal ("750", "0644") or symbolic ("rwxr-x---",
// "-rw-r--r--") permissions.
func ParsePerm(s string) (os.FileMode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty permission")
	}
	if n, err := strconv.ParseUint(s, 8, 32); err == nil {
		if n > 0o777 {
			return 0, fmt.Errorf("permission %q out of range", s)
		}
		return os.FileMode(n), nil
	}
	if len(s) == 10 {
		s = s[1:]
	}
	if len(s) != 9 {
		return 0, fmt.Errorf("invalid permission %q", s)
	}
	var mode os.FileMode
	for i, c := range s {
		want := "rwx"[i%3]
		switch {
		case byte(c) == want:
			mode |= 1 << uint(8-i)
		case c == '-':
		default:
			return 0, fmt.Errorf("invalid permission %q", s)
		}
	}
	return mode, nil
}

// Chmod replaces the permission bits of p, keeping its other mode bits.
func (b *Browser) Chmod(ctx context.Context, p string, perm os.FileMode) error {
	p = b.Resolve(p)
	st, err := b.fs.Stat(p)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}
	mode := (st.Mode &^ os.ModePerm) | perm.Perm()
	if err := b.fs.Chmod(p, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", p, err)
	}
	logging.Info("changed permissions", logging.Path(p), logging.String("perms", FormatPerms(mode, st.IsDir)))
	return nil
}

// Chown changes ownership of p. A blank owner or group keeps the current id.
func (b *Browser) Chown(ctx context.Context, p, owner, group string) error {
	p = b.Resolve(p)
	st, err := b.fs.Stat(p)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}
	uid, gid := st.UID, st.GID

	if strings.TrimSpace(owner) != "" {
		id, ok := b.Owners.UserID(ctx, owner)
		if !ok {
			return fmt.Errorf("%w: user %q", ErrUnresolvedOwner, owner)
		}
		uid = id
	}
	if strings.TrimSpace(group) != "" {
		id, ok := b.Owners.GroupID(ctx, group)
		if !ok {
			return fmt.Errorf("%w: group %q", ErrUnresolvedOwner, group)
		}
		gid = id
	}

	if err := b.fs.Chown(p, int(uid), int(gid)); err != nil {
		return fmt.Errorf("chown %s: %w", p, err)
	}
	logging.Info("changed owner", logging.Path(p), logging.Int("uid", int(uid)), logging.Int("gid", int(gid)))
	return nil
}

// Delete removes a single file. Directories are refused.
func (b *Browser) Delete(ctx context.Context, p string) error {
	p = b.Resolve(p)
	st, err := b.fs.Stat(p)
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}
	if st.IsDir {
		return fmt.Errorf("%s: %w", p, ErrIsDirectory)
	}
	if err := b.fs.Remove(p); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	logging.Info("deleted file", logging.Path(p))
	return nil
}
