package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"sshdeck/logging"
	"sshdeck/secrets"
)

// ServerRecord is one stored server, password in clear.
type ServerRecord struct {
	Name     string
	Host     string
	Username string
	Password string
	Port     int
	Services []string
}

// storedServer is the on-disk shape. Password holds the sealed form.
type storedServer struct {
	Host     string      `json:"host"`
	Username string      `json:"username"`
	Password string      `json:"password"`
	Port     int         `json:"port"`
	Services serviceList `json:"services,omitempty"`
}

// serviceList keeps only string members and ignores a non-list value, so a
// hand-edited file cannot make the whole store unreadable over one field.
type serviceList []string

func (s *serviceList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	items, ok := raw.([]any)
	if !ok {
		*s = nil
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if str, ok := item.(string); ok {
			out = append(out, str)
		}
	}
	*s = out
	return nil
}

// CredentialStore maps server nicknames to connection parameters and
// favourite services. Every mutation rewrites the whole file.
type CredentialStore struct {
	Path    string
	servers map[string]*storedServer
	sealer  secrets.Sealer
	mu      sync.RWMutex
}

func NewCredentialStore(path string, sealer secrets.Sealer) *CredentialStore {
	if sealer == nil {
		sealer = secrets.Plaintext{}
	}
	return &CredentialStore{
		Path:    path,
		servers: make(map[string]*storedServer),
		sealer:  sealer,
	}
}

// Load replaces the in-memory servers with the file contents. A missing or
// empty file is an empty store. On a read or decode failure the store is
// reset to empty and a *PersistenceError is returned.
func (cs *CredentialStore) Load() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.servers = make(map[string]*storedServer)

	data, err := os.ReadFile(cs.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "load", Path: cs.Path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	servers := make(map[string]*storedServer)
	if err := json.Unmarshal(data, &servers); err != nil {
		return &PersistenceError{Op: "load", Path: cs.Path, Err: err}
	}
	if servers == nil {
		// A literal null decodes to a nil map.
		servers = make(map[string]*storedServer)
	}
	for name, s := range servers {
		if s == nil {
			delete(servers, name)
		}
	}
	cs.servers = servers
	return nil
}

// save must be called with mu held.
func (cs *CredentialStore) save() error {
	data, err := json.MarshalIndent(cs.servers, "", "    ")
	if err != nil {
		return &PersistenceError{Op: "save", Path: cs.Path, Err: err}
	}
	if err := writeFileAtomic(cs.Path, data, 0o600); err != nil {
		return &PersistenceError{Op: "save", Path: cs.Path, Err: err}
	}
	logging.Debug("server data saved", logging.Path(cs.Path), logging.Int("servers", len(cs.servers)))
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ValidateServer applies the add/edit form rules: every field required,
// port in 1..65535.
func ValidateServer(name, host, username, password string, port int) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidServer)
	case strings.TrimSpace(host) == "":
		return fmt.Errorf("%w: host is required", ErrInvalidServer)
	case strings.TrimSpace(username) == "":
		return fmt.Errorf("%w: username is required", ErrInvalidServer)
	case password == "":
		return fmt.Errorf("%w: password is required", ErrInvalidServer)
	case port < 1 || port > 65535:
		return fmt.Errorf("%w: port must be a number between 1 and 65535", ErrInvalidServer)
	}
	return nil
}

// AddOrUpdate inserts or overwrites a server and persists immediately.
// Favourite services of an existing entry are kept.
func (cs *CredentialStore) AddOrUpdate(name, host, username, password string, port int) error {
	name, host, username = strings.TrimSpace(name), strings.TrimSpace(host), strings.TrimSpace(username)
	if err := ValidateServer(name, host, username, password, port); err != nil {
		return err
	}
	sealed, err := cs.sealer.Seal(password)
	if err != nil {
		return fmt.Errorf("sealing password for %s: %w", name, err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	rec := &storedServer{Host: host, Username: username, Password: sealed, Port: port}
	if prev, ok := cs.servers[name]; ok {
		rec.Services = prev.Services
	}
	cs.servers[name] = rec
	return cs.save()
}

func (cs *CredentialStore) Get(name string) (ServerRecord, bool) {
	cs.mu.RLock()
	s, ok := cs.servers[name]
	cs.mu.RUnlock()
	if !ok {
		return ServerRecord{}, false
	}

	password, err := cs.sealer.Open(s.Password)
	if err != nil {
		logging.Warn("cannot open stored password", logging.Server(name), logging.Err(err))
		password = ""
	}
	return ServerRecord{
		Name:     name,
		Host:     s.Host,
		Username: s.Username,
		Password: password,
		Port:     s.Port,
		Services: normalizeServices(s.Services, false),
	}, true
}

// Delete removes a server. Unknown names do nothing and write nothing.
func (cs *CredentialStore) Delete(name string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.servers[name]; !ok {
		return nil
	}
	delete(cs.servers, name)
	return cs.save()
}

// Rename moves a server, including its services, to a new nickname. An
// existing entry under newName is overwritten.
func (cs *CredentialStore) Rename(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidServer)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	s, ok := cs.servers[oldName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, oldName)
	}
	if oldName == newName {
		return nil
	}
	cs.servers[newName] = s
	delete(cs.servers, oldName)
	return cs.save()
}

func (cs *CredentialStore) ListNames() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	names := make([]string, 0, len(cs.servers))
	for name := range cs.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (cs *CredentialStore) GetServices(name string) []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	s, ok := cs.servers[name]
	if !ok {
		return nil
	}
	return normalizeServices(s.Services, false)
}

// SetServices replaces the favourites of a known server after trimming,
// dropping blanks and removing duplicates. Unknown names are ignored.
func (cs *CredentialStore) SetServices(name string, services []string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	s, ok := cs.servers[name]
	if !ok {
		return nil
	}
	s.Services = normalizeServices(services, true)
	return cs.save()
}

// Reseal rewrites every password through the current sealer, converting
// legacy clear text entries. It returns how many entries changed.
func (cs *CredentialStore) Reseal() (int, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	changed := 0
	for name, s := range cs.servers {
		if secrets.IsSealed(s.Password) {
			continue
		}
		sealed, err := cs.sealer.Seal(s.Password)
		if err != nil {
			return changed, fmt.Errorf("sealing password for %s: %w", name, err)
		}
		if sealed != s.Password {
			s.Password = sealed
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, cs.save()
}

func normalizeServices(in []string, trim bool) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if trim {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
