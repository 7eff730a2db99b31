package core

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"
)

const DefaultHistoryLimit = 50

// TransferRecord is one completed transfer.
type TransferRecord struct {
	Direction string    `json:"direction"`
	Source    string    `json:"source"`
	Dest      string    `json:"dest"`
	Bytes     int64     `json:"bytes"`
	At        time.Time `json:"at"`
}

// ServerHistory holds the most recent transfers of one server, oldest first.
type ServerHistory struct {
	Records []TransferRecord `json:"records"`
}

// HistoryManager keeps a bounded transfer journal per server nickname.
type HistoryManager struct {
	Servers map[string]*ServerHistory `json:"servers"`
	Path    string                    `json:"-"`
	Limit   int                       `json:"-"`
	mu      sync.RWMutex
}

func NewHistoryManager(path string) *HistoryManager {
	return &HistoryManager{
		Servers: make(map[string]*ServerHistory),
		Path:    path,
		Limit:   DefaultHistoryLimit,
	}
}

func (hm *HistoryManager) Load() error {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	data, err := os.ReadFile(hm.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	servers := make(map[string]*ServerHistory)
	if err := json.Unmarshal(data, &servers); err != nil {
		return err
	}
	if servers == nil {
		servers = make(map[string]*ServerHistory)
	}
	hm.Servers = servers
	return nil
}

func (hm *HistoryManager) Save() error {
	hm.mu.RLock()
	data, err := json.MarshalIndent(hm.Servers, "", "  ")
	hm.mu.RUnlock()
	if err != nil {
		return err
	}
	return writeFileAtomic(hm.Path, data, 0o600)
}

// Record appends a finished transfer to the server's journal, dropping the
// oldest entries past Limit.
func (hm *HistoryManager) Record(server string, res *TransferResult) {
	if res == nil {
		return
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()

	h, ok := hm.Servers[server]
	if !ok || h == nil {
		h = &ServerHistory{}
		hm.Servers[server] = h
	}
	h.Records = append(h.Records, TransferRecord{
		Direction: res.Direction,
		Source:    res.Source,
		Dest:      res.Dest,
		Bytes:     res.Bytes,
		At:        time.Now(),
	})
	if hm.Limit > 0 && len(h.Records) > hm.Limit {
		h.Records = append([]TransferRecord(nil), h.Records[len(h.Records)-hm.Limit:]...)
	}
}

// Recent returns up to n records for server, newest first.
func (hm *HistoryManager) Recent(server string, n int) []TransferRecord {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	h, ok := hm.Servers[server]
	if !ok || h == nil {
		return nil
	}
	out := make([]TransferRecord, 0, len(h.Records))
	for i := len(h.Records) - 1; i >= 0; i-- {
		if n > 0 && len(out) == n {
			break
		}
		out = append(out, h.Records[i])
	}
	return out
}

// Forget drops the journal of a deleted server.
func (hm *HistoryManager) Forget(server string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.Servers, server)
}

// Rename moves a journal to a new nickname, replacing any journal there.
func (hm *HistoryManager) Rename(from, to string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	h, ok := hm.Servers[from]
	if !ok || from == to {
		return
	}
	delete(hm.Servers, from)
	hm.Servers[to] = h
}
