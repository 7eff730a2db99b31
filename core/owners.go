package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"sshdeck/logging"
)

// OwnerCache maps numeric uids and gids to names on the remote host. It is
// keyed by id only and must be Reset whenever the session changes.
type OwnerCache struct {
	exec    Executor
	timeout time.Duration

	mu     sync.RWMutex
	users  map[uint32]string
	groups map[uint32]string
}

func NewOwnerCache(exec Executor, timeout time.Duration) *OwnerCache {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OwnerCache{
		exec:    exec,
		timeout: timeout,
		users:   make(map[uint32]string),
		groups:  make(map[uint32]string),
	}
}

// Reset drops every cached name.
func (oc *OwnerCache) Reset() {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.users = make(map[uint32]string)
	oc.groups = make(map[uint32]string)
}

// User returns the cached name for uid, or the number itself.
func (oc *OwnerCache) User(uid uint32) string {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	if name, ok := oc.users[uid]; ok {
		return name
	}
	return strconv.FormatUint(uint64(uid), 10)
}

// Group returns the cached name for gid, or the number itself.
func (oc *OwnerCache) Group(gid uint32) string {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	if name, ok := oc.groups[gid]; ok {
		return name
	}
	return strconv.FormatUint(uint64(gid), 10)
}

// tableLocked returns the current map for a passwd or group table. The maps
// are swapped by Reset, so callers must hold mu and never keep the result.
func (oc *OwnerCache) tableLocked(table string) map[uint32]string {
	if table == "group" {
		return oc.groups
	}
	return oc.users
}

func (oc *OwnerCache) missing(table string, ids map[uint32]struct{}) []uint32 {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	cache := oc.tableLocked(table)
	var out []uint32
	for id := range ids {
		if _, ok := cache[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve looks up every uid and gid not yet cached. Lookup failures are not
// errors; unresolved ids keep rendering as numbers.
func (oc *OwnerCache) Resolve(ctx context.Context, uids, gids map[uint32]struct{}) {
	if oc.exec == nil {
		return
	}
	if pending := oc.missing("passwd", uids); len(pending) > 0 {
		oc.resolveTable(ctx, "passwd", pending)
	}
	if pending := oc.missing("group", gids); len(pending) > 0 {
		oc.resolveTable(ctx, "group", pending)
	}
}

// resolveTable tries "getent <table> ids..." and falls back to reading
// /etc/<table> for anything still missing.
func (oc *OwnerCache) resolveTable(ctx context.Context, table string, ids []uint32) {
	want := make(map[uint32]struct{}, len(ids))
	args := make([]string, 0, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
		args = append(args, strconv.FormatUint(uint64(id), 10))
	}

	found := parseIDTable(oc.output(ctx, fmt.Sprintf("getent %s %s", table, strings.Join(args, " "))))
	oc.store(table, found, want)

	if still := oc.missing(table, want); len(still) > 0 {
		found = parseIDTable(oc.output(ctx, "cat /etc/"+table))
		oc.store(table, found, want)
	}
}

func (oc *OwnerCache) store(table string, found map[uint32]string, want map[uint32]struct{}) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	cache := oc.tableLocked(table)
	for id, name := range found {
		if _, ok := want[id]; !ok {
			continue
		}
		if _, ok := cache[id]; !ok {
			cache[id] = name
		}
	}
}

func (oc *OwnerCache) output(ctx context.Context, cmd string) string {
	ctx, cancel := context.WithTimeout(ctx, oc.timeout)
	defer cancel()
	res, err := oc.exec.Run(ctx, cmd)
	if err != nil {
		logging.Debug("owner lookup failed", logging.String("cmd", cmd), logging.Err(err))
		return ""
	}
	return res.Stdout
}

// parseIDTable reads passwd/group formatted lines: name:x:id:...
func parseIDTable(out string) map[uint32]string {
	found := make(map[uint32]string)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(strings.TrimSpace(line), ":")
		if len(parts) < 3 || parts[0] == "" {
			continue
		}
		id, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			continue
		}
		if _, dup := found[uint32(id)]; !dup {
			found[uint32(id)] = parts[0]
		}
	}
	return found
}

// UserID resolves a user name to a uid. Numeric input passes through.
func (oc *OwnerCache) UserID(ctx context.Context, name string) (uint32, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false
	}
	if id, err := strconv.ParseUint(name, 10, 32); err == nil {
		return uint32(id), true
	}
	if oc.exec == nil {
		return 0, false
	}
	if out := strings.TrimSpace(oc.output(ctx, "id -u "+shellQuote(name))); out != "" {
		if id, err := strconv.ParseUint(out, 10, 32); err == nil {
			oc.remember("passwd", uint32(id), name)
			return uint32(id), true
		}
	}
	return oc.lookupByName(ctx, "passwd", name)
}

// GroupID resolves a group name to a gid. Numeric input passes through.
func (oc *OwnerCache) GroupID(ctx context.Context, name string) (uint32, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false
	}
	if id, err := strconv.ParseUint(name, 10, 32); err == nil {
		return uint32(id), true
	}
	if oc.exec == nil {
		return 0, false
	}
	return oc.lookupByName(ctx, "group", name)
}

func (oc *OwnerCache) lookupByName(ctx context.Context, table, name string) (uint32, bool) {
	for id, n := range parseIDTable(oc.output(ctx, fmt.Sprintf("getent %s %s", table, shellQuote(name)))) {
		if n == name {
			oc.remember(table, id, name)
			return id, true
		}
	}
	return 0, false
}

func (oc *OwnerCache) remember(table string, id uint32, name string) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.tableLocked(table)[id] = name
}

// shellQuote quotes a string for safe use in shell commands.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
