package core

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshdeck/secrets"
)

func newStore(t *testing.T) *CredentialStore {
	t.Helper()
	cs := NewCredentialStore(filepath.Join(t.TempDir(), "servers.json"), nil)
	require.NoError(t, cs.Load())
	return cs
}

func TestCredentialStoreAddAndGet(t *testing.T) {
	cs := newStore(t)

	require.NoError(t, cs.AddOrUpdate("web1", "10.0.0.5", "ops", "x", 22))

	rec, ok := cs.Get("web1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", rec.Host)
	assert.Equal(t, "ops", rec.Username)
	assert.Equal(t, "x", rec.Password)
	assert.Equal(t, 22, rec.Port)

	_, ok = cs.Get("missing")
	assert.False(t, ok)
}

func TestCredentialStoreScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.json")
	body := `{"web1": {"host":"10.0.0.5","username":"ops","password":"x","port":22,"services":["nginx"]}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cs := NewCredentialStore(path, nil)
	require.NoError(t, cs.Load())

	assert.Equal(t, []string{"web1"}, cs.ListNames())
	assert.Equal(t, []string{"nginx"}, cs.GetServices("web1"))

	require.NoError(t, cs.SetServices("web1", []string{"nginx", "nginx", "  "}))
	assert.Equal(t, []string{"nginx"}, cs.GetServices("web1"))

	reloaded := NewCredentialStore(path, nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, []string{"nginx"}, reloaded.GetServices("web1"))
}

func TestCredentialStorePersistsFourSpaceIndent(t *testing.T) {
	cs := newStore(t)
	require.NoError(t, cs.AddOrUpdate("db", "db.internal", "root", "pw", 2222))

	data, err := os.ReadFile(cs.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"db\": {\n        \"host\": \"db.internal\"")

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(2222), decoded["db"]["port"])

	info, err := os.Stat(cs.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCredentialStoreDeleteMissingWritesNothing(t *testing.T) {
	cs := newStore(t)

	require.NoError(t, cs.Delete("ghost"))
	_, err := os.Stat(cs.Path)
	assert.True(t, os.IsNotExist(err), "no file should be written")

	require.NoError(t, cs.AddOrUpdate("a", "h", "u", "p", 22))
	before, err := os.Stat(cs.Path)
	require.NoError(t, err)
	require.NoError(t, cs.Delete("ghost"))
	after, err := os.Stat(cs.Path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	require.NoError(t, cs.Delete("a"))
	assert.Empty(t, cs.ListNames())
}

func TestCredentialStoreSetServices(t *testing.T) {
	cs := newStore(t)

	require.NoError(t, cs.SetServices("unknown", []string{"nginx"}))
	assert.Empty(t, cs.GetServices("unknown"))
	_, err := os.Stat(cs.Path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, cs.AddOrUpdate("web", "h", "u", "p", 22))
	require.NoError(t, cs.SetServices("web", []string{" redis ", "nginx", "", "redis", "nginx", "postgresql"}))
	assert.Equal(t, []string{"redis", "nginx", "postgresql"}, cs.GetServices("web"))
}

func TestCredentialStoreUpdateKeepsServices(t *testing.T) {
	cs := newStore(t)
	require.NoError(t, cs.AddOrUpdate("web", "h", "u", "p", 22))
	require.NoError(t, cs.SetServices("web", []string{"nginx"}))

	require.NoError(t, cs.AddOrUpdate("web", "h2", "u", "p2", 2200))

	rec, ok := cs.Get("web")
	require.True(t, ok)
	assert.Equal(t, "h2", rec.Host)
	assert.Equal(t, 2200, rec.Port)
	assert.Equal(t, []string{"nginx"}, rec.Services)
}

func TestCredentialStoreListNamesSorted(t *testing.T) {
	cs := newStore(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, cs.AddOrUpdate(name, "h", "u", "p", 22))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, cs.ListNames())
}

func TestCredentialStoreRename(t *testing.T) {
	cs := newStore(t)
	require.NoError(t, cs.AddOrUpdate("old", "h", "u", "p", 22))
	require.NoError(t, cs.SetServices("old", []string{"sshd"}))

	require.NoError(t, cs.Rename("old", "new"))
	assert.Equal(t, []string{"new"}, cs.ListNames())
	assert.Equal(t, []string{"sshd"}, cs.GetServices("new"))

	err := cs.Rename("absent", "x")
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestCredentialStoreValidation(t *testing.T) {
	cs := newStore(t)

	tests := []struct {
		name                       string
		server, host, user, passwd string
		port                       int
	}{
		{"blank name", " ", "h", "u", "p", 22},
		{"blank host", "n", "", "u", "p", 22},
		{"blank user", "n", "h", "", "p", 22},
		{"blank password", "n", "h", "u", "", 22},
		{"port zero", "n", "h", "u", "p", 0},
		{"port too high", "n", "h", "u", "p", 65536},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cs.AddOrUpdate(tt.server, tt.host, tt.user, tt.passwd, tt.port)
			assert.ErrorIs(t, err, ErrInvalidServer)
		})
	}
	assert.Empty(t, cs.ListNames())
}

func TestCredentialStoreLoadFailures(t *testing.T) {
	t.Run("malformed json resets to empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "servers.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"web1": {`), 0o600))

		cs := NewCredentialStore(path, nil)
		cs.servers["stale"] = &storedServer{Host: "h"}

		err := cs.Load()
		var perr *PersistenceError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "load", perr.Op)
		assert.Empty(t, cs.ListNames())
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "servers.json")
		require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))

		cs := NewCredentialStore(path, nil)
		require.NoError(t, cs.Load())
		assert.Empty(t, cs.ListNames())
	})

	t.Run("null document is an empty store", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "servers.json")
		require.NoError(t, os.WriteFile(path, []byte("null\n"), 0o600))

		cs := NewCredentialStore(path, nil)
		require.NoError(t, cs.Load())
		assert.Empty(t, cs.ListNames())

		require.NoError(t, cs.AddOrUpdate("web1", "h", "u", "p", 22))
		require.NoError(t, cs.SetServices("web1", []string{"nginx"}))
		require.NoError(t, cs.Rename("web1", "web2"))
		assert.Equal(t, []string{"web2"}, cs.ListNames())
	})

	t.Run("directory instead of file", func(t *testing.T) {
		cs := NewCredentialStore(t.TempDir(), nil)
		err := cs.Load()
		var perr *PersistenceError
		assert.True(t, errors.As(err, &perr))
	})

	t.Run("non string services are dropped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "servers.json")
		body := `{"a": {"host":"h","username":"u","password":"p","port":22,"services":["x", 3, null, "y", "x"]},
		          "b": {"host":"h","username":"u","password":"p","port":22,"services":"nginx"}}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		cs := NewCredentialStore(path, nil)
		require.NoError(t, cs.Load())
		assert.Equal(t, []string{"x", "y"}, cs.GetServices("a"))
		assert.Empty(t, cs.GetServices("b"))
	})
}

func TestCredentialStoreSealsPasswords(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	sealer := secrets.NewAgeSealer(identity)

	path := filepath.Join(t.TempDir(), "servers.json")
	legacy := `{"old": {"host":"h","username":"u","password":"clear","port":22}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	cs := NewCredentialStore(path, sealer)
	require.NoError(t, cs.Load())

	rec, ok := cs.Get("old")
	require.True(t, ok)
	assert.Equal(t, "clear", rec.Password, "legacy clear text is readable")

	require.NoError(t, cs.AddOrUpdate("new", "h", "u", "s3cret", 22))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cret")
	assert.Contains(t, string(data), secrets.Prefix)

	n, err := cs.Reseal()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), `"clear"`))

	reloaded := NewCredentialStore(path, sealer)
	require.NoError(t, reloaded.Load())
	rec, ok = reloaded.Get("new")
	require.True(t, ok)
	assert.Equal(t, "s3cret", rec.Password)
	rec, ok = reloaded.Get("old")
	require.True(t, ok)
	assert.Equal(t, "clear", rec.Password)
}
