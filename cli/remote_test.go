package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshdeck/sshtest"
)

func writeLocal(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRemoteFileCommands(t *testing.T) {
	newHome(t)
	srv := sshtest.NewServer(t, remoteHandler)
	addTestServer(t, srv, "web1")
	local := writeLocal(t, "notes.txt", "hello\nworld\n")

	out := mustRun(t, "", "-s", "web1", "put", local, "/")
	assert.Contains(t, out, "Uploaded "+local+" to /notes.txt")

	out = mustRun(t, "n\n", "-s", "web1", "put", local, "/")
	assert.Contains(t, out, "File notes.txt exists. Overwrite?")
	assert.Contains(t, out, "transfer cancelled")

	out = mustRun(t, "", "-s", "web1", "put", local, "/", "--force")
	assert.Contains(t, out, "Uploaded")

	out = mustRun(t, "", "-s", "web1", "ls", "/")
	assert.Contains(t, out, "notes.txt")
	assert.Contains(t, out, "12 B")

	out = mustRun(t, "", "-s", "web1", "cat", "/notes.txt")
	assert.Equal(t, "hello\nworld\n", out)

	out = mustRun(t, "", "-s", "web1", "cat", "notes.txt", "--find", "WORLD")
	assert.Contains(t, out, "> 2  world")
	assert.Contains(t, out, "  1  hello")

	dir := t.TempDir()
	out = mustRun(t, "", "-s", "web1", "get", "/notes.txt", dir)
	assert.Contains(t, out, "Downloaded /notes.txt to "+filepath.Join(dir, "notes.txt"))
	data, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(data))

	_, err = run(t, "", "-s", "web1", "get", "/missing.txt", dir)
	assert.Error(t, err)

	other := writeLocal(t, "other.txt", "hello\nthere\n")
	out = mustRun(t, "", "-s", "web1", "diff", other, ":/notes.txt")
	assert.Contains(t, out, "-there")
	assert.Contains(t, out, "+world")

	out = mustRun(t, "", "history", "web1")
	assert.Equal(t, 2, strings.Count(out, "↑"), out)
	assert.Equal(t, 1, strings.Count(out, "↓"), out)

	out = mustRun(t, "", "-s", "web1", "rm", "/notes.txt", "--yes")
	assert.Contains(t, out, "Deleted /notes.txt")
	out = mustRun(t, "", "-s", "web1", "ls", "/")
	assert.NotContains(t, out, "notes.txt")
}

func TestRemoteServiceCommands(t *testing.T) {
	newHome(t)
	srv := sshtest.NewServer(t, remoteHandler)
	addTestServer(t, srv, "web1")

	out := mustRun(t, "", "-s", "web1", "svc", "restart", "nginx")
	assert.Contains(t, out, "restart sent to nginx")
	assert.Contains(t, out, "nginx  active")
	assert.Contains(t, srv.Commands(), "sudo -n systemctl restart 'nginx' || systemctl restart 'nginx'")

	out = mustRun(t, "", "-s", "web1", "svc", "status", "nginx")
	assert.Contains(t, out, "Active: active (running)")

	out = mustRun(t, "", "-s", "web1", "svc", "logs", "nginx", "-n", "2", "--find", "health")
	assert.Contains(t, out, "> 2  2024-01-01T00:00:01+0000 web nginx[1]: GET /health 200")

	out = mustRun(t, "", "-s", "web1", "svc", "poll")
	assert.Contains(t, out, "no favourite services")

	mustRun(t, "", "-s", "web1", "services", "add", "nginx", "redis")
	out = mustRun(t, "", "-s", "web1", "svc", "poll")
	assert.Contains(t, out, "nginx  active")
	assert.Contains(t, out, "redis  active")

	_, err := run(t, "", "-s", "web1", "svc", "start", "bad;unit")
	assert.Error(t, err)
}

func TestRemoteConnectFailure(t *testing.T) {
	newHome(t)
	srv := sshtest.NewServer(t, remoteHandler)
	mustRun(t, "wrong\n", "server", "add", "web1",
		"--host", srv.Host(), "--user", sshtest.User,
		"--port", fmt.Sprint(srv.Port()), "--password-stdin")

	_, err := run(t, "", "-s", "web1", "ls")
	assert.Error(t, err)
}

func TestShellScript(t *testing.T) {
	newHome(t)
	srv := sshtest.NewServer(t, remoteHandler)
	addTestServer(t, srv, "web1")
	local := writeLocal(t, "notes.txt", "hello\nworld\n")

	script := strings.Join([]string{
		"# comment lines are ignored",
		"servers",
		"ls",
		"connect web1",
		"connect web1",
		"put " + local + " /",
		"put " + local + " /",
		"y",
		"ls /",
		"open /notes.txt",
		"find WORLD",
		"show",
		`json {"a": {"b": 1}}`,
		"svc restart nginx",
		"svc status nginx",
		"logs nginx",
		"logs find health",
		"services add nginx",
		"poll",
		"history",
		"status",
		"bogus",
		"disconnect",
		"quit",
	}, "\n") + "\n"

	out := mustRun(t, script, "shell")

	assert.Contains(t, out, "web1  ops@127.0.0.1:")
	assert.Contains(t, out, "ERROR not connected")
	assert.Contains(t, out, "connecting to web1 (127.0.0.1:")
	assert.Contains(t, out, "Connected to web1")
	assert.Contains(t, out, "WARN already connected; disconnect first")
	assert.Equal(t, 2, strings.Count(out, "Uploaded "+local+" to /notes.txt"), out)
	assert.Contains(t, out, "File notes.txt exists. Overwrite? [y/N]: ")
	assert.Contains(t, out, "opened /notes.txt (2 lines)")
	assert.Contains(t, out, "2: world")
	assert.Contains(t, out, "hello\nworld\n")
	assert.Contains(t, out, `"b": 1`)
	assert.Contains(t, out, "restart sent to nginx")
	assert.Contains(t, out, "nginx  active")
	assert.Contains(t, out, "Active: active (running)")
	assert.Contains(t, out, "2: 2024-01-01T00:00:01+0000 web nginx[1]: GET /health 200")
	assert.Contains(t, out, "connected to web1 (ops@127.0.0.1:")
	assert.Contains(t, out, `unknown command "bogus"; type help`)
	assert.Contains(t, out, "disconnected from web1")

	// The restart re-poll runs before the next line is read.
	assert.Less(t, strings.Index(out, "restart sent to nginx"), strings.Index(out, "Active: active (running)"))

	out = mustRun(t, "", "server", "ls")
	assert.Contains(t, out, "[nginx]")
}

func TestShellDeclinedOverwriteAndEOF(t *testing.T) {
	newHome(t)
	srv := sshtest.NewServer(t, remoteHandler)
	addTestServer(t, srv, "web1")
	local := writeLocal(t, "app.conf", "port = 80\n")

	// No quit: end of input ends the shell once background work is done.
	script := "connect web1\nput " + local + "\nput " + local + "\nno\nrm /app.conf\nn\n"
	out := mustRun(t, script, "shell")

	assert.Contains(t, out, "Uploaded "+local+" to /app.conf")
	assert.Contains(t, out, "transfer cancelled")
	assert.Contains(t, out, "Delete /app.conf? [y/N]: ")
	assert.Contains(t, out, "kept /app.conf")
}

func TestShellHelpWithoutConnection(t *testing.T) {
	newHome(t)
	out := mustRun(t, "help\nopen x\nfind y\nquit\n", "shell")
	assert.Contains(t, out, "connect <server>")
	assert.Contains(t, out, "watch on|off")
	assert.Contains(t, out, "ERROR not connected")
	assert.Contains(t, out, "ERROR no file is open")
}

// appendEditor installs an $EDITOR that appends a line to the edited file.
func appendEditor(t *testing.T) {
	t.Helper()
	script := filepath.Join(t.TempDir(), "editor.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nprintf 'more\\n' >> \"$1\"\n"), 0o755))
	t.Setenv("VISUAL", "")
	t.Setenv("EDITOR", script)
}

func TestRemoteEdit(t *testing.T) {
	newHome(t)
	appendEditor(t)
	srv := sshtest.NewServer(t, remoteHandler)
	addTestServer(t, srv, "web1")
	mustRun(t, "", "-s", "web1", "put", writeLocal(t, "notes.txt", "hello\n"), "/")

	out := mustRun(t, "n\n", "-s", "web1", "edit", "/notes.txt")
	assert.Contains(t, out, "not saved")
	out = mustRun(t, "", "-s", "web1", "cat", "/notes.txt")
	assert.Equal(t, "hello\n", out)

	out = mustRun(t, "y\n", "-s", "web1", "edit", "/notes.txt")
	assert.Contains(t, out, "Saved /notes.txt")
	out = mustRun(t, "", "-s", "web1", "cat", "/notes.txt")
	assert.Equal(t, "hello\nmore\n", out)
}

func TestShellEditSaveAndNavigate(t *testing.T) {
	newHome(t)
	appendEditor(t)
	srv := sshtest.NewServer(t, remoteHandler)
	addTestServer(t, srv, "web1")
	local := writeLocal(t, "notes.txt", "hello\n")

	script := strings.Join([]string{
		"connect web1",
		"put " + local + " /",
		"open /notes.txt",
		"edit",
		"save",
		"y",
		"put " + local + " /etc",
		"open /notes.txt",
		"edit",
		"open /etc/notes.txt",
		"cd /etc",
		"show",
		"quit",
	}, "\n") + "\n"
	out := mustRun(t, script, "shell")

	assert.Contains(t, out, "/notes.txt modified; save to write it back")
	assert.Contains(t, out, "Write /notes.txt back to web1? [y/N]: ")
	assert.Contains(t, out, "Saved /notes.txt")
	assert.Contains(t, out, "Uploaded "+local+" to /etc/notes.txt")
	assert.Contains(t, out, "/notes.txt has unsaved changes; save or close! first")
	assert.Contains(t, out, "unsaved changes to /notes.txt discarded")
	assert.Contains(t, out, "ERROR no file is open")

	out = mustRun(t, "", "-s", "web1", "cat", "/notes.txt")
	assert.Equal(t, "hello\nmore\n", out)
}
