package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeExec answers remote commands from a handler and records them.
type fakeExec struct {
	mu      sync.Mutex
	cmds    []string
	handler func(cmd string) (*CommandResult, error)
}

func newFakeExec(handler func(cmd string) (*CommandResult, error)) *fakeExec {
	return &fakeExec{handler: handler}
}

func (f *fakeExec) Run(ctx context.Context, cmd string) (*CommandResult, error) {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.handler == nil {
		return &CommandResult{}, nil
	}
	return f.handler(cmd)
}

func (f *fakeExec) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func ok(stdout string) (*CommandResult, error) {
	return &CommandResult{Stdout: stdout}, nil
}

// getentHandler answers "getent passwd|group <ids>" with synthetic names.
func getentHandler(cmd string) (*CommandResult, error) {
	fields := strings.Fields(cmd)
	if len(fields) < 3 || fields[0] != "getent" {
		return ok("")
	}
	prefix := "user"
	if fields[1] == "group" {
		prefix = "group"
	}
	var sb strings.Builder
	for _, id := range fields[2:] {
		fmt.Fprintf(&sb, "%s%s:x:%s:%s::/home:/bin/sh\n", prefix, id, id, id)
	}
	return ok(sb.String())
}
