package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"sshdeck/logging"
	"sshdeck/protocols"
)

const DefaultConnectTimeout = 10 * time.Second

// Target is what a connection attempt needs from a server record.
type Target struct {
	Host     string
	Username string
	Password string
	Port     int
}

func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func TargetFor(rec ServerRecord) Target {
	return Target{Host: rec.Host, Username: rec.Username, Password: rec.Password, Port: rec.Port}
}

// CommandResult holds the output of one remote command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Text returns stdout, or stderr when stdout has nothing but whitespace.
func (r *CommandResult) Text() string {
	if strings.TrimSpace(r.Stdout) != "" {
		return r.Stdout
	}
	return r.Stderr
}

// Executor runs shell commands on the connected host.
type Executor interface {
	Run(ctx context.Context, cmd string) (*CommandResult, error)
}

// Session wraps one authenticated SSH connection. The application holds at
// most one; connecting while it is live is rejected.
type Session struct {
	mu     sync.Mutex
	client *ssh.Client
	alive  bool
	target Target
	fs     *protocols.SFTPFileSystem
	done   chan struct{}
}

func NewSession() *Session {
	return &Session{}
}

// Connect makes a single attempt to open and authenticate a connection.
// Failures are returned as *ConnectError.
func (s *Session) Connect(ctx context.Context, t Target, timeout time.Duration) error {
	s.mu.Lock()
	if s.client != nil && s.alive {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	// The transport died without a Disconnect; release what is left of it.
	if s.client != nil {
		_ = s.closeLocked()
	}
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	config := &ssh.ClientConfig{
		User: t.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(t.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = t.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: acceptHostKey,
		Timeout:         timeout,
	}

	addr := t.Addr()
	logging.Debug("connecting", logging.String("addr", addr), logging.String("user", t.Username))

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return classifyConnectError(t.Host, err)
	}
	deadline, _ := dialCtx.Deadline()
	_ = conn.SetDeadline(deadline)

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return classifyConnectError(t.Host, err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)
	done := make(chan struct{})

	s.mu.Lock()
	s.client = client
	s.alive = true
	s.target = t
	s.fs = nil
	s.done = done
	s.mu.Unlock()

	go s.watch(client, done)

	logging.Info("connected", logging.String("addr", addr), logging.String("user", t.Username))
	return nil
}

// watch blocks until the transport shuts down and marks the session dead.
func (s *Session) watch(client *ssh.Client, done chan struct{}) {
	err := client.Wait()
	defer close(done)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != client {
		return
	}
	s.alive = false
	if err != nil && !errors.Is(err, net.ErrClosed) {
		logging.Debug("transport closed", logging.Err(err))
	}
}

func acceptHostKey(hostname string, remote net.Addr, key ssh.PublicKey) error {
	logging.Info("accepting host key",
		logging.String("host", hostname),
		logging.String("type", key.Type()),
		logging.String("fingerprint", ssh.FingerprintSHA256(key)))
	return nil
}

func classifyConnectError(host string, err error) *ConnectError {
	kind := ConnectGeneric
	msg := err.Error()
	var netErr net.Error
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		kind = ConnectAuth
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout(),
		strings.Contains(msg, "i/o timeout"):
		kind = ConnectTimeout
	case strings.HasPrefix(msg, "ssh:"):
		kind = ConnectProtocol
	}
	return &ConnectError{Kind: kind, Host: host, Err: err}
}

// Disconnect closes the connection. Safe to call when not connected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// closeLocked must be called with mu held.
func (s *Session) closeLocked() error {
	if s.client == nil {
		return nil
	}
	if s.fs != nil {
		_ = s.fs.Close()
		s.fs = nil
	}
	err := s.client.Close()
	s.client = nil
	s.alive = false
	logging.Info("disconnected", logging.String("host", s.target.Host))
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// IsConnected reports transport liveness, not application health.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.alive
}

// Done is closed when the current connection's transport shuts down.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

func (s *Session) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Session) liveClient() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || !s.alive {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// Run executes cmd over a new exec channel. A non-zero exit status is not an
// error; callers inspect ExitCode.
func (s *Session) Run(ctx context.Context, cmd string) (*CommandResult, error) {
	client, err := s.liveClient()
	if err != nil {
		return nil, err
	}
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = sess.Close()
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &CommandResult{
		Stdout: strings.ToValidUTF8(stdout.String(), "\uFFFD"),
		Stderr: strings.ToValidUTF8(stderr.String(), "\uFFFD"),
	}
	if err != nil {
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitStatus()
		case errors.As(err, &missing):
			result.ExitCode = -1
		default:
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
	}
	logging.Debug("remote command", logging.String("cmd", cmd), logging.Int("exit", result.ExitCode))
	return result, nil
}

// FileSystem returns the SFTP view of the session, opening the subsystem on
// first use.
func (s *Session) FileSystem() (*protocols.SFTPFileSystem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !s.alive {
		return nil, ErrNotConnected
	}
	if s.fs != nil {
		return s.fs, nil
	}
	fs := protocols.NewSFTPFileSystem(s.client, "")
	if err := fs.Init(); err != nil {
		return nil, fmt.Errorf("could not open SFTP session: %w", err)
	}
	s.fs = fs
	return fs, nil
}

var _ Executor = (*Session)(nil)
