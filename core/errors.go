package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected; disconnect first")
	ErrBusy             = errors.New("another transfer is in progress")
	ErrDeclined         = errors.New("overwrite declined")
	ErrTooLarge         = errors.New("file is larger than the open limit; download it instead")
	ErrBinary           = errors.New("file appears to be binary")
	ErrIsDirectory      = errors.New("is a directory")
	ErrNoOpenFile       = errors.New("no file is open")
	ErrUnresolvedOwner  = errors.New("failed to resolve owner or group to a numeric id")
	ErrInvalidServer    = errors.New("invalid server record")
	ErrUnknownServer    = errors.New("unknown server")
	ErrInvalidUnit      = errors.New("invalid service name")
)

// PersistenceError reports a credential file that could not be read or
// written. After a failed load the store is empty.
type PersistenceError struct {
	Op   string // load, save
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s server data %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CollisionError reports a transfer target that already exists.
type CollisionError struct {
	Path  string
	IsDir bool
}

func (e *CollisionError) Error() string {
	if e.IsDir {
		return fmt.Sprintf("a directory named %q already exists at the destination", e.Path)
	}
	return fmt.Sprintf("%q already exists", e.Path)
}

// ConnectKind classifies connection failures.
type ConnectKind int

const (
	ConnectGeneric ConnectKind = iota
	ConnectAuth
	ConnectProtocol
	ConnectTimeout
)

func (k ConnectKind) String() string {
	switch k {
	case ConnectAuth:
		return "auth"
	case ConnectProtocol:
		return "protocol"
	case ConnectTimeout:
		return "timeout"
	default:
		return "generic"
	}
}

type ConnectError struct {
	Kind ConnectKind
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	switch e.Kind {
	case ConnectAuth:
		return "Authentication failed: Incorrect username or password."
	case ConnectProtocol:
		return fmt.Sprintf("SSH error: %v", e.Err)
	case ConnectTimeout:
		return fmt.Sprintf("Connection timed out: %v", e.Err)
	default:
		return fmt.Sprintf("Connection failed: %v", e.Err)
	}
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CommandError represents a remote command that exited non-zero.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command failed with exit code %d: %s", e.ExitCode, e.Cmd)
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}
