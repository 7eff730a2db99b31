package core

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sshdeck/logging"
)

const (
	DefaultLogLines = 100
	StateUnknown    = "unknown"
)

// unitName matches systemd unit names, optionally with a template instance
// or a unit type suffix.
var unitName = regexp.MustCompile(`^[A-Za-z0-9:_.@\\-]+$`)

func ValidateUnit(name string) error {
	if name == "" || len(name) > 256 || !unitName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidUnit, name)
	}
	return nil
}

// ServiceState is the active state of one unit at poll time.
type ServiceState struct {
	Name  string
	State string
}

// ServiceController drives systemd units on the connected host.
type ServiceController struct {
	exec    Executor
	timeout time.Duration
}

func NewServiceController(exec Executor, timeout time.Duration) *ServiceController {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &ServiceController{exec: exec, timeout: timeout}
}

func (sc *ServiceController) run(ctx context.Context, cmd string) (*CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()
	return sc.exec.Run(ctx, cmd)
}

// control tries the action through passwordless sudo first, then directly.
func (sc *ServiceController) control(ctx context.Context, action, svc string) (*CommandResult, error) {
	if err := ValidateUnit(svc); err != nil {
		return nil, err
	}
	q := shellQuote(svc)
	cmd := fmt.Sprintf("sudo -n systemctl %s %s || systemctl %s %s", action, q, action, q)
	res, err := sc.run(ctx, cmd)
	if err != nil {
		logging.Warn("service action failed", logging.String("action", action), logging.String("service", svc), logging.Err(err))
		return nil, err
	}
	if res.ExitCode != 0 {
		logging.Warn("service action exited non-zero",
			logging.String("action", action),
			logging.String("service", svc),
			logging.Int("exit", res.ExitCode))
		return res, &CommandError{Cmd: cmd, ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)}
	}
	logging.Info("service action sent", logging.String("action", action), logging.String("service", svc))
	return res, nil
}

func (sc *ServiceController) Start(ctx context.Context, svc string) (*CommandResult, error) {
	return sc.control(ctx, "start", svc)
}

func (sc *ServiceController) Stop(ctx context.Context, svc string) (*CommandResult, error) {
	return sc.control(ctx, "stop", svc)
}

func (sc *ServiceController) Restart(ctx context.Context, svc string) (*CommandResult, error) {
	return sc.control(ctx, "restart", svc)
}

// Status returns the output of systemctl status as is.
func (sc *ServiceController) Status(ctx context.Context, svc string) (string, error) {
	if err := ValidateUnit(svc); err != nil {
		return "", err
	}
	res, err := sc.run(ctx, "systemctl status --no-pager "+shellQuote(svc))
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// IsActive reports the unit's active state, or "unknown" when it cannot be
// determined.
func (sc *ServiceController) IsActive(ctx context.Context, svc string) string {
	if ValidateUnit(svc) != nil {
		return StateUnknown
	}
	res, err := sc.run(ctx, fmt.Sprintf("systemctl is-active %s || true", shellQuote(svc)))
	if err != nil {
		logging.Debug("is-active failed", logging.String("service", svc), logging.Err(err))
		return StateUnknown
	}
	state := strings.TrimSpace(res.Stdout)
	if state == "" {
		return StateUnknown
	}
	if i := strings.IndexByte(state, '\n'); i >= 0 {
		state = strings.TrimSpace(state[:i])
	}
	return state
}

// PollAll queries each service in order.
func (sc *ServiceController) PollAll(ctx context.Context, services []string) []ServiceState {
	out := make([]ServiceState, 0, len(services))
	for _, svc := range services {
		if ctx.Err() != nil {
			break
		}
		out = append(out, ServiceState{Name: svc, State: sc.IsActive(ctx, svc)})
	}
	return out
}

// TailLogs returns the last n journal lines of the unit.
func (sc *ServiceController) TailLogs(ctx context.Context, svc string, n int) (string, error) {
	if err := ValidateUnit(svc); err != nil {
		return "", err
	}
	if n <= 0 {
		n = DefaultLogLines
	}
	cmd := fmt.Sprintf("journalctl -u %s -n %s --no-pager --output=short-iso", shellQuote(svc), strconv.Itoa(n))
	res, err := sc.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// FindNext searches text for query, case-insensitively, starting at byte
// offset from and wrapping around to the start. It returns the match offset.
func FindNext(text, query string, from int) (int, bool) {
	if query == "" || text == "" {
		return 0, false
	}
	hay, needle := strings.ToLower(text), strings.ToLower(query)
	if len(hay) != len(text) {
		// Lowercasing changed byte lengths; fall back to a case sensitive search.
		hay, needle = text, query
	}
	if from < 0 || from > len(hay) {
		from = 0
	}
	if i := strings.Index(hay[from:], needle); i >= 0 {
		return from + i, true
	}
	if i := strings.Index(hay, needle); i >= 0 {
		return i, true
	}
	return 0, false
}
