package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"sshdeck/core"
	"sshdeck/jsonview"
	"sshdeck/logging"
	"sshdeck/output"
)

// lineMsg carries one scripted input line.
type lineMsg string

// eofMsg reports the end of scripted input or ctrl+d at an empty prompt.
type eofMsg struct{}

// doneMsg ends one unit of background work and applies its result.
type doneMsg func(*shellState) tea.Cmd

// eventMsg applies something that happened outside the shell, such as a
// dropped connection or a watcher report.
type eventMsg func(*shellState) tea.Cmd

// askMsg is a yes/no question posted by a worker that waits on reply.
type askMsg struct {
	question string
	reply    chan<- bool
}

// printedMsg follows each line block handed to the terminal.
type printedMsg struct{}

// editedMsg reports that the local editor exited.
type editedMsg struct {
	edit *editSession
	err  error
}

type question struct {
	text   string
	answer func(st *shellState, yes bool) tea.Cmd
}

// shellState is the bubbletea model of the interactive session. Workers run
// as commands and never touch it; their results come back as messages.
type shellState struct {
	a           *app
	ctx         context.Context
	interactive bool
	send        func(tea.Msg)
	done        chan struct{}

	out      *output.Output
	w        io.Writer
	held     bytes.Buffer
	queued   []string
	printing bool
	input    textinput.Model

	session *core.Session
	remote  *remote
	dialing bool

	buf      *core.FileBuffer
	bufFind  int
	logs     string
	logsSvc  string
	logsFind int

	runner  *core.Runner
	pending int
	asks    []*question
	reading bool
	eof     bool
	quit    bool
}

func newShellState(ctx context.Context, a *app, interactive bool) *shellState {
	in := textinput.New()
	in.Prompt = "sshdeck> "
	in.Focus()
	return &shellState{
		a:           a,
		ctx:         ctx,
		interactive: interactive,
		send:        func(tea.Msg) {},
		done:        make(chan struct{}),
		input:       in,
		session:     core.NewSession(),
	}
}

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session",
		Long: `Start an interactive session. Connections, listings, transfers and
service commands run in the background while the prompt stays usable.
Type "help" for the list of commands.

When stdin is not a terminal each line waits for the previous one to
finish, so scripts can be piped in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			st := newShellState(ctx, a, a.prompt.isTerm())
			return st.run()
		},
	}
}

// run drives the model until quit or end of input. Scripted input has no
// terminal to render to, so lines are pulled one at a time instead.
func (st *shellState) run() error {
	st.attach()
	opts := []tea.ProgramOption{tea.WithContext(st.ctx), tea.WithOutput(st.w)}
	if st.interactive {
		opts = append(opts, tea.WithInput(st.a.prompt.in))
	} else {
		opts = append(opts, tea.WithInput(nil), tea.WithoutRenderer())
	}
	p := tea.NewProgram(st, opts...)
	st.send = p.Send

	_, err := p.Run()
	st.teardown()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// attach routes the app's output into the shell so it is printed between
// renders.
func (st *shellState) attach() {
	st.out = st.a.out
	st.w = st.a.out.Writer()
	held := output.New(&st.held)
	held.SetColor(!st.a.noColor)
	st.a.out = held
}

// teardown runs after the program has stopped.
func (st *shellState) teardown() {
	close(st.done)
	if st.runner != nil {
		st.runner.Stop()
		st.runner = nil
	}
	for _, text := range st.queued {
		fmt.Fprintln(st.w, text)
	}
	st.queued = nil
	st.held.WriteTo(st.w)
	st.a.out = st.out

	if st.buf != nil && st.buf.Dirty() {
		st.a.out.Warn("unsaved changes to %s discarded", st.buf.Path)
	}
	if err := st.session.Disconnect(); err != nil {
		logging.Debug("disconnect failed", logging.Err(err))
	}
}

func (st *shellState) Init() tea.Cmd {
	var cmd tea.Cmd
	if st.a.serverName != "" {
		cmd = st.connect(st.a.serverName)
	}
	if st.interactive {
		cmd = tea.Batch(cmd, textinput.Blink)
	}
	return st.settle(cmd)
}

func (st *shellState) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return st, st.settle(st.handle(msg))
}

func (st *shellState) View() string {
	if !st.interactive {
		return ""
	}
	return st.input.View()
}

func (st *shellState) handle(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return st.key(msg)
	case lineMsg:
		st.reading = false
		return st.submit(string(msg))
	case eofMsg:
		st.reading = false
		st.eof = true
		if len(st.asks) > 0 {
			fmt.Fprintln(&st.held)
			return st.answer(false)
		}
		return nil
	case doneMsg:
		st.pending--
		if msg != nil {
			return msg(st)
		}
		return nil
	case eventMsg:
		return msg(st)
	case askMsg:
		reply := msg.reply
		return st.ask(msg.question, func(_ *shellState, yes bool) tea.Cmd {
			reply <- yes
			return nil
		})
	case editedMsg:
		st.pending--
		return st.edited(msg)
	case printedMsg:
		st.printing = false
		return st.printNext()
	}
	if st.interactive {
		var cmd tea.Cmd
		st.input, cmd = st.input.Update(msg)
		return cmd
	}
	return nil
}

func (st *shellState) key(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyCtrlC:
		return tea.Quit
	case tea.KeyCtrlD:
		if st.input.Value() == "" {
			return st.handle(eofMsg{})
		}
	case tea.KeyEnter:
		line := st.input.Value()
		st.input.Reset()
		fmt.Fprintf(&st.held, "%s%s\n", st.input.Prompt, line)
		return st.submit(line)
	}
	var cmd tea.Cmd
	st.input, cmd = st.input.Update(msg)
	return cmd
}

// submit answers the open question with line, or runs it as a command.
func (st *shellState) submit(line string) tea.Cmd {
	if len(st.asks) > 0 {
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return st.answer(true)
		}
		return st.answer(false)
	}
	return st.dispatch(line)
}

// settle flushes output, decides whether the shell is finished and, for
// scripted input, whether the next line may be read.
func (st *shellState) settle(cmd tea.Cmd) tea.Cmd {
	cmds := []tea.Cmd{cmd, st.flush()}
	switch {
	case st.finished():
		cmds = append(cmds, tea.Quit)
	case st.wantsLine():
		st.reading = true
		cmds = append(cmds, st.readLine)
	}
	if len(st.asks) > 0 {
		st.input.Prompt = st.asks[0].text + " [y/N]: "
	} else if st.remote != nil {
		st.input.Prompt = fmt.Sprintf("%s:%s> ", st.remote.server.Name, st.remote.browser.Cwd())
	} else {
		st.input.Prompt = "sshdeck> "
	}
	return tea.Batch(cmds...)
}

func (st *shellState) finished() bool {
	if !st.quit && !st.eof {
		return false
	}
	return st.pending == 0 && len(st.asks) == 0 && !st.printing && len(st.queued) == 0
}

// wantsLine reports whether scripted input should be read now. A line is
// read only once background work is done, unless a question is waiting.
func (st *shellState) wantsLine() bool {
	if st.interactive || st.reading || st.eof {
		return false
	}
	if len(st.asks) > 0 {
		return true
	}
	return !st.quit && st.pending == 0
}

func (st *shellState) readLine() tea.Msg {
	line, err := st.a.prompt.line()
	if err != nil {
		return eofMsg{}
	}
	return lineMsg(line)
}

// flush hands held output to the terminal. Without a renderer it is written
// straight through; otherwise it is printed above the prompt in order.
func (st *shellState) flush() tea.Cmd {
	if st.held.Len() == 0 {
		return nil
	}
	if !st.interactive {
		st.held.WriteTo(st.w)
		return nil
	}
	st.queued = append(st.queued, strings.TrimSuffix(st.held.String(), "\n"))
	st.held.Reset()
	return st.printNext()
}

func (st *shellState) printNext() tea.Cmd {
	if st.printing || len(st.queued) == 0 {
		return nil
	}
	text := st.queued[0]
	st.queued = st.queued[1:]
	st.printing = true
	return tea.Sequence(tea.Println(text), func() tea.Msg { return printedMsg{} })
}

// spawn runs work as a command and applies its result on the model.
func (st *shellState) spawn(work func(ctx context.Context) func(*shellState) tea.Cmd) tea.Cmd {
	st.pending++
	ctx := st.ctx
	return func() tea.Msg {
		return doneMsg(work(ctx))
	}
}

// after applies fn once d has passed.
func (st *shellState) after(d time.Duration, fn func(*shellState) tea.Cmd) tea.Cmd {
	st.pending++
	return tea.Tick(d, func(time.Time) tea.Msg {
		return doneMsg(fn)
	})
}

// ask queues a yes/no question. Questions are answered in order by the next
// input lines; at end of input they are declined.
func (st *shellState) ask(text string, answer func(st *shellState, yes bool) tea.Cmd) tea.Cmd {
	st.asks = append(st.asks, &question{text: text, answer: answer})
	if len(st.asks) > 1 {
		return nil
	}
	return st.showQuestion()
}

func (st *shellState) showQuestion() tea.Cmd {
	if len(st.asks) == 0 {
		return nil
	}
	if !st.interactive || st.eof {
		fmt.Fprintf(&st.held, "%s [y/N]: ", st.asks[0].text)
	}
	if st.eof {
		fmt.Fprintln(&st.held)
		return st.answer(false)
	}
	return nil
}

func (st *shellState) answer(yes bool) tea.Cmd {
	q := st.asks[0]
	st.asks = st.asks[1:]
	cmd := q.answer(st, yes)
	return tea.Batch(cmd, st.showQuestion())
}

// asker returns an overwrite check usable from a worker: the question is
// posted to the model and the worker waits for the answer.
func (st *shellState) asker() core.OverwriteFunc {
	send, done := st.send, st.done
	return func(name string) bool {
		reply := make(chan bool, 1)
		send(askMsg{question: fmt.Sprintf("File %s exists. Overwrite?", name), reply: reply})
		select {
		case ok := <-reply:
			return ok
		case <-done:
			return false
		}
	}
}

// stopWatch halts the watcher without waiting: a poll in flight may be
// blocked sending to the program that is calling this.
func (st *shellState) stopWatch() {
	if st.runner == nil {
		return
	}
	go st.runner.Stop()
	st.runner = nil
}

type shellCommand struct {
	usage  string
	help   string
	remote bool
	run    func(st *shellState, args []string, rest string) tea.Cmd
}

var shellCommands map[string]shellCommand

func init() {
	shellCommands = map[string]shellCommand{
		"help":       {"help", "show this list", false, (*shellState).cmdHelp},
		"servers":    {"servers", "list stored servers", false, (*shellState).cmdServers},
		"connect":    {"connect <server>", "open a connection", false, (*shellState).cmdConnect},
		"disconnect": {"disconnect", "close the connection", false, (*shellState).cmdDisconnect},
		"status":     {"status", "show the connection state", false, (*shellState).cmdStatus},
		"pwd":        {"pwd", "print the remote directory", true, (*shellState).cmdPwd},
		"cd":         {"cd <dir>", "change the remote directory", true, (*shellState).cmdCd},
		"ls":         {"ls [dir]", "list a remote directory", true, (*shellState).cmdLs},
		"get":        {"get <remote> [local]", "download a file", true, (*shellState).cmdGet},
		"put":        {"put <local> [dir]", "upload a file", true, (*shellState).cmdPut},
		"chmod":      {"chmod <mode> <path>", "change permissions", true, (*shellState).cmdChmod},
		"chown":      {"chown <owner[:group]> <path>", "change ownership", true, (*shellState).cmdChown},
		"rm":         {"rm <path>", "delete a remote file", true, (*shellState).cmdRm},
		"open":       {"open <file>", "load a remote text file", true, (*shellState).cmdOpen},
		"show":       {"show", "print the open file", false, (*shellState).cmdShow},
		"find":       {"find <text>", "next match in the open file", false, (*shellState).cmdFind},
		"edit":       {"edit", "edit the open file in $EDITOR", false, (*shellState).cmdEdit},
		"save":       {"save", "write the open file back", true, (*shellState).cmdSave},
		"close":      {"close[!]", "close the open file", false, (*shellState).cmdClose},
		"close!":     {"", "", false, (*shellState).cmdDiscard},
		"svc":        {"svc start|stop|restart|status <unit>", "control a service", true, (*shellState).cmdSvc},
		"logs":       {"logs <unit> [lines] | logs find <text>", "show or search a journal", true, (*shellState).cmdLogs},
		"poll":       {"poll [unit...]", "show service states", true, (*shellState).cmdPoll},
		"services":   {"services [add|rm <unit>...]", "favourite services", true, (*shellState).cmdServices},
		"watch":      {"watch on|off", "report service state changes", true, (*shellState).cmdWatch},
		"json":       {"json [text]", "pretty-print JSON from text or the open file", false, (*shellState).cmdJSON},
		"history":    {"history", "recent transfers", true, (*shellState).cmdHistory},
		"quit":       {"quit", "leave the shell", false, (*shellState).cmdQuit},
		"exit":       {"", "", false, (*shellState).cmdQuit},
	}
}

func (st *shellState) dispatch(line string) tea.Cmd {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	c, ok := shellCommands[name]
	if !ok {
		st.a.out.Error("unknown command %q; type help", name)
		return nil
	}
	if c.remote && st.remote == nil {
		st.a.out.Error("%v", core.ErrNotConnected)
		return nil
	}
	return c.run(st, strings.Fields(rest), rest)
}

func (st *shellState) cmdHelp(_ []string, _ string) tea.Cmd {
	names := make([]string, 0, len(shellCommands))
	for n, c := range shellCommands {
		if c.usage != "" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for _, n := range names {
		c := shellCommands[n]
		fmt.Fprintf(st.a.stdout(), "  %-40s %s\n", c.usage, c.help)
	}
	return nil
}

func (st *shellState) cmdServers(_ []string, _ string) tea.Cmd {
	st.a.out.Servers(st.a.records())
	return nil
}

func (st *shellState) cmdQuit(_ []string, _ string) tea.Cmd {
	st.quit = true
	return nil
}

func (st *shellState) cmdStatus(_ []string, _ string) tea.Cmd {
	switch {
	case st.dialing:
		st.a.out.Info("connecting")
	case st.remote != nil && st.session.IsConnected():
		t := st.session.Target()
		st.a.out.Info("connected to %s (%s@%s)", st.remote.server.Name, t.Username, t.Addr())
	default:
		st.a.out.Info("not connected")
	}
	if st.remote != nil && st.remote.transfers.Busy() {
		st.a.out.Info("transfer in progress")
	}
	if st.pending > 0 {
		st.a.out.Info("%d background tasks", st.pending)
	}
	return nil
}

func (st *shellState) cmdConnect(args []string, _ string) tea.Cmd {
	if len(args) != 1 {
		st.a.out.Error("usage: connect <server>")
		return nil
	}
	return st.connect(args[0])
}

func (st *shellState) connect(name string) tea.Cmd {
	if st.dialing || st.session.IsConnected() {
		st.a.out.Warn("%v", core.ErrAlreadyConnected)
		return nil
	}
	rec, err := st.a.record(name)
	if err != nil {
		st.a.out.Error("%v", err)
		return nil
	}
	st.dialing = true
	st.a.out.Info("connecting to %s (%s)...", rec.Name, core.TargetFor(rec).Addr())
	a, session := st.a, st.session
	return st.spawn(func(ctx context.Context) func(*shellState) tea.Cmd {
		r, err := a.open(ctx, rec, session)
		return func(st *shellState) tea.Cmd {
			st.dialing = false
			if err != nil {
				st.a.out.Error("%v", err)
				return nil
			}
			st.remote = r
			st.a.out.Success("Connected to %s", rec.Name)
			return st.watchDrop(r)
		}
	})
}

// watchDrop waits for the connection to close underneath the shell.
func (st *shellState) watchDrop(r *remote) tea.Cmd {
	lost, done := r.session.Done(), st.done
	return func() tea.Msg {
		select {
		case <-lost:
		case <-done:
			return nil
		}
		return eventMsg(func(st *shellState) tea.Cmd {
			if st.remote != r {
				return nil
			}
			st.remote = nil
			st.stopWatch()
			_ = st.session.Disconnect()
			st.a.out.Warn("connection to %s lost", r.server.Name)
			return nil
		})
	}
}

func (st *shellState) cmdDisconnect(_ []string, _ string) tea.Cmd {
	if st.remote == nil {
		st.a.out.Info("not connected")
		return nil
	}
	st.stopWatch()
	name := st.remote.server.Name
	st.remote = nil
	if err := st.session.Disconnect(); err != nil {
		st.a.out.Error("%v", err)
		return nil
	}
	st.a.out.Info("disconnected from %s", name)
	return nil
}

func (st *shellState) cmdPwd(_ []string, _ string) tea.Cmd {
	st.a.out.Plain(st.remote.browser.Cwd())
	return nil
}

func (st *shellState) cmdCd(args []string, _ string) tea.Cmd {
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	}
	b := st.remote.browser
	from := b.Cwd()
	return st.spawn(func(ctx context.Context) func(*shellState) tea.Cmd {
		target := dir
		if target == "" {
			home, err := b.Home(ctx)
			if err != nil {
				return func(st *shellState) tea.Cmd {
					st.a.out.Error("%v", err)
					return nil
				}
			}
			target = home
		}
		err := b.Chdir(ctx, target)
		return func(st *shellState) tea.Cmd {
			if err != nil {
				st.a.out.Error("%v", err)
				return nil
			}
			st.moved(from, b.Cwd())
			return nil
		}
	})
}

// moved drops the open file when the shell navigates to another directory.
func (st *shellState) moved(from, to string) {
	if from == to || st.buf == nil {
		return
	}
	if st.buf.Dirty() {
		st.a.out.Warn("unsaved changes to %s discarded", st.buf.Path)
	} else {
		st.a.out.Info("closed %s", st.buf.Path)
	}
	st.buf = nil
}

func (st *shellState) cmdLs(args []string, _ string) tea.Cmd {
	b := st.remote.browser
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	}
	dir = b.Resolve(dir)
	from := b.Cwd()
	return st.spawn(func(ctx context.Context) func(*shellState) tea.Cmd {
		entries, err := b.List(ctx, dir)
		return func(st *shellState) tea.Cmd {
			if err != nil {
				st.a.out.Error("%v", err)
				return nil
			}
			st.a.out.Listing(dir, entries)
			st.moved(from, dir)
			return nil
		}
	})
}

// transfer starts fn on the session's transfer slot, refusing when busy.
func (st *shellState) transfer(fn func(ctx context.Context) (*core.TransferResult, error)) tea.Cmd {
	r := st.remote
	if r.transfers.Busy() {
		st.a.out.Warn("%v", core.ErrBusy)
		return nil
	}
	outcome := r.transfers.Go(st.ctx, fn)
	return st.spawn(func(context.Context) func(*shellState) tea.Cmd {
		o := <-outcome
		return func(st *shellState) tea.Cmd {
			if err := st.a.reportTransfer(r.server.Name, o.Result, o.Err); err != nil {
				st.a.out.Error("%v", err)
			}
			return nil
		}
	})
}

func (st *shellState) cmdGet(args []string, _ string) tea.Cmd {
	if len(args) < 1 || len(args) > 2 {
		st.a.out.Error("usage: get <remote> [local]")
		return nil
	}
	local := "."
	if len(args) == 2 {
		local = args[1]
	}
	local, err := filepath.Abs(local)
	if err != nil {
		st.a.out.Error("%v", err)
		return nil
	}
	r := st.remote
	src := r.browser.Resolve(args[0])
	ask := st.asker()
	return st.transfer(func(ctx context.Context) (*core.TransferResult, error) {
		return r.transfers.Download(ctx, src, local, ask)
	})
}

func (st *shellState) cmdPut(args []string, _ string) tea.Cmd {
	if len(args) < 1 || len(args) > 2 {
		st.a.out.Error("usage: put <local> [dir]")
		return nil
	}
	local, err := filepath.Abs(args[0])
	if err != nil {
		st.a.out.Error("%v", err)
		return nil
	}
	r := st.remote
	dir := ""
	if len(args) == 2 {
		dir = args[1]
	}
	dest := r.browser.Resolve(dir)
	ask := st.asker()
	return st.transfer(func(ctx context.Context) (*core.TransferResult, error) {
		return r.transfers.Upload(ctx, local, dest, ask)
	})
}

// background runs a remote action and prints msg or its error.
func (st *shellState) background(action func(ctx context.Context) error, msg string) tea.Cmd {
	return st.spawn(func(ctx context.Context) func(*shellState) tea.Cmd {
		err := action(ctx)
		return func(st *shellState) tea.Cmd {
			if err != nil {
				st.a.out.Error("%v", err)
				return nil
			}
			st.a.out.Success("%s", msg)
			return nil
		}
	})
}

func (st *shellState) cmdChmod(args []string, _ string) tea.Cmd {
	if len(args) != 2 {
		st.a.out.Error("usage: chmod <mode> <path>")
		return nil
	}
	perm, err := core.ParsePerm(args[0])
	if err != nil {
		st.a.out.Error("%v", err)
		return nil
	}
	b := st.remote.browser
	p := b.Resolve(args[1])
	return st.background(func(ctx context.Context) error { return b.Chmod(ctx, p, perm) },
		fmt.Sprintf("Permissions of %s set to %s", p, core.FormatPerms(perm, false)[1:]))
}

func (st *shellState) cmdChown(args []string, _ string) tea.Cmd {
	if len(args) != 2 {
		st.a.out.Error("usage: chown <owner[:group]> <path>")
		return nil
	}
	owner, group, _ := strings.Cut(args[0], ":")
	b := st.remote.browser
	p := b.Resolve(args[1])
	return st.background(func(ctx context.Context) error { return b.Chown(ctx, p, owner, group) },
		fmt.Sprintf("Ownership of %s changed", p))
}

func (st *shellState) cmdRm(args []string, _ string) tea.Cmd {
	if len(args) != 1 {
		st.a.out.Error("usage: rm <path>")
		return nil
	}
	b := st.remote.browser
	p := b.Resolve(args[0])
	return st.ask(fmt.Sprintf("Delete %s?", p), func(st *shellState, yes bool) tea.Cmd {
		if !yes {
			st.a.out.Info("kept %s", p)
			return nil
		}
		return st.background(func(ctx context.Context) error { return b.Delete(ctx, p) }, "Deleted "+p)
	})
}

func (st *shellState) cmdOpen(args []string, _ string) tea.Cmd {
	if len(args) != 1 {
		st.a.out.Error("usage: open <file>")
		return nil
	}
	if st.buf != nil && st.buf.Dirty() {
		st.a.out.Warn("%s has unsaved changes; save or close! first", st.buf.Path)
		return nil
	}
	r := st.remote
	p := r.browser.Resolve(args[0])
	limit := st.a.cfg.Transfer.MaxOpenBytes
	return st.spawn(func(ctx context.Context) func(*shellState) tea.Cmd {
		fb, err := core.OpenFile(ctx, r.fs, p, limit)
		return func(st *shellState) tea.Cmd {
			if err != nil {
				st.a.out.Error("%v", err)
				return nil
			}
			st.buf, st.bufFind = fb, 0
			lines := strings.Count(fb.Content(), "\n")
			st.a.out.Info("opened %s (%d lines)", fb.Path, lines)
			return nil
		}
	})
}

func (st *shellState) openBuffer() bool {
	if st.buf == nil {
		st.a.out.Error("%v", core.ErrNoOpenFile)
		return false
	}
	return true
}

func (st *shellState) cmdShow(_ []string, _ string) tea.Cmd {
	if st.openBuffer() {
		st.a.out.Code(st.buf.Content(), filepath.Base(st.buf.Path))
	}
	return nil
}

// findIn moves *from past the next match of query in text and prints the
// matching line.
func (st *shellState) findIn(text, query string, from *int) {
	pos, ok := core.FindNext(text, query, *from)
	if !ok {
		st.a.out.Info("%q not found", query)
		return
	}
	*from = pos + 1
	n := strings.Count(text[:pos], "\n") + 1
	start := strings.LastIndex(text[:pos], "\n") + 1
	end := strings.IndexByte(text[pos:], '\n')
	line := text[start:]
	if end >= 0 {
		line = text[start : pos+end]
	}
	fmt.Fprintf(st.a.stdout(), "%d: %s\n", n, line)
}

func (st *shellState) cmdFind(_ []string, rest string) tea.Cmd {
	if !st.openBuffer() {
		return nil
	}
	if rest == "" {
		st.a.out.Error("usage: find <text>")
		return nil
	}
	st.findIn(st.buf.Content(), rest, &st.bufFind)
	return nil
}

// cmdEdit hands the terminal to $EDITOR. Without a terminal the editor runs
// as background work instead.
func (st *shellState) cmdEdit(_ []string, _ string) tea.Cmd {
	if !st.openBuffer() {
		return nil
	}
	ed, err := newEditSession(st.ctx, st.buf)
	if err != nil {
		st.a.out.Error("%v", err)
		return nil
	}
	st.pending++
	if st.interactive {
		return tea.ExecProcess(ed.cmd, func(err error) tea.Msg {
			return editedMsg{edit: ed, err: err}
		})
	}
	return func() tea.Msg {
		return editedMsg{edit: ed, err: ed.cmd.Run()}
	}
}

func (st *shellState) edited(msg editedMsg) tea.Cmd {
	fb := msg.edit.fb
	if err := msg.edit.finish(msg.err); err != nil {
		st.a.out.Error("%v", err)
		return nil
	}
	if fb.Dirty() {
		st.a.out.Info("%s modified; save to write it back", fb.Path)
	}
	return nil
}

func (st *shellState) cmdSave(_ []string, _ string) tea.Cmd {
	if !st.openBuffer() {
		return nil
	}
	fb := st.buf
	if !fb.Dirty() {
		st.a.out.Info("no changes to %s", fb.Path)
		return nil
	}
	return st.ask(fmt.Sprintf("Write %s back to %s?", fb.Path, st.remote.server.Name), func(st *shellState, yes bool) tea.Cmd {
		if !yes {
			st.a.out.Info("not saved")
			return nil
		}
		return st.background(fb.Save, "Saved "+fb.Path)
	})
}

func (st *shellState) cmdClose(_ []string, _ string) tea.Cmd {
	if !st.openBuffer() {
		return nil
	}
	if st.buf.Dirty() {
		st.a.out.Warn("%s has unsaved changes; use close! to discard", st.buf.Path)
		return nil
	}
	st.buf = nil
	return nil
}

func (st *shellState) cmdDiscard(_ []string, _ string) tea.Cmd {
	if st.openBuffer() {
		st.buf = nil
	}
	return nil
}

func (st *shellState) cmdSvc(args []string, _ string) tea.Cmd {
	if len(args) != 2 {
		st.a.out.Error("usage: svc start|stop|restart|status <unit>")
		return nil
	}
	action, svc := args[0], args[1]
	sc := st.remote.services

	switch action {
	case "status":
		return st.spawn(func(ctx context.Context) func(*shellState) tea.Cmd {
			text, err := sc.Status(ctx, svc)
			return func(st *shellState) tea.Cmd {
				if err != nil {
					st.a.out.Error("%v", err)
					return nil
				}
				st.a.out.Plain(text)
				return nil
			}
		})
	case "start", "stop", "restart":
	default:
		st.a.out.Error("unknown service action %q", action)
		return nil
	}

	cfg := st.a.cfg.Services
	return st.spawn(func(ctx context.Context) func(*shellState) tea.Cmd {
		res, err := serviceAction(action).run(ctx, sc, svc)
		return func(st *shellState) tea.Cmd {
			if res != nil {
				st.a.out.Plain(strings.TrimSpace(res.Text()))
			}
			if err != nil {
				st.a.out.Error("%v", err)
			} else {
				st.a.out.Success("%s sent to %s", action, svc)
			}
			return tea.Batch(
				st.after(cfg.RepollDelay.Duration, func(st *shellState) tea.Cmd {
					if st.remote == nil {
						return nil
					}
					return st.pollStates([]string{svc})
				}),
				st.after(cfg.LogsDelay.Duration, func(st *shellState) tea.Cmd {
					if st.remote != nil && st.logsSvc == svc {
						return st.fetchLogs(svc, cfg.LogLines)
					}
					return nil
				}),
			)
		}
	})
}

func (st *shellState) pollStates(units []string) tea.Cmd {
	sc := st.remote.services
	return st.spawn(func(ctx context.Context) func(*shellState) tea.Cmd {
		states := sc.PollAll(ctx, units)
		return func(st *shellState) tea.Cmd {
			st.a.out.ServiceStates(states)
			return nil
		}
	})
}

func (st *shellState) fetchLogs(svc string, n int) tea.Cmd {
	sc := st.remote.services
	return st.spawn(func(ctx context.Context) func(*shellState) tea.Cmd {
		text, err := sc.TailLogs(ctx, svc, n)
		return func(st *shellState) tea.Cmd {
			if err != nil {
				st.a.out.Error("%v", err)
				return nil
			}
			st.logs, st.logsSvc, st.logsFind = text, svc, 0
			st.a.out.Plain(text)
			return nil
		}
	})
}

func (st *shellState) cmdLogs(args []string, rest string) tea.Cmd {
	if len(args) == 0 {
		st.a.out.Error("usage: logs <unit> [lines] | logs find <text>")
		return nil
	}
	if args[0] == "find" {
		query := strings.TrimSpace(strings.TrimPrefix(rest, "find"))
		if st.logs == "" || query == "" {
			st.a.out.Error("usage: logs find <text> (after logs <unit>)")
			return nil
		}
		st.findIn(st.logs, query, &st.logsFind)
		return nil
	}
	n := st.a.cfg.Services.LogLines
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil || v <= 0 {
			st.a.out.Error("invalid line count %q", args[1])
			return nil
		}
		n = v
	}
	return st.fetchLogs(args[0], n)
}

func (st *shellState) cmdPoll(args []string, _ string) tea.Cmd {
	units := favourites(st.remote, args)
	if len(units) == 0 {
		st.a.out.Info("no favourite services")
		return nil
	}
	return st.pollStates(units)
}

func (st *shellState) cmdServices(args []string, _ string) tea.Cmd {
	name := st.remote.server.Name
	if len(args) >= 2 && (args[0] == "add" || args[0] == "rm") {
		current := st.a.store.GetServices(name)
		var next []string
		if args[0] == "add" {
			for _, u := range args[1:] {
				if err := core.ValidateUnit(u); err != nil {
					st.a.out.Error("%v", err)
					return nil
				}
			}
			next = append(current, args[1:]...)
		} else {
			drop := make(map[string]bool)
			for _, u := range args[1:] {
				drop[u] = true
			}
			for _, s := range current {
				if !drop[s] {
					next = append(next, s)
				}
			}
		}
		if err := st.a.store.SetServices(name, next); err != nil {
			st.a.out.Error("%v", err)
			return nil
		}
		st.remote.server.Services = st.a.store.GetServices(name)
	}
	st.a.out.Plain(strings.Join(st.remote.server.Services, "\n"))
	return nil
}

func (st *shellState) cmdWatch(args []string, _ string) tea.Cmd {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		st.a.out.Error("usage: watch on|off")
		return nil
	}
	if args[0] == "off" {
		if st.runner != nil {
			st.stopWatch()
			st.a.out.Info("watch stopped")
		}
		return nil
	}
	if st.runner != nil {
		st.a.out.Info("already watching")
		return nil
	}

	r := st.remote
	name := r.server.Name
	store, send := st.a.store, st.send
	runner := core.NewRunner(r.services,
		func() []string { return store.GetServices(name) },
		func(_ []core.ServiceState, changes []core.Transition) {
			if len(changes) == 0 {
				return
			}
			send(eventMsg(func(st *shellState) tea.Cmd {
				st.a.out.Transitions(changes)
				return nil
			}))
		})
	if err := runner.Start(st.ctx, st.a.cfg.Services.WatchSchedule); err != nil {
		st.a.out.Error("invalid schedule: %v", err)
		return nil
	}
	st.runner = runner
	st.a.out.Info("watching %s (%s)", name, st.a.cfg.Services.WatchSchedule)
	return nil
}

func (st *shellState) cmdJSON(_ []string, rest string) tea.Cmd {
	text := rest
	if text == "" {
		if !st.openBuffer() {
			return nil
		}
		text = st.buf.Content()
	}
	doc, err := jsonview.Extract(text)
	if err != nil {
		st.a.out.Error("%v", err)
		return nil
	}
	pretty, err := doc.Pretty(2)
	if err != nil {
		st.a.out.Error("%v", err)
		return nil
	}
	st.a.out.Code(pretty, "json")
	return nil
}

func (st *shellState) cmdHistory(_ []string, _ string) tea.Cmd {
	st.a.out.History(st.a.history.Recent(st.remote.server.Name, 20))
	return nil
}
