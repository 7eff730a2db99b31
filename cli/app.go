package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"sshdeck/config"
	"sshdeck/core"
	"sshdeck/logging"
	"sshdeck/output"
	"sshdeck/protocols"
	"sshdeck/secrets"
)

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	serverName string
	noColor    bool
	debug      bool

	cfg     *config.Config
	store   *core.CredentialStore
	history *core.HistoryManager
	out     *output.Output
	prompt  *prompter
}

// init loads config, logging, the sealer and the credential store.
func (a *app) init(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if a.debug {
		level = "debug"
	}
	if err := logging.Init(logging.Config{Level: level, Format: cfg.Log.Format, OutputPath: cfg.Log.Output}); err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}

	a.out = output.New(cmd.OutOrStdout())
	a.out.SetColor(!a.noColor)
	a.prompt = newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())

	sealer, err := a.sealer()
	if err != nil {
		return err
	}
	a.store = core.NewCredentialStore(cfg.Store.Path, sealer)
	if err := a.store.Load(); err != nil {
		// The store is now empty; report it and keep going.
		var perr *core.PersistenceError
		if !errors.As(err, &perr) {
			return err
		}
		a.out.Error("%v", err)
	}

	a.history = core.NewHistoryManager(filepath.Join(filepath.Dir(cfg.Store.Path), "history.json"))
	if err := a.history.Load(); err != nil {
		logging.Warn("failed to load transfer history", logging.Err(err))
	}
	return nil
}

func (a *app) sealer() (secrets.Sealer, error) {
	if a.cfg.Secrets.Mode == config.SecretsPlaintext {
		logging.Warn("passwords are stored in clear text (secrets.mode = plaintext)")
		return secrets.Plaintext{}, nil
	}
	s, created, err := secrets.LoadOrCreate(a.cfg.Secrets.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load age identity: %w", err)
	}
	if created {
		logging.Info("created age identity", logging.Path(a.cfg.Secrets.IdentityFile))
	}
	return s, nil
}

func (a *app) record(name string) (core.ServerRecord, error) {
	if name == "" {
		name = a.serverName
	}
	if name == "" {
		return core.ServerRecord{}, errors.New("no server selected; pass --server <name>")
	}
	rec, ok := a.store.Get(name)
	if !ok {
		return core.ServerRecord{}, fmt.Errorf("%w: %s", core.ErrUnknownServer, name)
	}
	return rec, nil
}

// remote bundles a live session with the components built on it.
type remote struct {
	server    core.ServerRecord
	session   *core.Session
	fs        *protocols.SFTPFileSystem
	browser   *core.Browser
	services  *core.ServiceController
	transfers *core.Transfers
}

func (r *remote) close() {
	if r == nil || r.session == nil {
		return
	}
	if err := r.session.Disconnect(); err != nil {
		logging.Debug("disconnect failed", logging.Err(err))
	}
}

// connect opens a session to the named server (or --server).
func (a *app) connect(ctx context.Context, name string) (*remote, error) {
	rec, err := a.record(name)
	if err != nil {
		return nil, err
	}
	return a.open(ctx, rec, core.NewSession())
}

// open connects session to rec, builds the SFTP-backed components and
// starts in the login directory.
func (a *app) open(ctx context.Context, rec core.ServerRecord, session *core.Session) (*remote, error) {
	if err := session.Connect(ctx, core.TargetFor(rec), a.cfg.SSH.ConnectTimeout.Duration); err != nil {
		return nil, err
	}
	fs, err := session.FileSystem()
	if err != nil {
		_ = session.Disconnect()
		return nil, err
	}
	browser := core.NewBrowser(fs, session)
	browser.Owners = core.NewOwnerCache(session, a.cfg.SSH.CommandTimeout.Duration)
	r := &remote{
		server:    rec,
		session:   session,
		fs:        fs,
		browser:   browser,
		services:  core.NewServiceController(session, a.cfg.SSH.CommandTimeout.Duration),
		transfers: core.NewTransfers(fs, nil),
	}

	home, err := browser.Home(ctx)
	if err != nil {
		logging.Warn("cannot resolve home directory", logging.Err(err))
		return r, nil
	}
	if err := browser.Chdir(ctx, home); err != nil {
		logging.Debug("cannot enter home directory", logging.Err(err))
	}
	return r, nil
}

func (a *app) saveHistory(server string, res *core.TransferResult) {
	a.history.Record(server, res)
	if err := a.history.Save(); err != nil {
		logging.Warn("failed to save transfer history", logging.Err(err))
	}
}

func (a *app) stdout() io.Writer {
	return a.out.Writer()
}
