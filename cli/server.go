package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"sshdeck/core"
	"sshdeck/logging"
)

func newServerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"servers"},
		Short:   "Manage stored servers",
	}
	cmd.AddCommand(
		newServerAddCmd(a, "add"),
		newServerAddCmd(a, "edit"),
		newServerLsCmd(a),
		newServerShowCmd(a),
		newServerRmCmd(a),
		newServerRenameCmd(a),
		newServerExportCmd(a),
		newServerImportCmd(a),
		newServerResealCmd(a),
	)
	return cmd
}

type serverFlags struct {
	host          string
	user          string
	port          int
	passwordStdin bool
}

// newServerAddCmd builds both add and edit. Edit starts from the stored
// values; add starts blank. Missing values are prompted for.
func newServerAddCmd(a *app, use string) *cobra.Command {
	var f serverFlags
	short := "Add a server"
	if use == "edit" {
		short = "Edit a stored server"
	}
	cmd := &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Long: short + `.

Values not given as flags are asked for. With --password-stdin the
password is read from the first line of stdin.

Examples:
  sshdeck server ` + use + ` web1 --host 10.0.0.5 --user ops --port 22`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			cur := core.ServerRecord{Port: 22}
			if use == "edit" {
				rec, ok := a.store.Get(name)
				if !ok {
					return fmt.Errorf("%w: %s", core.ErrUnknownServer, name)
				}
				cur = rec
			}

			host, user, port := cur.Host, cur.Username, cur.Port
			var err error
			if cmd.Flags().Changed("host") {
				host = f.host
			} else if host, err = a.prompt.Ask("Host", host); err != nil {
				return err
			}
			if cmd.Flags().Changed("user") {
				user = f.user
			} else if user, err = a.prompt.Ask("Username", user); err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				port = f.port
			} else {
				s, err := a.prompt.Ask("Port", strconv.Itoa(port))
				if err != nil {
					return err
				}
				if port, err = strconv.Atoi(s); err != nil {
					return fmt.Errorf("%w: port must be a number between 1 and 65535", core.ErrInvalidServer)
				}
			}

			password := cur.Password
			if f.passwordStdin {
				if password, err = a.prompt.line(); err != nil {
					return fmt.Errorf("failed to read password from stdin: %w", err)
				}
			} else if password, err = a.prompt.Password("Password", cur.Password); err != nil {
				return err
			}

			if err := a.store.AddOrUpdate(name, host, user, password, port); err != nil {
				return err
			}
			logging.Info("server saved", logging.Server(name), logging.String("host", host))
			a.out.Success("Saved %s (%s@%s:%d)", name, strings.TrimSpace(user), strings.TrimSpace(host), port)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.host, "host", "", "Host name or IP address")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "Login user name")
	cmd.Flags().IntVarP(&f.port, "port", "p", 22, "SSH port")
	cmd.Flags().BoolVar(&f.passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func (a *app) records() []core.ServerRecord {
	names := a.store.ListNames()
	out := make([]core.ServerRecord, 0, len(names))
	for _, n := range names {
		if rec, ok := a.store.Get(n); ok {
			out = append(out, rec)
		}
	}
	return out
}

func newServerLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored servers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.out.Servers(a.records())
			return nil
		},
	}
}

func newServerShowCmd(a *app) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a stored server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.record(args[0])
			if err != nil {
				return err
			}
			password := strings.Repeat("*", 8)
			if reveal {
				password = rec.Password
			}
			w := a.stdout()
			fmt.Fprintf(w, "name:     %s\n", rec.Name)
			fmt.Fprintf(w, "host:     %s\n", rec.Host)
			fmt.Fprintf(w, "port:     %d\n", rec.Port)
			fmt.Fprintf(w, "username: %s\n", rec.Username)
			fmt.Fprintf(w, "password: %s\n", password)
			fmt.Fprintf(w, "services: %s\n", strings.Join(rec.Services, ", "))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "show-password", false, "Print the password in clear text")
	return cmd
}

func newServerRmCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"delete"},
		Short:   "Delete a stored server",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if _, ok := a.store.Get(name); !ok {
				a.out.Warn("no server named %s", name)
				return nil
			}
			if !yes && !a.prompt.Confirm(fmt.Sprintf("Delete server %s?", name)) {
				a.out.Info("kept %s", name)
				return nil
			}
			if err := a.store.Delete(name); err != nil {
				return err
			}
			a.history.Forget(name)
			if err := a.history.Save(); err != nil {
				logging.Warn("failed to save transfer history", logging.Err(err))
			}
			a.out.Success("Deleted %s", name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newServerRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a stored server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := strings.TrimSpace(args[1])
			if err := a.store.Rename(args[0], to); err != nil {
				return err
			}
			a.history.Rename(args[0], to)
			if err := a.history.Save(); err != nil {
				logging.Warn("failed to save transfer history", logging.Err(err))
			}
			a.out.Success("Renamed %s to %s", args[0], to)
			return nil
		},
	}
}

// inventory is the YAML exchange format for server lists.
type inventory struct {
	Servers []inventoryServer `yaml:"servers"`
}

type inventoryServer struct {
	Name     string   `yaml:"name"`
	Host     string   `yaml:"host"`
	User     string   `yaml:"user"`
	Port     int      `yaml:"port,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Services []string `yaml:"services,omitempty"`
}

func newServerExportCmd(a *app) *cobra.Command {
	var withPasswords bool
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export stored servers as YAML",
		Long: `Export stored servers as a YAML inventory, to a file or stdout.

Passwords are left out unless --with-passwords is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv := inventory{}
			for _, rec := range a.records() {
				s := inventoryServer{
					Name:     rec.Name,
					Host:     rec.Host,
					User:     rec.Username,
					Port:     rec.Port,
					Services: rec.Services,
				}
				if withPasswords {
					s.Password = rec.Password
				}
				inv.Servers = append(inv.Servers, s)
			}
			data, err := yaml.Marshal(&inv)
			if err != nil {
				return fmt.Errorf("failed to encode inventory: %w", err)
			}
			if len(args) == 0 {
				_, err = a.stdout().Write(data)
				return err
			}
			if err := os.WriteFile(args[0], data, 0o600); err != nil {
				return fmt.Errorf("failed to write inventory: %w", err)
			}
			a.out.Success("Exported %d servers to %s", len(inv.Servers), args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&withPasswords, "with-passwords", false, "Include clear text passwords")
	return cmd
}

func newServerImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Import servers from a YAML inventory",
		Long: `Import servers from a YAML inventory ("-" reads stdin).

Entries without a password keep the stored password of an existing
server of the same name and are skipped otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read inventory: %w", err)
			}
			var inv inventory
			if err := yaml.Unmarshal(data, &inv); err != nil {
				return fmt.Errorf("failed to parse inventory: %w", err)
			}

			imported := 0
			for _, s := range inv.Servers {
				if s.Port == 0 {
					s.Port = 22
				}
				password := s.Password
				if password == "" {
					if rec, ok := a.store.Get(s.Name); ok {
						password = rec.Password
					}
				}
				if password == "" {
					a.out.Warn("skipping %s: no password", s.Name)
					continue
				}
				if err := a.store.AddOrUpdate(s.Name, s.Host, s.User, password, s.Port); err != nil {
					a.out.Warn("skipping %s: %v", s.Name, err)
					continue
				}
				if len(s.Services) > 0 {
					if err := a.store.SetServices(strings.TrimSpace(s.Name), s.Services); err != nil {
						return err
					}
				}
				imported++
			}
			a.out.Success("Imported %d of %d servers", imported, len(inv.Servers))
			return nil
		},
	}
}

func newServerResealCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reseal",
		Short: "Encrypt clear text passwords left in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.store.Reseal()
			if err != nil {
				return err
			}
			a.out.Success("Resealed %d passwords", n)
			return nil
		},
	}
}

func newServicesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Manage the favourite services of a server",
		Long: `Manage the favourite services of the server selected with --server.

Examples:
  sshdeck -s web1 services add nginx redis
  sshdeck -s web1 services ls`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List favourite services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.record("")
			if err != nil {
				return err
			}
			for _, s := range rec.Services {
				a.out.Plain(s)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <unit>...",
		Short: "Add favourite services",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.record("")
			if err != nil {
				return err
			}
			for _, u := range args {
				if err := core.ValidateUnit(strings.TrimSpace(u)); err != nil {
					return err
				}
			}
			if err := a.store.SetServices(rec.Name, append(rec.Services, args...)); err != nil {
				return err
			}
			a.out.Success("Services of %s: %s", rec.Name, strings.Join(a.store.GetServices(rec.Name), ", "))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <unit>...",
		Short: "Remove favourite services",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.record("")
			if err != nil {
				return err
			}
			drop := make(map[string]bool, len(args))
			for _, u := range args {
				drop[strings.TrimSpace(u)] = true
			}
			var keep []string
			for _, s := range rec.Services {
				if !drop[s] {
					keep = append(keep, s)
				}
			}
			if err := a.store.SetServices(rec.Name, keep); err != nil {
				return err
			}
			a.out.Success("Services of %s: %s", rec.Name, strings.Join(a.store.GetServices(rec.Name), ", "))
			return nil
		},
	})
	return cmd
}
