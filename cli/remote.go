package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sshdeck/core"
)

// withRemote runs fn against a fresh connection and closes it afterwards.
func (a *app) withRemote(cmd *cobra.Command, fn func(ctx context.Context, r *remote) error) error {
	ctx := cmd.Context()
	r, err := a.connect(ctx, "")
	if err != nil {
		return err
	}
	defer r.close()
	return fn(ctx, r)
}

func (a *app) overwrite(force bool) core.OverwriteFunc {
	if force {
		return func(string) bool { return true }
	}
	return func(name string) bool {
		return a.prompt.Confirm(fmt.Sprintf("File %s exists. Overwrite?", name))
	}
}

// reportTransfer prints a finished transfer and records it.
func (a *app) reportTransfer(server string, res *core.TransferResult, err error) error {
	var coll *core.CollisionError
	switch {
	case errors.Is(err, core.ErrDeclined):
		a.out.Info("transfer cancelled")
		return nil
	case errors.As(err, &coll):
		return err
	case err != nil:
		return fmt.Errorf("transfer failed: %w", err)
	}
	a.out.Transfer(res)
	a.saveHistory(server, res)
	return nil
}

func newLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [dir]",
		Short: "List a remote directory",
		Long: `List a remote directory with permissions, owners and sizes.
Relative paths start at the login directory.

Examples:
  sshdeck -s web1 ls
  sshdeck -s web1 ls /var/log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				dir := ""
				if len(args) > 0 {
					dir = args[0]
				}
				dir = r.browser.Resolve(dir)
				entries, err := r.browser.List(ctx, dir)
				if err != nil {
					return err
				}
				a.out.Listing(dir, entries)
				return nil
			})
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "get <remote-file> [local-path]",
		Short: "Download a file",
		Long: `Download a remote file. The local path defaults to the current
directory; an existing local directory receives the file under its
remote name.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				local := "."
				if len(args) > 1 {
					local = args[1]
				}
				local, err := filepath.Abs(local)
				if err != nil {
					return err
				}
				res, err := r.transfers.Download(ctx, r.browser.Resolve(args[0]), local, a.overwrite(force))
				return a.reportTransfer(r.server.Name, res, err)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite without asking")
	return cmd
}

func newPutCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "put <local-file> [remote-dir]",
		Short: "Upload a file",
		Long: `Upload a local file into a remote directory under its own name.
The remote directory defaults to the login directory.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				dir := ""
				if len(args) > 1 {
					dir = args[1]
				}
				res, err := r.transfers.Upload(ctx, local, r.browser.Resolve(dir), a.overwrite(force))
				return a.reportTransfer(r.server.Name, res, err)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite without asking")
	return cmd
}

// findLines returns the 1-based lines holding a match of query.
func findLines(text, query string) []int {
	if query == "" {
		return nil
	}
	var lines []int
	seen := map[int]bool{}
	from := 0
	for {
		pos, ok := core.FindNext(text, query, from)
		if !ok || pos < from {
			break
		}
		n := strings.Count(text[:pos], "\n") + 1
		if !seen[n] {
			seen[n] = true
			lines = append(lines, n)
		}
		from = pos + 1
	}
	return lines
}

func newCatCmd(a *app) *cobra.Command {
	var (
		number bool
		find   string
	)
	cmd := &cobra.Command{
		Use:   "cat <remote-file>",
		Short: "Print a remote text file",
		Long: `Print a remote text file with syntax highlighting.

With --find, lines containing the text (ignoring case) are marked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				fb, err := core.OpenFile(ctx, r.fs, r.browser.Resolve(args[0]), a.cfg.Transfer.MaxOpenBytes)
				if err != nil {
					return err
				}
				if number || find != "" {
					marked := findLines(fb.Content(), find)
					a.out.Numbered(fb.Content(), marked, ">")
					if find != "" && len(marked) == 0 {
						a.out.Info("%q not found", find)
					}
					return nil
				}
				a.out.Code(fb.Content(), path.Base(fb.Path))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&number, "number", "n", false, "Number lines")
	cmd.Flags().StringVar(&find, "find", "", "Mark lines containing this text")
	return cmd
}

func editorCommand() []string {
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return strings.Fields(v)
		}
	}
	return []string{"vi"}
}

// editSession stages an open file in a temporary copy for the local editor.
type editSession struct {
	fb     *core.FileBuffer
	tmp    string
	editor string
	cmd    *exec.Cmd
}

func newEditSession(ctx context.Context, fb *core.FileBuffer) (*editSession, error) {
	tmp, err := os.CreateTemp("", "sshdeck-*-"+path.Base(fb.Path))
	if err != nil {
		return nil, err
	}
	if _, err := tmp.WriteString(fb.Content()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}

	argv := append(editorCommand(), tmp.Name())
	ed := exec.CommandContext(ctx, argv[0], argv[1:]...)
	ed.Stdin = os.Stdin
	ed.Stdout = os.Stdout
	ed.Stderr = os.Stderr
	return &editSession{fb: fb, tmp: tmp.Name(), editor: argv[0], cmd: ed}, nil
}

// finish reads the edited copy back into the buffer and removes it.
func (e *editSession) finish(runErr error) error {
	defer os.Remove(e.tmp)
	if runErr != nil {
		return fmt.Errorf("editor %s: %w", e.editor, runErr)
	}
	data, err := os.ReadFile(e.tmp)
	if err != nil {
		return err
	}
	e.fb.SetContent(string(data))
	return nil
}

// editBuffer lets the local editor change fb through a temporary file.
func editBuffer(ctx context.Context, fb *core.FileBuffer) error {
	e, err := newEditSession(ctx, fb)
	if err != nil {
		return err
	}
	return e.finish(e.cmd.Run())
}

func newEditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <remote-file>",
		Short: "Edit a remote text file with $EDITOR",
		Long: `Open a remote text file in $VISUAL or $EDITOR (default vi) and
write it back when it changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				fb, err := core.OpenFile(ctx, r.fs, r.browser.Resolve(args[0]), a.cfg.Transfer.MaxOpenBytes)
				if err != nil {
					return err
				}
				if err := editBuffer(ctx, fb); err != nil {
					return err
				}
				if !fb.Dirty() {
					a.out.Info("no changes to %s", fb.Path)
					return nil
				}
				if !a.prompt.Confirm(fmt.Sprintf("Write %s back to %s?", fb.Path, r.server.Name)) {
					a.out.Info("not saved")
					return nil
				}
				if err := fb.Save(ctx); err != nil {
					return err
				}
				a.out.Success("Saved %s", fb.Path)
				return nil
			})
		},
	}
}

func newChmodCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chmod <mode> <remote-path>",
		Short: "Change permissions of a remote file",
		Long: `Change permissions of a remote file or directory. The mode is octal
(755) or symbolic (rwxr-xr-x).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := core.ParsePerm(args[0])
			if err != nil {
				return err
			}
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				p := r.browser.Resolve(args[1])
				if err := r.browser.Chmod(ctx, p, perm); err != nil {
					return err
				}
				a.out.Success("Permissions of %s set to %s", p, core.FormatPerms(perm, false)[1:])
				return nil
			})
		},
	}
}

func newChownCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chown <owner[:group]> <remote-path>",
		Short: "Change ownership of a remote file",
		Long: `Change ownership of a remote file or directory. Names or numeric ids
are accepted; ":group" changes only the group.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, group, _ := strings.Cut(args[0], ":")
			if strings.TrimSpace(owner) == "" && strings.TrimSpace(group) == "" {
				return errors.New("owner or group is required")
			}
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				p := r.browser.Resolve(args[1])
				if err := r.browser.Chown(ctx, p, owner, group); err != nil {
					return err
				}
				a.out.Success("Ownership of %s changed", p)
				return nil
			})
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rm <remote-file>",
		Short: "Delete a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				p := r.browser.Resolve(args[0])
				if !yes && !a.prompt.Confirm(fmt.Sprintf("Delete %s?", p)) {
					a.out.Info("kept %s", p)
					return nil
				}
				if err := r.browser.Delete(ctx, p); err != nil {
					return err
				}
				a.out.Success("Deleted %s", p)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
