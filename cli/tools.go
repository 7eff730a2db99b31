package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"sshdeck/config"
	"sshdeck/core"
	"sshdeck/jsonview"
	"sshdeck/textdiff"
)

// readInput reads a local file, or stdin for "-".
func readInput(cmd *cobra.Command, name string) (string, error) {
	var data []byte
	var err error
	if name == "-" || name == "" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func newJSONCmd(a *app) *cobra.Command {
	var (
		indent int
		find   string
		tree   bool
	)
	cmd := &cobra.Command{
		Use:   "json [file|-]",
		Short: "Pretty-print JSON found in text",
		Long: `Find the first JSON object or array in a file or stdin and print it.

The text may be a log line, an escaped or quoted payload, or JSON with
comments and trailing commas.

Examples:
  journalctl -u api -n 1 | sshdeck json
  sshdeck json response.txt --find user_id
  sshdeck json config.jsonc --tree`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "-"
			if len(args) > 0 {
				name = args[0]
			}
			text, err := readInput(cmd, name)
			if err != nil {
				return err
			}
			doc, err := jsonview.Extract(text)
			if err != nil {
				return err
			}
			switch {
			case find != "":
				a.out.JSONMatches(doc.Find(find))
			case tree:
				a.out.JSONTree(doc)
			default:
				pretty, err := doc.Pretty(indent)
				if err != nil {
					return err
				}
				a.out.Code(pretty, "json")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&indent, "indent", 2, "Indent width")
	cmd.Flags().StringVar(&find, "find", "", "List keys and values containing this text")
	cmd.Flags().BoolVar(&tree, "tree", false, "Print a key/value tree")
	return cmd
}

// diffSource reads one side of a diff. A leading ":" names a file on the
// --server host.
func (a *app) diffSource(cmd *cobra.Command, r **remote, name string) (string, error) {
	remotePath, isRemote := strings.CutPrefix(name, ":")
	if !isRemote {
		return readInput(cmd, name)
	}
	ctx := cmd.Context()
	if *r == nil {
		conn, err := a.connect(ctx, "")
		if err != nil {
			return "", err
		}
		*r = conn
	}
	fb, err := core.OpenFile(ctx, (*r).fs, (*r).browser.Resolve(remotePath), a.cfg.Transfer.MaxOpenBytes)
	if err != nil {
		return "", err
	}
	return fb.Content(), nil
}

func newDiffCmd(a *app) *cobra.Command {
	var (
		contextLines int
		side         bool
	)
	cmd := &cobra.Command{
		Use:   "diff <left> <right>",
		Short: "Compare two text files",
		Long: `Compare two text files line by line. A path starting with ":" is read
from the server selected with --server; "-" reads stdin.

Examples:
  sshdeck diff a.conf b.conf
  sshdeck -s web1 diff nginx.conf :/etc/nginx/nginx.conf
  sshdeck -s web1 diff :/etc/hosts :/etc/hosts.bak --side`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r *remote
			defer func() { r.close() }()

			left, err := a.diffSource(cmd, &r, args[0])
			if err != nil {
				return err
			}
			right, err := a.diffSource(cmd, &r, args[1])
			if err != nil {
				return err
			}

			if side {
				res := textdiff.Lines(left, right)
				if res.Equal() {
					a.out.Diff("")
					return nil
				}
				a.out.Heading(args[0])
				a.out.Numbered(left, res.Removed, "-")
				a.out.Heading(args[1])
				a.out.Numbered(right, res.Added, "+")
				return nil
			}
			unified, err := textdiff.Unified(left, right, args[0], args[1], contextLines)
			if err != nil {
				return err
			}
			a.out.Diff(unified)
			return nil
		},
	}
	cmd.Flags().IntVarP(&contextLines, "context", "U", 3, "Lines of context")
	cmd.Flags().BoolVar(&side, "side", false, "Print both texts with changed lines marked")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [server]",
		Short: "Show recent transfers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.serverName
			if len(args) > 0 {
				name = args[0]
			}
			if name == "" {
				return errors.New("no server selected; pass a name or --server")
			}
			a.out.History(a.history.Recent(name, limit))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of transfers to show")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := toml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			a.out.Code(string(data), "toml")
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			a.out.Success("Wrote %s", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
