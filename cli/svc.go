package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"sshdeck/core"
)

func newSvcCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "svc",
		Short: "Control systemd services",
		Long: `Control systemd services on the server selected with --server.

Start, stop and restart go through "sudo -n" first and fall back to a
plain systemctl call.

Examples:
  sshdeck -s web1 svc status nginx
  sshdeck -s web1 svc restart nginx
  sshdeck -s web1 svc logs nginx -n 50
  sshdeck -s web1 svc poll`,
	}
	for _, action := range []string{"start", "stop", "restart"} {
		cmd.AddCommand(newSvcActionCmd(a, action))
	}
	cmd.AddCommand(newSvcStatusCmd(a), newSvcLogsCmd(a), newSvcPollCmd(a))
	return cmd
}

type serviceAction string

func (action serviceAction) run(ctx context.Context, c *core.ServiceController, svc string) (*core.CommandResult, error) {
	switch action {
	case "start":
		return c.Start(ctx, svc)
	case "stop":
		return c.Stop(ctx, svc)
	default:
		return c.Restart(ctx, svc)
	}
}

func newSvcActionCmd(a *app, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <unit>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := strings.TrimSpace(args[0])
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				res, err := serviceAction(action).run(ctx, r.services, svc)
				if res != nil {
					a.out.Plain(strings.TrimSpace(res.Text()))
				}
				if err != nil {
					return err
				}
				a.out.Success("%s sent to %s", action, svc)

				// Give systemd a moment before reading the new state.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(a.cfg.Services.RepollDelay.Duration):
				}
				a.out.ServiceStates([]core.ServiceState{{Name: svc, State: r.services.IsActive(ctx, svc)}})
				return nil
			})
		},
	}
}

func newSvcStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <unit>",
		Short: "Show systemctl status of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				text, err := r.services.Status(ctx, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				a.out.Plain(text)
				return nil
			})
		},
	}
}

func newSvcLogsCmd(a *app) *cobra.Command {
	var (
		lines  int
		find   string
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs <unit>",
		Short: "Show the journal of a service",
		Long: `Show the last journal lines of a service.

With --find, lines containing the text (ignoring case) are marked. With
--follow the journal is fetched again until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := strings.TrimSpace(args[0])
			if lines <= 0 {
				lines = a.cfg.Services.LogLines
			}
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				last := ""
				for {
					text, err := r.services.TailLogs(ctx, svc, lines)
					if err != nil {
						return err
					}
					if text != last {
						a.printLogs(text, last, find)
						last = text
					}
					if !follow {
						return nil
					}
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(a.cfg.Services.LogsDelay.Duration):
					}
				}
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 0, "Number of journal lines (default from config)")
	cmd.Flags().StringVar(&find, "find", "", "Mark lines containing this text")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep fetching new lines")
	return cmd
}

// printLogs prints text, skipping the lines already shown in prev.
func (a *app) printLogs(text, prev, find string) {
	if prev != "" {
		seen := make(map[string]bool)
		for _, l := range strings.Split(prev, "\n") {
			seen[l] = true
		}
		var fresh []string
		for _, l := range strings.Split(text, "\n") {
			if !seen[l] {
				fresh = append(fresh, l)
			}
		}
		text = strings.Join(fresh, "\n")
	}
	if strings.TrimSpace(text) == "" {
		return
	}
	if find == "" {
		a.out.Plain(text)
		return
	}
	a.out.Numbered(text, findLines(text, find), ">")
}

// favourites returns args, or the stored services of the server when empty.
func favourites(r *remote, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return r.server.Services
}

func newSvcPollCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "poll [unit...]",
		Short: "Show the active state of services",
		Long:  `Show the active state of the given services, or of the server's favourites.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				a.out.ServiceStates(r.services.PollAll(ctx, favourites(r, args)))
				return nil
			})
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "watch [unit...]",
		Short: "Report service state changes on a schedule",
		Long: `Poll services on a cron schedule and report every change of their
active state until interrupted.

Examples:
  sshdeck -s web1 watch
  sshdeck -s web1 watch nginx --schedule "@every 10s"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if schedule == "" {
				schedule = a.cfg.Services.WatchSchedule
			}
			return a.withRemote(cmd, func(ctx context.Context, r *remote) error {
				units := favourites(r, args)
				if len(units) == 0 {
					return fmt.Errorf("no services to watch; add favourites with: sshdeck -s %s services add <unit>", r.server.Name)
				}

				var mu sync.Mutex
				first := true
				runner := core.NewRunner(r.services, func() []string { return units },
					func(states []core.ServiceState, changes []core.Transition) {
						mu.Lock()
						defer mu.Unlock()
						if first {
							a.out.ServiceStates(states)
							first = false
						}
						a.out.Transitions(changes)
					})
				if err := runner.Start(ctx, schedule); err != nil {
					return fmt.Errorf("invalid schedule %q: %w", schedule, err)
				}
				defer runner.Stop()

				select {
				case <-ctx.Done():
				case <-r.session.Done():
					return fmt.Errorf("connection to %s lost", r.server.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron schedule (default from config)")
	return cmd
}
