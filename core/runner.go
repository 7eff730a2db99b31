package core

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"sshdeck/logging"
)

const DefaultWatchSchedule = "@every 30s"

// Transition is a change in a service's active state between two polls.
type Transition struct {
	Service string
	From    string
	To      string
	At      time.Time
}

// PollFunc receives the states of one poll and the transitions since the
// previous one. The first poll reports no transitions.
type PollFunc func(states []ServiceState, changes []Transition)

// Runner polls the favourite services on a cron schedule.
type Runner struct {
	Cron       *cron.Cron
	controller *ServiceController
	services   func() []string
	notify     PollFunc

	mu   sync.Mutex
	ctx  context.Context
	last map[string]string
}

func NewRunner(sc *ServiceController, services func() []string, notify PollFunc) *Runner {
	logger := cron.PrintfLogger(zap.NewStdLog(logging.L()))
	return &Runner{
		Cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(logger)), cron.WithLogger(logger)),
		controller: sc,
		services:   services,
		notify:     notify,
		ctx:        context.Background(),
	}
}

// Start schedules the poll and runs one immediately in the background.
func (r *Runner) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultWatchSchedule
	}
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	if _, err := r.Cron.AddFunc(schedule, func() { r.Poll(r.context()) }); err != nil {
		return err
	}
	logging.Info("watching services", logging.String("schedule", schedule))

	go r.Poll(ctx)
	r.Cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running poll to finish.
func (r *Runner) Stop() {
	<-r.Cron.Stop().Done()
}

func (r *Runner) context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

// Poll queries every service once and reports transitions.
func (r *Runner) Poll(ctx context.Context) ([]ServiceState, []Transition) {
	if ctx.Err() != nil {
		return nil, nil
	}
	states := r.controller.PollAll(ctx, r.services())
	now := time.Now()

	r.mu.Lock()
	first := r.last == nil
	if first {
		r.last = make(map[string]string, len(states))
	}
	var changes []Transition
	for _, st := range states {
		prev, seen := r.last[st.Name]
		if !first && seen && prev != st.State {
			changes = append(changes, Transition{Service: st.Name, From: prev, To: st.State, At: now})
		}
		r.last[st.Name] = st.State
	}
	r.mu.Unlock()

	for _, c := range changes {
		logging.Info("service state changed",
			logging.String("service", c.Service),
			logging.String("from", c.From),
			logging.String("to", c.To))
	}
	if r.notify != nil {
		r.notify(states, changes)
	}
	return states, changes
}
