// Package watchdog periodically scans agent health and escalates:
// log → nudge → AI triage → kill.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cellexec/overstory/internal/agent"
	"github.com/cellexec/overstory/internal/config"
	"github.com/cellexec/overstory/internal/events"
	"github.com/cellexec/overstory/internal/mail"
	"github.com/cellexec/overstory/internal/runner"
)

// Condition classifies an agent's health.
type Condition int

const (
	Healthy Condition = iota
	Stale             // no activity past the stale threshold
	Zombie            // session dead, or silent past the zombie threshold
)

func (c Condition) String() string {
	switch c {
	case Stale:
		return "stale"
	case Zombie:
		return "zombie"
	}
	return "healthy"
}

// TriageVerdict is the AI triage classification at escalation level 2.
type TriageVerdict string

const (
	VerdictRetry     TriageVerdict = "retry"
	VerdictTerminate TriageVerdict = "terminate"
	VerdictExtend    TriageVerdict = "extend"
)

// triageTimeout bounds the level-2 assistant call.
const triageTimeout = 2 * time.Minute

// triageLines is how much recent session output the triage prompt sees.
const triageLines = 50

// Sessions is the tmux surface the watchdog needs.
type Sessions interface {
	HasSession(name string) (bool, error)
	SendKeys(name, text string) error
	CapturePane(name string, lines int) (string, error)
}

// Lifecycle is the slice of the agent manager used for level-3 kills.
type Lifecycle interface {
	List() ([]*agent.Agent, error)
	Teardown(name string) error
}

// Watchdog scans every live agent on an interval and walks the
// escalation ladder when a condition persists.
type Watchdog struct {
	root    string
	cfg     config.WatchdogConfig
	agents  Lifecycle
	store   *mail.Store
	tmux    Sessions
	run     runner.Runner
	aiArgv  []string
	log     *slog.Logger
	timeNow func() time.Time

	// consecutive counts intervals each agent has been unhealthy.
	consecutive map[string]int
	// extended suppresses the ladder for agents triage marked "extend".
	extended map[string]bool
}

// New builds a watchdog. aiArgv is the one-shot assistant CLI for triage.
func New(root string, cfg config.WatchdogConfig, agents Lifecycle, store *mail.Store, t Sessions, r runner.Runner, aiArgv []string, log *slog.Logger) *Watchdog {
	return &Watchdog{
		root:        root,
		cfg:         cfg,
		agents:      agents,
		store:       store,
		tmux:        t,
		run:         r,
		aiArgv:      aiArgv,
		log:         log,
		timeNow:     time.Now,
		consecutive: make(map[string]int),
		extended:    make(map[string]bool),
	}
}

// SetClock overrides the time source (tests).
func (w *Watchdog) SetClock(now func() time.Time) {
	w.timeNow = now
}

// Run scans until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval())
	defer ticker.Stop()

	w.log.Info("watchdog started",
		"interval", w.cfg.Interval(),
		"stale_threshold", w.cfg.StaleThreshold(),
		"zombie_threshold", w.cfg.ZombieThreshold())

	for {
		w.Scan()
		select {
		case <-ctx.Done():
			w.log.Info("watchdog stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Scan runs one pass over all live agents. Exported so tests can drive
// it with a fake clock.
func (w *Watchdog) Scan() {
	agents, err := w.agents.List()
	if err != nil {
		w.log.Error("listing agents", "err", err)
		return
	}

	seen := make(map[string]bool, len(agents))
	for _, a := range agents {
		seen[a.Name] = true
		w.checkAgent(a)
	}

	// Forget counters for agents that no longer exist.
	for name := range w.consecutive {
		if !seen[name] {
			delete(w.consecutive, name)
			delete(w.extended, name)
		}
	}
}

// checkAgent classifies one agent and, if unhealthy, acts at the ladder
// level for how long the condition has persisted.
func (w *Watchdog) checkAgent(a *agent.Agent) {
	cond := w.classify(a)
	if cond == Healthy {
		w.consecutive[a.Name] = 0
		delete(w.extended, a.Name)
		return
	}

	w.consecutive[a.Name]++
	n := w.consecutive[a.Name]

	if w.extended[a.Name] {
		w.log.Debug("agent extended by triage", "agent", a.Name, "condition", cond.String())
		return
	}

	// Level advances every two consecutive unhealthy intervals:
	// scan 1 → 0 (log), 3 → 1 (nudge), 5 → 2 (triage), 7 → 3 (kill).
	level := (n - 1) / 2
	if level > 3 {
		level = 3
	}

	switch level {
	case 0:
		w.log.Warn("agent unhealthy", "agent", a.Name, "condition", cond.String(), "consecutive", n)
		_ = events.LogAt(w.root, events.TypeStale, a.Name, map[string]any{"condition": cond.String()})
	case 1:
		w.nudge(a, cond)
	case 2:
		w.triage(a, cond)
	case 3:
		w.terminate(a, cond)
	}
}

// classify applies the liveness and staleness rules.
func (w *Watchdog) classify(a *agent.Agent) Condition {
	alive, err := w.tmux.HasSession(a.Session)
	if err != nil {
		w.log.Error("checking session", "agent", a.Name, "err", err)
		return Healthy // don't escalate on observation failure
	}
	if !alive {
		// A dead session with no worker_done report is a zombie.
		if !w.reportedDone(a) {
			return Zombie
		}
		return Healthy
	}

	last, ok, err := w.store.LastActivity(a.Name)
	if err != nil {
		w.log.Error("querying activity", "agent", a.Name, "err", err)
		return Healthy
	}
	if !ok {
		last = a.SpawnedAt
	}

	silence := w.timeNow().Sub(last)
	switch {
	case silence > w.cfg.ZombieThreshold():
		return Zombie
	case silence > w.cfg.StaleThreshold():
		return Stale
	}
	return Healthy
}

// reportedDone checks whether the agent already announced worker_done.
func (w *Watchdog) reportedDone(a *agent.Agent) bool {
	msgs, err := w.store.List(mail.ListFilter{From: a.Name, Limit: 50})
	if err != nil {
		return false
	}
	for _, m := range msgs {
		if m.Type == mail.TypeWorkerDone {
			return true
		}
	}
	return false
}

// nudge sends a wake-up line into the agent's session.
func (w *Watchdog) nudge(a *agent.Agent, cond Condition) {
	text := fmt.Sprintf("Watchdog: you look %s (no mail activity). Reply by mail with a status update or continue working.", cond)
	if err := w.tmux.SendKeys(a.Session, text); err != nil {
		w.log.Error("nudging agent", "agent", a.Name, "err", err)
		return
	}
	w.log.Info("nudged agent", "agent", a.Name, "condition", cond.String())
	_ = events.LogAt(w.root, events.TypeNudge, a.Name, map[string]any{"condition": cond.String()})
}

// triage captures recent session output and asks the assistant to
// classify the situation: retry, terminate, or extend.
func (w *Watchdog) triage(a *agent.Agent, cond Condition) {
	transcript, err := w.tmux.CapturePane(a.Session, triageLines)
	if err != nil {
		transcript = fmt.Sprintf("(capture failed: %v)", err)
	}

	prompt := fmt.Sprintf(`An autonomous coding agent named %s (capability %s, task %s) appears %s:
no mail activity and no visible progress. Below are the last %d lines of
its terminal. Answer with exactly one word — retry, terminate, or extend.

%s`, a.Name, a.Capability, a.TaskID, cond, triageLines, transcript)

	verdict := w.askTriage(prompt)
	w.log.Info("triage verdict", "agent", a.Name, "verdict", string(verdict))
	_ = events.LogAt(w.root, events.TypeTriage, a.Name, map[string]any{"verdict": string(verdict)})

	switch verdict {
	case VerdictTerminate:
		w.terminate(a, cond)
	case VerdictExtend:
		w.extended[a.Name] = true
	case VerdictRetry:
		w.nudge(a, cond)
	}
}

// askTriage runs the assistant and normalizes its answer. An unusable
// answer defaults to retry: killing on garbage output is worse than one
// more nudge.
func (w *Watchdog) askTriage(prompt string) TriageVerdict {
	ctx, cancel := context.WithTimeout(context.Background(), triageTimeout)
	defer cancel()

	res, err := w.run.RunContext(ctx, w.root, prompt, w.aiArgv...)
	if err != nil || !res.Ok() {
		return VerdictRetry
	}

	answer := strings.ToLower(strings.TrimSpace(res.Stdout))
	switch {
	case strings.Contains(answer, string(VerdictTerminate)):
		return VerdictTerminate
	case strings.Contains(answer, string(VerdictExtend)):
		return VerdictExtend
	}
	return VerdictRetry
}

// terminate kills the agent via the lifecycle manager's teardown.
func (w *Watchdog) terminate(a *agent.Agent, cond Condition) {
	w.log.Warn("terminating agent", "agent", a.Name, "condition", cond.String())
	if err := w.agents.Teardown(a.Name); err != nil {
		w.log.Error("teardown", "agent", a.Name, "err", err)
	}
	_ = events.LogAt(w.root, events.TypeKill, a.Name, map[string]any{"condition": cond.String()})
	delete(w.consecutive, a.Name)
	delete(w.extended, a.Name)
}
