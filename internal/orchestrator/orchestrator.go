// Package orchestrator glues the lifecycle manager, mailbox, merge
// pipeline and watchdog into the long-running event loop. It has no
// domain logic of its own.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cellexec/overstory/internal/agent"
	"github.com/cellexec/overstory/internal/constants"
	"github.com/cellexec/overstory/internal/events"
	"github.com/cellexec/overstory/internal/mail"
	"github.com/cellexec/overstory/internal/merge"
)

// pollInterval is the fallback cadence when the filesystem watcher can't
// deliver wakeups (fsnotify is an accelerator, never a requirement).
const pollInterval = 10 * time.Second

// Orchestrator runs the event loop.
type Orchestrator struct {
	root      string
	canonical string
	client    *mail.Client
	agents    *agent.Manager
	queue     *merge.Queue
	resolver  *merge.Resolver
	log       *slog.Logger
}

// New builds an orchestrator from explicitly-constructed components.
func New(root, canonical string, client *mail.Client, agents *agent.Manager, queue *merge.Queue, resolver *merge.Resolver, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		root:      root,
		canonical: canonical,
		client:    client,
		agents:    agents,
		queue:     queue,
		resolver:  resolver,
		log:       log,
	}
}

// Run loops until the context is cancelled: observe worker_done mail,
// enqueue merges, drain the queue, report results. In-flight resolution
// finishes before Run returns; workers stay running for reattachment.
func (o *Orchestrator) Run(ctx context.Context) error {
	wake := o.watch(ctx)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	o.log.Info("orchestrator started", "root", o.root)
	for {
		o.Tick()

		select {
		case <-ctx.Done():
			o.log.Info("orchestrator stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
			// Coalesce bursts: one tick per wakeup is enough.
		}
	}
}

// watch starts a filesystem watcher on the mailbox WAL and the nudge dir
// as a wakeup signal. Returns a nil-safe channel; on any watcher error
// the poll ticker carries the loop alone.
func (o *Orchestrator) watch(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		o.log.Warn("fsnotify unavailable, polling only", "err", err)
		return wake
	}

	stateDir := filepath.Join(o.root, constants.StateDir)
	for _, p := range []string{stateDir, filepath.Join(stateDir, mail.NudgeDir)} {
		if err := watcher.Add(p); err != nil {
			o.log.Debug("watch add failed", "path", p, "err", err)
		}
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return wake
}

// Tick runs one observation + drain pass. Exported for the `merge` CLI
// command and tests.
func (o *Orchestrator) Tick() {
	o.collectWorkerDone()
	o.drainQueue()
}

// collectWorkerDone turns unread worker_done protocol mail addressed to
// the orchestrator into merge queue entries. The message is marked read
// once enqueued so it is observed exactly once.
func (o *Orchestrator) collectWorkerDone() {
	msgs, err := o.client.List(mail.ListFilter{To: constants.OrchestratorName, UnreadOnly: true})
	if err != nil {
		o.log.Error("listing orchestrator mail", "err", err)
		return
	}

	// Newest-first from the store; enqueue oldest-first so EnqueuedAt
	// ordering matches arrival.
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Type != mail.TypeWorkerDone {
			continue
		}
		payload, err := mail.ParseWorkerDone(msg)
		if err != nil {
			o.log.Error("bad worker_done payload", "id", msg.ID, "err", err)
			_ = o.client.MarkRead(msg.ID)
			continue
		}

		branch := payload.Branch
		if branch == "" {
			branch = constants.BranchName(payload.Agent, payload.TaskID)
		}
		entry := &merge.Entry{
			BranchName:    branch,
			TaskID:        payload.TaskID,
			AgentName:     payload.Agent,
			FilesModified: payload.FilesModified,
			EnqueuedAt:    msg.CreatedAt,
		}
		if err := o.queue.Enqueue(entry); err != nil {
			o.log.Error("enqueueing merge", "branch", branch, "err", err)
			continue
		}
		o.log.Info("merge enqueued", "branch", branch, "agent", payload.Agent)

		if err := o.client.MarkRead(msg.ID); err != nil && !errors.Is(err, mail.ErrAlreadyRead) {
			o.log.Error("marking worker_done read", "id", msg.ID, "err", err)
		}
	}
}

// drainQueue resolves pending entries strictly in order, one at a time.
func (o *Orchestrator) drainQueue() {
	pending, err := o.queue.Pending()
	if err != nil {
		o.log.Error("reading merge queue", "err", err)
		return
	}

	for _, entry := range pending {
		result := o.resolver.Resolve(entry)
		if err := o.queue.Update(entry); err != nil {
			o.log.Error("recording merge result", "branch", entry.BranchName, "err", err)
		}
		o.report(result)
	}
}

// report sends the outcome back to the agent's parent (or the
// orchestrator's own inbox when there is no parent) and, on success,
// tears down the finished agent's worktree and session.
func (o *Orchestrator) report(result *merge.Result) {
	entry := result.Entry

	parent := constants.OrchestratorName
	if a, err := o.agents.Get(entry.AgentName); err == nil && a.Parent != "" {
		parent = a.Parent
	}

	if result.Success {
		o.log.Info("merge succeeded", "branch", entry.BranchName, "tier", string(result.Tier))
		_ = events.LogAt(o.root, events.TypeMergeOk, entry.AgentName, map[string]any{
			"branch": entry.BranchName,
			"tier":   string(result.Tier),
		})

		msg, err := mail.NewMerged(constants.OrchestratorName, parent, mail.MergedPayload{
			Agent:        entry.AgentName,
			TaskID:       entry.TaskID,
			Branch:       entry.BranchName,
			Tier:         string(result.Tier),
			TargetBranch: o.canonical,
			MergedAt:     time.Now(),
		})
		if err == nil {
			if _, err := o.client.Send(msg); err != nil {
				o.log.Error("sending merged mail", "err", err)
			}
		}

		// The task is closed: clean up the worker.
		if err := o.agents.Teardown(entry.AgentName); err != nil {
			o.log.Warn("post-merge teardown", "agent", entry.AgentName, "err", err)
		}
		return
	}

	o.log.Error("merge failed", "branch", entry.BranchName, "err", result.ErrorMessage)
	_ = events.LogAt(o.root, events.TypeMergeFail, entry.AgentName, map[string]any{
		"branch": entry.BranchName,
		"error":  result.ErrorMessage,
	})

	msg, err := mail.NewEscalation(constants.OrchestratorName, parent, mail.EscalationPayload{
		Agent:  entry.AgentName,
		TaskID: entry.TaskID,
		Branch: entry.BranchName,
		Reason: "merge failed at all tiers",
		Detail: result.ErrorMessage,
	})
	if err == nil {
		if _, err := o.client.Send(msg); err != nil {
			o.log.Error("sending escalation mail", "err", err)
		}
	}
}
