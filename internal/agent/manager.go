package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/cellexec/overstory/internal/config"
	"github.com/cellexec/overstory/internal/constants"
	"github.com/cellexec/overstory/internal/events"
	"github.com/cellexec/overstory/internal/git"
	"github.com/cellexec/overstory/internal/guard"
	"github.com/cellexec/overstory/internal/mail"
	"github.com/cellexec/overstory/internal/overlay"
)

// Sessions is the slice of the tmux surface the manager needs. The
// watchdog declares its own, overlapping interface.
type Sessions interface {
	CreateSession(name, cwd, command string) (int, error)
	HasSession(name string) (bool, error)
	KillSession(name string) error
	SendKeys(name, text string) error
}

// Manager composes the worktree, guard, overlay and session layers into
// spawn/teardown. It exclusively owns live agent records, mirrored into
// the mailbox store for durability.
type Manager struct {
	root  string
	cfg   *config.Config
	git   *git.Git
	tmux  Sessions
	store *mail.Store

	// stagger overrides cfg.StaggerDelay in tests.
	stagger time.Duration
}

// NewManager creates a lifecycle manager for a project root.
func NewManager(root string, cfg *config.Config, g *git.Git, t Sessions, store *mail.Store) *Manager {
	return &Manager{
		root:    root,
		cfg:     cfg,
		git:     g,
		tmux:    t,
		store:   store,
		stagger: cfg.StaggerDelay(),
	}
}

// SetStagger overrides the beacon delay (tests).
func (m *Manager) SetStagger(d time.Duration) {
	m.stagger = d
}

// worktreeBase is where agent checkouts live.
func (m *Manager) worktreeBase() string {
	return filepath.Join(m.root, constants.StateDir, "worktrees")
}

// lock returns the per-agent file lock that makes spawn and teardown for
// one name mutually exclusive across processes.
func (m *Manager) lock(name string) (*flock.Flock, error) {
	dir := filepath.Join(m.root, constants.StateDir, "locks")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	return flock.New(filepath.Join(dir, "agent-"+name+".lock")), nil
}

// validate applies the hierarchy policy before any side effects.
func (m *Manager) validate(req SpawnRequest) error {
	if req.Name == "" {
		return fmt.Errorf("%w: agent name is empty", ErrValidation)
	}
	if strings.ContainsAny(req.Name, "/:. ") {
		return fmt.Errorf("%w: agent name %q contains unsafe characters", ErrValidation, req.Name)
	}
	if req.TaskID == "" {
		return fmt.Errorf("%w: task id is empty", ErrValidation)
	}
	if req.Depth < 0 {
		return fmt.Errorf("%w: negative depth", ErrValidation)
	}
	if req.Depth > m.cfg.MaxDepth {
		return fmt.Errorf("%w: depth %d exceeds max depth %d", ErrValidation, req.Depth, m.cfg.MaxDepth)
	}
	if req.Capability.IsLeaf() && req.Parent == "" {
		return fmt.Errorf("%w: capability %s requires a parent", ErrValidation, req.Capability)
	}
	return nil
}

// Spawn brings up one agent. Each step is fatal on failure and triggers
// compensating teardown of everything already done:
//
//  1. hierarchy validation and name-collision check
//  2. worktree on a fresh branch
//  3. overlay
//  4. guard policy
//  5. detached session
//  6. task beacon after the stagger delay
func (m *Manager) Spawn(req SpawnRequest) (*Agent, error) {
	if err := m.validate(req); err != nil {
		return nil, err
	}

	lk, err := m.lock(req.Name)
	if err != nil {
		return nil, err
	}
	if err := lk.Lock(); err != nil {
		return nil, fmt.Errorf("locking agent %s: %w", req.Name, err)
	}
	defer func() { _ = lk.Unlock() }()

	sessionName := constants.SessionName(req.Name)
	if alive, err := m.tmux.HasSession(sessionName); err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	} else if alive {
		return nil, fmt.Errorf("%w: session %s is live", ErrAgentExists, sessionName)
	}

	baseBranch := req.BaseBranch
	if baseBranch == "" {
		baseBranch = m.cfg.CanonicalBranch
	}

	path, branch, err := m.git.AddAgentWorktree(git.CreateOptions{
		BaseDir:    m.worktreeBase(),
		AgentName:  req.Name,
		TaskID:     req.TaskID,
		BaseBranch: baseBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("creating worktree: %w", err)
	}

	// From here on, failure must undo what already exists.
	fail := func(step string, err error) (*Agent, error) {
		m.compensate(req.Name, path)
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	canSpawn := req.Capability.CanSpawn() && req.Depth < m.cfg.MaxDepth-1
	if err := overlay.Write(path, overlay.Params{
		AgentName:  req.Name,
		Capability: string(req.Capability),
		TaskID:     req.TaskID,
		Depth:      req.Depth,
		CanSpawn:   canSpawn,
		SpecPath:   req.SpecPath,
		FileScope:  req.FileScope,
	}); err != nil {
		return fail("materializing overlay", err)
	}

	policy := guard.Build(req.Name, string(req.Capability), path, m.cfg.CanonicalBranch)
	if err := guard.Deploy(m.root, path, policy); err != nil {
		return fail("deploying guards", err)
	}

	// The session's environment names the agent and the project root for
	// mail sender detection and root lookup inside the session.
	command := fmt.Sprintf("OVERSTORY_AGENT=%s OVERSTORY_ROOT='%s' %s",
		req.Name, strings.ReplaceAll(m.root, "'", `'\''`), strings.Join(m.cfg.Agent.Command, " "))
	pid, err := m.tmux.CreateSession(sessionName, path, command)
	if err != nil {
		return fail("creating session", err)
	}

	a := &Agent{
		Name:       req.Name,
		Capability: req.Capability,
		TaskID:     req.TaskID,
		Parent:     req.Parent,
		Depth:      req.Depth,
		Branch:     branch,
		Worktree:   path,
		Session:    sessionName,
		SessionPID: pid,
		CanSpawn:   canSpawn,
		SpawnedAt:  time.Now(),
	}

	if err := m.store.SaveAgent(record(a)); err != nil {
		return fail("mirroring agent record", err)
	}

	// The beacon waits out the stagger delay so the assistant's TUI is
	// ready to accept input.
	if m.stagger > 0 {
		time.Sleep(m.stagger)
	}
	if err := m.tmux.SendKeys(sessionName, beacon(req)); err != nil {
		return fail("sending task beacon", err)
	}

	_ = events.LogAt(m.root, events.TypeSpawn, req.Name, map[string]any{
		"capability": string(req.Capability),
		"task":       req.TaskID,
		"branch":     branch,
	})
	return a, nil
}

// beacon is the initial prompt that causes the assistant to start work.
func beacon(req SpawnRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Read %s for your brief. You are %s working task %s.",
		overlay.FileName, req.Name, req.TaskID)
	if req.SpecPath != "" {
		fmt.Fprintf(&sb, " The task spec is at %s.", req.SpecPath)
	}
	sb.WriteString(" Begin.")
	return sb.String()
}

// compensate undoes a partial spawn. Best-effort: spawn reports the
// original error, not cleanup noise.
func (m *Manager) compensate(name, worktreePath string) {
	_ = m.tmux.KillSession(constants.SessionName(name))
	_ = m.git.RemoveWorktree(worktreePath)
	_ = guard.Remove(m.root, name)
	_ = m.store.DeleteAgent(name)
}

// Teardown dismantles an agent: kill the session if alive, then remove
// the worktree, guards, and the durable record. Best-effort and
// idempotent — failures are collected and reported together but never
// stop the remaining steps.
func (m *Manager) Teardown(name string) error {
	lk, err := m.lock(name)
	if err != nil {
		return err
	}
	if err := lk.Lock(); err != nil {
		return fmt.Errorf("locking agent %s: %w", name, err)
	}
	defer func() { _ = lk.Unlock() }()

	var problems []string

	sessionName := constants.SessionName(name)
	if alive, err := m.tmux.HasSession(sessionName); err != nil {
		problems = append(problems, fmt.Sprintf("checking session: %v", err))
	} else if alive {
		if err := m.tmux.KillSession(sessionName); err != nil {
			problems = append(problems, fmt.Sprintf("killing session: %v", err))
		}
	}

	worktreePath := filepath.Join(m.worktreeBase(), name)
	if _, err := os.Stat(worktreePath); err == nil {
		if err := m.git.RemoveWorktree(worktreePath); err != nil {
			problems = append(problems, fmt.Sprintf("removing worktree: %v", err))
		}
	}

	if err := guard.Remove(m.root, name); err != nil {
		problems = append(problems, fmt.Sprintf("removing guards: %v", err))
	}
	if err := m.store.DeleteAgent(name); err != nil {
		problems = append(problems, fmt.Sprintf("deleting record: %v", err))
	}

	_ = events.LogAt(m.root, events.TypeTeardown, name, nil)

	if len(problems) > 0 {
		return fmt.Errorf("teardown of %s finished with problems: %s", name, strings.Join(problems, "; "))
	}
	return nil
}

// List returns the durable records of live agents.
func (m *Manager) List() ([]*Agent, error) {
	records, err := m.store.ListAgents()
	if err != nil {
		return nil, err
	}
	agents := make([]*Agent, 0, len(records))
	for _, r := range records {
		agents = append(agents, fromRecord(r))
	}
	return agents, nil
}

// Get returns one live agent by name.
func (m *Manager) Get(name string) (*Agent, error) {
	r, err := m.store.GetAgent(name)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentMissing, name)
	}
	return fromRecord(r), nil
}

func record(a *Agent) *mail.AgentRecord {
	return &mail.AgentRecord{
		Name:       a.Name,
		Capability: string(a.Capability),
		TaskID:     a.TaskID,
		Parent:     a.Parent,
		Depth:      a.Depth,
		Branch:     a.Branch,
		Worktree:   a.Worktree,
		Session:    a.Session,
		SessionPID: a.SessionPID,
		CanSpawn:   a.CanSpawn,
		SpawnedAt:  a.SpawnedAt,
	}
}

func fromRecord(r *mail.AgentRecord) *Agent {
	return &Agent{
		Name:       r.Name,
		Capability: Capability(r.Capability),
		TaskID:     r.TaskID,
		Parent:     r.Parent,
		Depth:      r.Depth,
		Branch:     r.Branch,
		Worktree:   r.Worktree,
		Session:    r.Session,
		SessionPID: r.SessionPID,
		CanSpawn:   r.CanSpawn,
		SpawnedAt:  r.SpawnedAt,
	}
}
