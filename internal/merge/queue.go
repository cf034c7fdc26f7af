// Package merge implements the merge queue and the four-tier conflict
// resolver that lands agent branches on the canonical branch.
package merge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/cellexec/overstory/internal/constants"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusMerged  Status = "merged"
	StatusFailed  Status = "failed"
)

// Tier names one level of the escalation ladder.
type Tier string

const (
	TierCleanMerge  Tier = "clean-merge"
	TierAutoResolve Tier = "auto-resolve"
	TierAIResolve   Tier = "ai-resolve"
	TierReimagine   Tier = "reimagine"
)

// Entry is one branch waiting to land. The resolver mutates an entry
// exactly once, to a terminal status.
type Entry struct {
	BranchName    string    `json:"branch_name"`
	TaskID        string    `json:"task_id"`
	AgentName     string    `json:"agent_name"`
	FilesModified []string  `json:"files_modified"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Status        Status    `json:"status"`
	ResolvedTier  Tier      `json:"resolved_tier,omitempty"`
}

// queueFile is the persisted queue under .overstory/.
const queueFile = "merge-queue.json"

// Queue is a file-backed FIFO. Processing order is strict: EnqueuedAt
// ascending, tie-broken by branch name. A file lock serializes writers
// from separate processes.
type Queue struct {
	path string
	lock *flock.Flock
}

// NewQueue opens the queue for a project root.
func NewQueue(projectRoot string) *Queue {
	dir := filepath.Join(projectRoot, constants.StateDir)
	return &Queue{
		path: filepath.Join(dir, queueFile),
		lock: flock.New(filepath.Join(dir, "locks", "merge-queue.lock")),
	}
}

func (q *Queue) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(q.lock.Path()), 0755); err != nil {
		return fmt.Errorf("creating lock dir: %w", err)
	}
	if err := q.lock.Lock(); err != nil {
		return fmt.Errorf("locking merge queue: %w", err)
	}
	defer func() { _ = q.lock.Unlock() }()
	return fn()
}

func (q *Queue) load() ([]*Entry, error) {
	data, err := os.ReadFile(q.path) //nolint:gosec // G304: path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading merge queue: %w", err)
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing merge queue: %w", err)
	}
	return entries, nil
}

func (q *Queue) save(entries []*Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding merge queue: %w", err)
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil { //nolint:gosec // G306: queue is non-sensitive
		return fmt.Errorf("writing merge queue: %w", err)
	}
	return os.Rename(tmp, q.path)
}

// Enqueue appends a pending entry. Re-enqueueing a branch that already
// has a pending entry is a no-op (the orchestrator may observe the same
// worker_done twice before marking it handled).
func (q *Queue) Enqueue(e *Entry) error {
	return q.withLock(func() error {
		entries, err := q.load()
		if err != nil {
			return err
		}
		for _, existing := range entries {
			if existing.BranchName == e.BranchName && existing.Status == StatusPending {
				return nil
			}
		}
		if e.EnqueuedAt.IsZero() {
			e.EnqueuedAt = time.Now()
		}
		e.Status = StatusPending
		entries = append(entries, e)
		return q.save(entries)
	})
}

// Pending returns pending entries in processing order.
func (q *Queue) Pending() ([]*Entry, error) {
	entries, err := q.load()
	if err != nil {
		return nil, err
	}
	var pending []*Entry
	for _, e := range entries {
		if e.Status == StatusPending {
			pending = append(pending, e)
		}
	}
	sortEntries(pending)
	return pending, nil
}

// All returns every entry, processing order first.
func (q *Queue) All() ([]*Entry, error) {
	entries, err := q.load()
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	return entries, nil
}

// Update rewrites the stored entry matching e.BranchName with e's status
// and resolved tier. The first matching pending entry wins.
func (q *Queue) Update(e *Entry) error {
	return q.withLock(func() error {
		entries, err := q.load()
		if err != nil {
			return err
		}
		for _, existing := range entries {
			if existing.BranchName == e.BranchName && existing.Status == StatusPending {
				existing.Status = e.Status
				existing.ResolvedTier = e.ResolvedTier
				return q.save(entries)
			}
		}
		return fmt.Errorf("no pending entry for branch %s", e.BranchName)
	})
}

// sortEntries orders by EnqueuedAt ascending, then branch name.
func sortEntries(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
		}
		return entries[i].BranchName < entries[j].BranchName
	})
}
