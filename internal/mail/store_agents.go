package mail

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AgentRecord is the durable mirror of a live agent. The lifecycle
// manager owns these rows; other processes (status, watchdog) only read.
type AgentRecord struct {
	Name       string
	Capability string
	TaskID     string
	Parent     string
	Depth      int
	Branch     string
	Worktree   string
	Session    string
	SessionPID int
	CanSpawn   bool
	SpawnedAt  time.Time
}

// SaveAgent upserts an agent record.
func (s *Store) SaveAgent(a *AgentRecord) error {
	_, err := s.db.Exec(`INSERT INTO agents
		(name, capability, task_id, parent, depth, branch, worktree, session, session_pid, can_spawn, spawned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			capability = excluded.capability,
			task_id = excluded.task_id,
			parent = excluded.parent,
			depth = excluded.depth,
			branch = excluded.branch,
			worktree = excluded.worktree,
			session = excluded.session,
			session_pid = excluded.session_pid,
			can_spawn = excluded.can_spawn,
			spawned_at = excluded.spawned_at`,
		a.Name, a.Capability, a.TaskID, a.Parent, a.Depth, a.Branch, a.Worktree,
		a.Session, a.SessionPID, boolToInt(a.CanSpawn), a.SpawnedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving agent record: %w", err)
	}
	return nil
}

// DeleteAgent removes an agent record. Deleting a missing record is fine:
// teardown is idempotent.
func (s *Store) DeleteAgent(name string) error {
	if _, err := s.db.Exec(`DELETE FROM agents WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting agent record: %w", err)
	}
	return nil
}

// GetAgent returns one agent record or nil if absent.
func (s *Store) GetAgent(name string) (*AgentRecord, error) {
	row := s.db.QueryRow(`SELECT name, capability, task_id, parent, depth, branch, worktree, session, session_pid, can_spawn, spawned_at
		FROM agents WHERE name = ?`, name)
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading agent record: %w", err)
	}
	return a, nil
}

// ListAgents returns all mirrored agent records, oldest spawn first.
func (s *Store) ListAgents() ([]*AgentRecord, error) {
	rows, err := s.db.Query(`SELECT name, capability, task_id, parent, depth, branch, worktree, session, session_pid, can_spawn, spawned_at
		FROM agents ORDER BY spawned_at ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing agent records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []*AgentRecord
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func scanAgent(r rowScanner) (*AgentRecord, error) {
	var (
		a         AgentRecord
		canSpawn  int
		spawnedAt int64
	)
	err := r.Scan(&a.Name, &a.Capability, &a.TaskID, &a.Parent, &a.Depth,
		&a.Branch, &a.Worktree, &a.Session, &a.SessionPID, &canSpawn, &spawnedAt)
	if err != nil {
		return nil, err
	}
	a.CanSpawn = canSpawn != 0
	a.SpawnedAt = time.UnixMilli(spawnedAt)
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
