package mail

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/cellexec/overstory/internal/constants"
)

// timeNow returns the current time. Overridden in tests.
var timeNow = time.Now

// Common store errors.
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrAlreadyRead     = errors.New("message already read")
)

// DBFile is the mailbox database name under .overstory/.
const DBFile = "mail.db"

// schema creates the message log and the durable agent-record mirror.
// The (to, read_at) index serves unread-per-recipient queries; the two
// created_at indexes serve chronological listings.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	from_agent  TEXT NOT NULL,
	to_agent    TEXT NOT NULL,
	subject     TEXT NOT NULL,
	body        TEXT NOT NULL,
	type        TEXT NOT NULL,
	priority    TEXT NOT NULL,
	payload     BLOB,
	created_at  INTEGER NOT NULL,
	read_at     INTEGER,
	in_reply_to TEXT REFERENCES messages(id)
);
CREATE INDEX IF NOT EXISTS idx_messages_to_unread ON messages(to_agent, read_at);
CREATE INDEX IF NOT EXISTS idx_messages_to_created ON messages(to_agent, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_from_created ON messages(from_agent, created_at);

CREATE TABLE IF NOT EXISTS agents (
	name        TEXT PRIMARY KEY,
	capability  TEXT NOT NULL,
	task_id     TEXT NOT NULL,
	parent      TEXT NOT NULL DEFAULT '',
	depth       INTEGER NOT NULL,
	branch      TEXT NOT NULL,
	worktree    TEXT NOT NULL,
	session     TEXT NOT NULL,
	session_pid INTEGER NOT NULL,
	can_spawn   INTEGER NOT NULL,
	spawned_at  INTEGER NOT NULL
);
`

// Store is the multi-process-safe mailbox backed by a single sqlite file
// in WAL mode. All mutating operations run in a transaction; the store is
// the sole source of id uniqueness.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the mailbox for a project root.
func Open(projectRoot string) (*Store, error) {
	return OpenPath(filepath.Join(projectRoot, constants.StateDir, DBFile))
}

// OpenPath opens a mailbox at an explicit path. Tests point this at a
// temp directory.
func OpenPath(path string) (*Store, error) {
	// WAL makes concurrent writers from separate agent processes safe;
	// busy_timeout makes them wait instead of failing fast.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mailbox: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing mailbox schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// newID returns a time-ordered unique message id. UUIDv7 embeds a
// millisecond timestamp, so ids sort lexicographically in send order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source is broken; fall back to
		// random rather than failing a send.
		return uuid.NewString()
	}
	return id.String()
}

// Send persists a message and returns its store-assigned id. The caller's
// ID, CreatedAt, and ReadAt fields are ignored.
func (s *Store) Send(msg *Message) (string, error) {
	if msg.From == "" || msg.To == "" {
		return "", fmt.Errorf("message requires from and to")
	}
	if msg.Type == "" {
		msg.Type = TypeStatus
	}
	if msg.Priority == "" {
		msg.Priority = PriorityNormal
	}

	id := newID()
	now := timeNow().UnixMilli()

	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("sending mail: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var replyTo any
	if msg.InReplyTo != "" {
		replyTo = msg.InReplyTo
	}

	_, err = tx.Exec(`INSERT INTO messages
		(id, from_agent, to_agent, subject, body, type, priority, payload, created_at, read_at, in_reply_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		id, msg.From, msg.To, msg.Subject, msg.Body, string(msg.Type), string(msg.Priority),
		msg.Payload, now, replyTo)
	if err != nil {
		return "", fmt.Errorf("sending mail: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sending mail: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = time.UnixMilli(now)
	msg.ReadAt = nil
	return id, nil
}

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	From       string
	To         string
	UnreadOnly bool
	Limit      int
}

// List returns messages newest-first.
func (s *Store) List(f ListFilter) ([]*Message, error) {
	var where []string
	var args []any
	if f.From != "" {
		where = append(where, "from_agent = ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, "to_agent = ?")
		args = append(args, f.To)
	}
	if f.UnreadOnly {
		where = append(where, "read_at IS NULL")
	}

	q := `SELECT id, from_agent, to_agent, subject, body, type, priority, payload, created_at, read_at, in_reply_to
		FROM messages`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing mail: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (*Message, error) {
	var (
		msg       Message
		msgType   string
		priority  string
		createdAt int64
		readAt    sql.NullInt64
		replyTo   sql.NullString
	)
	err := r.Scan(&msg.ID, &msg.From, &msg.To, &msg.Subject, &msg.Body,
		&msgType, &priority, &msg.Payload, &createdAt, &readAt, &replyTo)
	if err != nil {
		return nil, err
	}
	msg.Type = MessageType(msgType)
	msg.Priority = Priority(priority)
	msg.CreatedAt = time.UnixMilli(createdAt)
	if readAt.Valid {
		t := time.UnixMilli(readAt.Int64)
		msg.ReadAt = &t
	}
	if replyTo.Valid {
		msg.InReplyTo = replyTo.String
	}
	return &msg, nil
}

// Get returns a message by id.
func (s *Store) Get(id string) (*Message, error) {
	row := s.db.QueryRow(`SELECT id, from_agent, to_agent, subject, body, type, priority, payload, created_at, read_at, in_reply_to
		FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("loading message: %w", err)
	}
	return msg, nil
}

// MarkRead stamps a message read. Idempotent: a second call returns
// ErrAlreadyRead so the CLI can report it, without changing the stamp.
// The stamp never moves backward, preserving read_at >= created_at.
func (s *Store) MarkRead(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var createdAt int64
	var readAt sql.NullInt64
	err = tx.QueryRow(`SELECT created_at, read_at FROM messages WHERE id = ?`, id).Scan(&createdAt, &readAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("marking read: %w", err)
	}
	if readAt.Valid {
		return ErrAlreadyRead
	}

	now := timeNow().UnixMilli()
	if now < createdAt {
		// Clock skew between processes; clamp to preserve the invariant.
		now = createdAt
	}
	if _, err := tx.Exec(`UPDATE messages SET read_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	return tx.Commit()
}

// MarkUnread clears the read stamp.
func (s *Store) MarkUnread(id string) error {
	res, err := s.db.Exec(`UPDATE messages SET read_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking unread: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking unread: %w", err)
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Reply creates a reply to an existing message and returns the new id.
// The recipient is computed from the thread: replying to your own
// message goes back to its recipient, anything else goes back to the
// sender. Subject gains a "Re: " prefix unless it already has one.
func (s *Store) Reply(originalID, from, body string) (string, error) {
	original, err := s.Get(originalID)
	if err != nil {
		return "", err
	}

	to := original.From
	if from == original.From {
		to = original.To
	}

	subject := original.Subject
	if !strings.HasPrefix(subject, "Re: ") {
		subject = "Re: " + subject
	}

	return s.Send(&Message{
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
		Type:      TypeStatus,
		Priority:  PriorityNormal,
		InReplyTo: originalID,
	})
}

// CountUnread returns the number of unread messages for a recipient.
func (s *Store) CountUnread(to string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE to_agent = ? AND read_at IS NULL`, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// LastActivity returns the created_at of the most recent message sent BY
// an agent, for watchdog staleness checks. ok is false if the agent has
// never sent mail.
func (s *Store) LastActivity(from string) (time.Time, bool, error) {
	var createdAt int64
	err := s.db.QueryRow(`SELECT created_at FROM messages WHERE from_agent = ? ORDER BY created_at DESC LIMIT 1`, from).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("querying activity: %w", err)
	}
	return time.UnixMilli(createdAt), true, nil
}
